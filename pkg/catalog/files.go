package catalog

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/frostline/updated/pkg/apperr"
)

// PublishVersion commits the output of a publish job: it inserts all
// packed file rows and flips the version PROCESSING -> READY inside one
// multi-document transaction. The transaction is the single
// serialization point making a version observable to the resolver; on
// any error it aborts and the version stays PROCESSING for re-drive.
func (s *Store) PublishVersion(ctx context.Context, versionID primitive.ObjectID, files []UpdateFile) error {
	session, err := s.client.StartSession()
	if err != nil {
		return apperr.Dependency("mongodb", err)
	}
	defer session.EndSession(ctx)

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(files))
	for i := range files {
		files[i].VersionID = versionID
		files[i].CreatedAt = now
		docs = append(docs, files[i])
	}

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if len(docs) > 0 {
			if _, err := s.files.InsertMany(sc, docs); err != nil {
				return nil, err
			}
		}

		res, err := s.versions.UpdateOne(sc,
			bson.M{"_id": versionID, "state": VersionProcessing},
			bson.M{"$set": bson.M{"state": VersionReady, "updated_at": now}},
		)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 0 {
			return nil, apperr.Conflict("version %s is not in state %s", versionID.Hex(), VersionProcessing)
		}
		return nil, nil
	})
	if err != nil {
		if apperr.IsConflict(err) {
			return err
		}
		return apperr.Dependency("mongodb", err)
	}
	return nil
}

// FilesForVersions streams the packed file rows belonging to any of the
// given versions and categories.
func (s *Store) FilesForVersions(ctx context.Context, versionIDs []primitive.ObjectID, categories []Category) ([]UpdateFile, error) {
	filter := bson.M{
		"version_id": bson.M{"$in": versionIDs},
		"category":   bson.M{"$in": categories},
	}

	cur, err := s.files.Find(ctx, filter)
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	defer cur.Close(ctx)

	var files []UpdateFile
	if err := cur.All(ctx, &files); err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	return files, nil
}

// CountFilesForVersion returns how many packed files a version owns.
func (s *Store) CountFilesForVersion(ctx context.Context, versionID primitive.ObjectID) (int64, error) {
	n, err := s.files.CountDocuments(ctx, bson.M{"version_id": versionID})
	if err != nil {
		return 0, apperr.Dependency("mongodb", err)
	}
	return n, nil
}
