package catalog

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/frostline/updated/pkg/apperr"
)

// ParseID parses a hex entity id from the transport layer.
func ParseID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.Validation("id: invalid identifier %q", hex)
	}
	return id, nil
}

// counterDoc is the single document carrying the highest allocated
// semantic tuple. It replaces the historical lock-document scheme: the
// read-increment-write happens in one atomic aggregation pipeline.
type counterDoc struct {
	Major    int32 `bson:"major"`
	Minor    int32 `bson:"minor"`
	Revision int32 `bson:"revision"`
}

// allocateVersionNumber atomically assigns the next semantic tuple for
// the requested bump type. The very first allocation in an empty
// catalog yields 1.0.0 regardless of the bump type; later allocations
// increment the selected slot and zero the slots below it.
func (s *Store) allocateVersionNumber(ctx context.Context, bump BumpType) (counterDoc, error) {
	isNew := bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$major"}}, "missing"}}}
	cond := func(then, els any) bson.D {
		return bson.D{{Key: "$cond", Value: bson.A{isNew, then, els}}}
	}

	var major, minor, revision any
	switch bump {
	case BumpMajor:
		major = bson.D{{Key: "$add", Value: bson.A{"$major", 1}}}
		minor = 0
		revision = 0
	case BumpMinor:
		major = "$major"
		minor = bson.D{{Key: "$add", Value: bson.A{"$minor", 1}}}
		revision = 0
	default: // BumpRevision
		major = "$major"
		minor = "$minor"
		revision = bson.D{{Key: "$add", Value: bson.A{"$revision", 1}}}
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "major", Value: cond(1, major)},
			{Key: "minor", Value: cond(0, minor)},
			{Key: "revision", Value: cond(0, revision)},
		}}},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc counterDoc
	err := s.counters.FindOneAndUpdate(ctx, bson.M{"_id": "version"}, pipeline, opts).Decode(&doc)
	if err != nil {
		return counterDoc{}, apperr.Dependency("mongodb", err)
	}
	return doc, nil
}

// CreateVersion allocates the next semantic tuple and inserts the
// Version row in PENDING state.
func (s *Store) CreateVersion(ctx context.Context, bump BumpType, description string) (*Version, error) {
	number, err := s.allocateVersionNumber(ctx, bump)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	v := &Version{
		ID:          primitive.NewObjectID(),
		Major:       number.Major,
		Minor:       number.Minor,
		Revision:    number.Revision,
		Description: description,
		State:       VersionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := s.versions.InsertOne(ctx, v); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperr.Conflict("version %s already exists", v.Semantic())
		}
		return nil, apperr.Dependency("mongodb", err)
	}
	return v, nil
}

// GetVersion fetches one version by id.
func (s *Store) GetVersion(ctx context.Context, id primitive.ObjectID) (*Version, error) {
	var v Version
	err := s.versions.FindOne(ctx, bson.M{"_id": id}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("version", id.Hex())
	}
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	return &v, nil
}

// UpdateVersionDescription replaces the description of a version.
func (s *Store) UpdateVersionDescription(ctx context.Context, id primitive.ObjectID, description string) error {
	res, err := s.versions.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"description": description, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return apperr.Dependency("mongodb", err)
	}
	if res.MatchedCount == 0 {
		return apperr.NotFound("version", id.Hex())
	}
	return nil
}

// CASVersionState advances the version state from the expected previous
// state. Losing the compare-and-set is a Conflict; state never goes
// backward.
func (s *Store) CASVersionState(ctx context.Context, id primitive.ObjectID, from, to VersionState) error {
	res, err := s.versions.UpdateOne(ctx,
		bson.M{"_id": id, "state": from},
		bson.M{"$set": bson.M{"state": to, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return apperr.Dependency("mongodb", err)
	}
	if res.MatchedCount == 0 {
		return apperr.Conflict("version %s is not in state %s", id.Hex(), from)
	}
	return nil
}

// ListVersions returns one page of versions, newest first, together
// with the total count.
func (s *Store) ListVersions(ctx context.Context, page, size int64) ([]Version, int64, error) {
	total, err := s.versions.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, 0, apperr.Dependency("mongodb", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(page * size).
		SetLimit(size)

	cur, err := s.versions.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, 0, apperr.Dependency("mongodb", err)
	}
	defer cur.Close(ctx)

	versions := make([]Version, 0, size)
	if err := cur.All(ctx, &versions); err != nil {
		return nil, 0, apperr.Dependency("mongodb", err)
	}
	return versions, total, nil
}

// VersionsAfter returns all READY versions whose semantic tuple
// strictly exceeds the client's, in ascending created_at order.
func (s *Store) VersionsAfter(ctx context.Context, major, minor, revision int32) ([]Version, error) {
	filter := bson.M{
		"state": VersionReady,
		"$or": bson.A{
			bson.M{"major": bson.M{"$gt": major}},
			bson.M{"major": major, "minor": bson.M{"$gt": minor}},
			bson.M{"major": major, "minor": minor, "revision": bson.M{"$gt": revision}},
		},
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.versions.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	defer cur.Close(ctx)

	var versions []Version
	if err := cur.All(ctx, &versions); err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	return versions, nil
}
