package catalog

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/frostline/updated/pkg/apperr"
)

// ListServerURLs returns the public download mirror URLs.
func (s *Store) ListServerURLs(ctx context.Context) ([]string, error) {
	cur, err := s.servers.Find(ctx, bson.M{})
	if err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}
	defer cur.Close(ctx)

	var servers []Server
	if err := cur.All(ctx, &servers); err != nil {
		return nil, apperr.Dependency("mongodb", err)
	}

	urls := make([]string, 0, len(servers))
	for _, srv := range servers {
		urls = append(urls, srv.URL)
	}
	return urls, nil
}
