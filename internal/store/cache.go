package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"collabhub/internal/models"
	"collabhub/internal/utils"
)

// CachedStore is a read-through Redis cache in front of another Store.
// Cache failures are logged and bypassed.
type CachedStore struct {
	next Store
	rdb  *redis.Client
	ttl  time.Duration
	log  *utils.Logger
}

func NewCachedStore(next Store, rdb *redis.Client, ttl time.Duration, log *utils.Logger) *CachedStore {
	return &CachedStore{next: next, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(id string) string { return "doc:" + id }

func (s *CachedStore) Fetch(ctx context.Context, id string) (models.Document, error) {
	data, err := s.rdb.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var doc models.Document
		if jsonErr := json.Unmarshal(data, &doc); jsonErr == nil {
			return doc, nil
		}
		s.log.Warn("discarding undecodable cache entry", "doc", id)
	case !errors.Is(err, redis.Nil):
		s.log.Warn("document cache unavailable", "doc", id, "error", err.Error())
	}

	doc, err := s.next.Fetch(ctx, id)
	if err != nil {
		return models.Document{}, err
	}
	s.put(ctx, doc)
	return doc, nil
}

func (s *CachedStore) Save(ctx context.Context, id, content, title string) error {
	if err := s.next.Save(ctx, id, content, title); err != nil {
		if delErr := s.rdb.Del(ctx, cacheKey(id)).Err(); delErr != nil {
			s.log.Warn("document cache invalidation failed", "doc", id, "error", delErr.Error())
		}
		return err
	}
	s.put(ctx, models.Document{ID: id, Title: title, Content: content})
	return nil
}

func (s *CachedStore) put(ctx context.Context, doc models.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(doc.ID), data, s.ttl).Err(); err != nil {
		s.log.Warn("document cache write failed", "doc", doc.ID, "error", err.Error())
	}
}
