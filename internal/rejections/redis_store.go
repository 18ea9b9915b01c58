// Package rejections provides durable per-document storage for dismissed
// grammar suggestions, keyed by fingerprint.
package rejections

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"navalingo/api/internal/review"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists rejection records in Redis, one hash per document.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "rejections:",
		ttl:    90 * 24 * time.Hour,
	}
}

func (s *RedisStore) key(documentID string) string {
	return s.prefix + documentID
}

// Put records a rejection for a document. Re-adding an existing fingerprint
// overwrites its payload.
func (s *RedisStore) Put(ctx context.Context, documentID, fingerprint string, payload review.RejectionPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal rejection payload: %w", err)
	}
	key := s.key(documentID)
	if err := s.client.HSet(ctx, key, fingerprint, data).Err(); err != nil {
		return fmt.Errorf("save rejection: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("refresh rejection ttl: %w", err)
	}
	return nil
}

// Has reports whether a fingerprint has been rejected for a document.
func (s *RedisStore) Has(ctx context.Context, documentID, fingerprint string) (bool, error) {
	exists, err := s.client.HExists(ctx, s.key(documentID), fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("check rejection: %w", err)
	}
	return exists, nil
}

// List returns every rejection payload recorded for a document.
func (s *RedisStore) List(ctx context.Context, documentID string) ([]review.RejectionPayload, error) {
	entries, err := s.client.HGetAll(ctx, s.key(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list rejections: %w", err)
	}
	items := make([]review.RejectionPayload, 0, len(entries))
	for _, raw := range entries {
		var payload review.RejectionPayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			continue
		}
		items = append(items, payload)
	}
	return items, nil
}

// RangeKeys returns the "start-end" keys of every rejection for a document,
// in the shape the correction backend expects in its rejection list.
func (s *RedisStore) RangeKeys(ctx context.Context, documentID string) ([]string, error) {
	items, err := s.List(ctx, documentID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.RangeKey]; ok {
			continue
		}
		seen[item.RangeKey] = struct{}{}
		keys = append(keys, item.RangeKey)
	}
	return keys, nil
}

// Clear drops every rejection recorded for a document.
func (s *RedisStore) Clear(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, s.key(documentID)).Err(); err != nil {
		return fmt.Errorf("clear rejections: %w", err)
	}
	return nil
}

// ForDocument loads the document's rejection fingerprints and returns a
// session-facing view over them. Reads are served from the loaded snapshot;
// writes go through to Redis fire-and-forget, matching the store's
// at-least-once contract.
func (s *RedisStore) ForDocument(ctx context.Context, documentID string) (review.RejectionStore, error) {
	entries, err := s.client.HGetAll(ctx, s.key(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load rejections: %w", err)
	}
	known := make(map[string]struct{}, len(entries))
	for fingerprint := range entries {
		known[fingerprint] = struct{}{}
	}
	return &documentView{store: s, documentID: documentID, known: known}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type documentView struct {
	store      *RedisStore
	documentID string
	known      map[string]struct{}
}

func (v *documentView) Has(fingerprint string) bool {
	_, ok := v.known[fingerprint]
	return ok
}

func (v *documentView) Put(fingerprint string, payload review.RejectionPayload) {
	v.known[fingerprint] = struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.store.Put(ctx, v.documentID, fingerprint, payload); err != nil {
		log.Printf("rejections: persist %s for document %s: %v", fingerprint, v.documentID, err)
	}
}
