package rejections

import (
	"context"
	"sync"

	"navalingo/api/internal/review"
)

// MemoryStore is an in-process RejectionStore used when Redis is not
// configured and in tests. Records do not survive a restart. Method
// signatures mirror RedisStore so either can back the application layer.
type MemoryStore struct {
	mu        sync.Mutex
	documents map[string]map[string]review.RejectionPayload
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{documents: make(map[string]map[string]review.RejectionPayload)}
}

func (s *MemoryStore) put(documentID, fingerprint string, payload review.RejectionPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[documentID]
	if !ok {
		doc = make(map[string]review.RejectionPayload)
		s.documents[documentID] = doc
	}
	doc[fingerprint] = payload
}

func (s *MemoryStore) has(documentID, fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.documents[documentID][fingerprint]
	return ok
}

// RangeKeys returns the deduplicated "start-end" keys recorded for a document.
func (s *MemoryStore) RangeKeys(_ context.Context, documentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.documents[documentID]))
	seen := make(map[string]struct{})
	for _, payload := range s.documents[documentID] {
		if _, ok := seen[payload.RangeKey]; ok {
			continue
		}
		seen[payload.RangeKey] = struct{}{}
		keys = append(keys, payload.RangeKey)
	}
	return keys, nil
}

// Clear drops every rejection recorded for a document.
func (s *MemoryStore) Clear(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, documentID)
	return nil
}

// ForDocument returns the session-facing view for one document.
func (s *MemoryStore) ForDocument(_ context.Context, documentID string) (review.RejectionStore, error) {
	return &memoryView{store: s, documentID: documentID}, nil
}

type memoryView struct {
	store      *MemoryStore
	documentID string
}

func (v *memoryView) Has(fingerprint string) bool {
	return v.store.has(v.documentID, fingerprint)
}

func (v *memoryView) Put(fingerprint string, payload review.RejectionPayload) {
	v.store.put(v.documentID, fingerprint, payload)
}
