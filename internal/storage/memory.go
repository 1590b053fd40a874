package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"framevault/internal/artifact"
)

// MemoryStore keeps encoded envelopes in a map. Storing the encoded form
// gives the same copy semantics as the durable backends: callers never share
// frame buffers with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
}

type memoryEntry struct {
	payload      []byte
	lastModified time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]memoryEntry)}
}

func (s *MemoryStore) Upload(ctx context.Context, a *artifact.Artifact) error {
	data, err := artifact.Encode(a)
	if err != nil {
		return fmt.Errorf("encoding artifact %d: %w", a.ItemID, err)
	}
	s.mu.Lock()
	s.entries[a.ItemID] = memoryEntry{payload: data, lastModified: time.Now().UTC()}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Download(ctx context.Context, itemID int64) (*artifact.Artifact, error) {
	s.mu.RLock()
	entry, ok := s.entries[itemID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	a, err := artifact.Decode(entry.payload)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact %d: %w", itemID, err)
	}
	return a, nil
}

func (s *MemoryStore) Stat(ctx context.Context, itemID int64) (*artifact.Meta, error) {
	s.mu.RLock()
	entry, ok := s.entries[itemID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	m, err := artifact.DecodeMeta(bytes.NewReader(entry.payload))
	if err != nil {
		return nil, fmt.Errorf("reading artifact %d metadata: %w", itemID, err)
	}
	return m, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Descriptor, 0, len(s.entries))
	for id, entry := range s.entries {
		result = append(result, Descriptor{ItemID: id, LastModified: entry.lastModified})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

func (s *MemoryStore) Delete(ctx context.Context, itemID int64) error {
	s.mu.Lock()
	delete(s.entries, itemID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Location(itemID int64) string {
	return fmt.Sprintf("memory://artifacts/%d", itemID)
}

func (s *MemoryStore) Close() error {
	return nil
}
