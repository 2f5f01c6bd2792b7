package vectorindex

import (
	"context"
	"fmt"
	"sync/atomic"

	"dupescope/internal/models"
)

// remote is the backend surface the store needs. Satisfied by QdrantClient.
type remote interface {
	EnsureCollection(ctx context.Context, name string, vectorSize uint64) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, pts []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, minSim float64) ([]models.Neighbor, error)
	Close() error
}

// Health reports the index state as seen by callers.
type Health struct {
	Available bool `json:"available"`
	Degraded  bool `json:"degraded"`
}

// Store fronts the remote vector backend with a local mirror. Every upsert
// lands in the mirror, so when the backend drops out queries degrade to the
// local scan instead of failing.
type Store struct {
	collection string
	remote     remote
	local      *MemoryIndex
	degraded   atomic.Bool
}

// NewStore connects to Qdrant. A failed connection yields a degraded store
// that serves from the local mirror only.
func NewStore(collection string) *Store {
	s := &Store{
		collection: collection,
		local:      NewMemoryIndex(),
	}
	client, err := NewQdrantClient()
	if err != nil {
		s.degraded.Store(true)
		return s
	}
	s.remote = client
	return s
}

// NewStoreWithBackend wires an explicit backend. remote may be nil.
func NewStoreWithBackend(collection string, r remote, local *MemoryIndex) *Store {
	if local == nil {
		local = NewMemoryIndex()
	}
	s := &Store{collection: collection, remote: r, local: local}
	if r == nil {
		s.degraded.Store(true)
	}
	return s
}

// Local exposes the mirror for cache persistence.
func (s *Store) Local() *MemoryIndex {
	return s.local
}

// Health returns whether the remote backend is wired and whether the store
// has fallen back to the local scan.
func (s *Store) Health() Health {
	return Health{
		Available: s.remote != nil,
		Degraded:  s.degraded.Load(),
	}
}

// EnsureReady prepares the remote collection for vectors of the given size.
// No-op when degraded.
func (s *Store) EnsureReady(ctx context.Context, vectorSize uint64) error {
	if s.remote == nil || s.degraded.Load() {
		return nil
	}
	if err := s.remote.EnsureCollection(ctx, s.collection, vectorSize); err != nil {
		s.degraded.Store(true)
		return fmt.Errorf("%w: ensure collection: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

// Upsert writes points to the local mirror and, when healthy, to the remote
// backend. A remote failure marks the store degraded and surfaces
// ErrBackendUnavailable; the mirror write has already happened, so queries
// keep working.
func (s *Store) Upsert(ctx context.Context, pts []Point) error {
	s.local.Upsert(pts)

	if s.remote == nil || s.degraded.Load() {
		return fmt.Errorf("%w: vector backend not reachable", models.ErrBackendUnavailable)
	}
	if err := s.remote.Upsert(ctx, s.collection, pts); err != nil {
		s.degraded.Store(true)
		return fmt.Errorf("%w: upsert points: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

// QueryNearest returns up to k neighbors with similarity >= minSim. The
// remote backend answers when healthy; otherwise the local mirror is scanned.
func (s *Store) QueryNearest(ctx context.Context, vector []float32, k int, minSim float64) ([]models.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	if s.remote != nil && !s.degraded.Load() {
		neighbors, err := s.remote.Search(ctx, s.collection, vector, uint64(k), minSim)
		if err == nil {
			return neighbors, nil
		}
		s.degraded.Store(true)
	}

	return s.local.Search(vector, k, minSim), nil
}

// Clear drops the remote collection and the local mirror.
func (s *Store) Clear(ctx context.Context) error {
	s.local.Clear()
	if s.remote == nil {
		return nil
	}
	if err := s.remote.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("%w: delete collection: %v", models.ErrBackendUnavailable, err)
	}
	return nil
}

// Close releases the remote connection.
func (s *Store) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.Close()
}
