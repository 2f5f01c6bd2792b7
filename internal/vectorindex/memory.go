package vectorindex

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"dupescope/internal/models"
	"dupescope/internal/utils"
)

// MemoryIndex is a brute-force cosine scan over an in-process vector map. It
// doubles as the local mirror that keeps queries answerable when the remote
// backend is down, and as the persistent embedding cache between runs.
type MemoryIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{vectors: make(map[string][]float32)}
}

// Upsert stores or replaces vectors by chunk id.
func (m *MemoryIndex) Upsert(pts []Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pts {
		m.vectors[p.ChunkID] = p.Vector
	}
}

// Len returns the number of stored vectors.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vectors)
}

// Get returns the stored vector for a chunk id.
func (m *MemoryIndex) Get(chunkID string) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vectors[chunkID]
	return v, ok
}

// Clear drops all stored vectors.
func (m *MemoryIndex) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectors = make(map[string][]float32)
}

// Search scans every stored vector and returns up to limit neighbors with
// similarity >= minSim, ordered by descending similarity then chunk id.
func (m *MemoryIndex) Search(vector []float32, limit int, minSim float64) []models.Neighbor {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []models.Neighbor
	for id, v := range m.vectors {
		sim := utils.CosineSim(vector, v)
		if sim < minSim {
			continue
		}
		hits = append(hits, models.Neighbor{ChunkID: id, Similarity: sim})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// SaveCache persists the vector map as JSON so a later run can skip
// re-embedding unchanged chunks.
func (m *MemoryIndex) SaveCache(path string) error {
	m.mu.RLock()
	data, err := json.Marshal(m.vectors)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode embedding cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	return nil
}

// LoadCache restores a previously saved vector map. A missing file is not an
// error.
func (m *MemoryIndex) LoadCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read embedding cache: %w", err)
	}

	vectors := make(map[string][]float32)
	if err := json.Unmarshal(data, &vectors); err != nil {
		return fmt.Errorf("decode embedding cache: %w", err)
	}

	m.mu.Lock()
	m.vectors = vectors
	m.mu.Unlock()
	return nil
}
