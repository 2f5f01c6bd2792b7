// Package chunks holds the in-memory chunk catalog. The catalog is a
// read-mostly snapshot: extraction runs replace the whole set atomically, and
// readers always observe a single consistent run.
package chunks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"dupescope/internal/models"
)

// maxLineBytes bounds a single JSONL record. Chunks carry raw source text, so
// the default scanner buffer is far too small.
const maxLineBytes = 16 * 1024 * 1024

// Snapshot is one immutable view of the chunk set. Version changes whenever
// the set is replaced.
type Snapshot struct {
	Version string
	Chunks  []models.Chunk

	byID          map[string]*models.Chunk
	byFingerprint map[string][]string
}

// Get returns the chunk with the given id, if present.
func (s *Snapshot) Get(chunkID string) (models.Chunk, bool) {
	c, ok := s.byID[chunkID]
	if !ok {
		return models.Chunk{}, false
	}
	return *c, true
}

// DupCount returns how many chunks in the snapshot share c's fingerprint,
// including c itself. Never below 1 for a chunk that exists.
func (s *Snapshot) DupCount(fingerprint string) int {
	n := len(s.byFingerprint[fingerprint])
	if n < 1 {
		return 1
	}
	return n
}

// SiblingIDs returns all chunk ids sharing the fingerprint, in first-seen
// order.
func (s *Snapshot) SiblingIDs(fingerprint string) []string {
	return s.byFingerprint[fingerprint]
}

// Len returns the number of chunks in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Chunks)
}

// Catalog serves snapshots of the chunk set. Swap is atomic; readers holding
// an older snapshot keep a consistent view until they re-acquire.
type Catalog struct {
	current atomic.Pointer[Snapshot]
}

// NewCatalog returns a catalog primed with an empty snapshot.
func NewCatalog() *Catalog {
	c := &Catalog{}
	c.Replace(nil)
	return c
}

// Snapshot returns the current snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Replace installs a new chunk set, assigning a fresh snapshot version.
func (c *Catalog) Replace(set []models.Chunk) *Snapshot {
	snap := &Snapshot{
		Version:       uuid.NewString(),
		Chunks:        set,
		byID:          make(map[string]*models.Chunk, len(set)),
		byFingerprint: make(map[string][]string),
	}
	for i := range set {
		ch := &set[i]
		snap.byID[ch.ChunkID] = ch
		snap.byFingerprint[ch.Fingerprint] = append(snap.byFingerprint[ch.Fingerprint], ch.ChunkID)
	}
	c.current.Store(snap)
	return snap
}

// LoadJSONL reads a chunks.jsonl artifact and installs it as the current
// snapshot. Blank lines are skipped; a malformed record aborts the load with
// its line number.
func (c *Catalog) LoadJSONL(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunks file: %w", err)
	}
	defer f.Close()

	var set []models.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ch models.Chunk
		if err := json.Unmarshal(line, &ch); err != nil {
			return nil, fmt.Errorf("%w: chunks line %d: %v", models.ErrInvalidInput, lineNo, err)
		}
		if ch.ChunkID == "" {
			return nil, fmt.Errorf("%w: chunks line %d: missing chunk_id", models.ErrInvalidInput, lineNo)
		}
		set = append(set, ch)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunks file: %w", err)
	}

	return c.Replace(set), nil
}

// WriteJSONL writes the snapshot's chunks as one JSON object per line.
func (s *Snapshot) WriteJSONL(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chunks file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range s.Chunks {
		if err := enc.Encode(&s.Chunks[i]); err != nil {
			return fmt.Errorf("encode chunk %s: %w", s.Chunks[i].ChunkID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush chunks file: %w", err)
	}
	return f.Close()
}
