package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"dupescope/internal/chunks"
	"dupescope/internal/models"
)

// Stats is the run summary written to stats.json and served by the stats
// endpoint.
type Stats struct {
	ChunksExtracted int                 `json:"chunks_extracted"`
	FilesScanned    int                 `json:"files_scanned"`
	ByLanguage      map[string]int      `json:"by_language"`
	ByNodeType      map[string]int      `json:"by_node_type"`
	TokenBins       map[string]int      `json:"token_bins"`
	TopExactGroups  []models.ExactGroup `json:"exact_duplicate_fingerprint_groups_top"`
	DurationSeconds float64             `json:"duration_seconds"`
}

const (
	topGroupsLimit   = 100
	groupIDsPerEntry = 50
)

// BuildStats aggregates chunk counts and the largest exact groups.
func BuildStats(snap *chunks.Snapshot, exact []models.ExactGroup, started time.Time) Stats {
	s := Stats{
		ChunksExtracted: snap.Len(),
		ByLanguage:      make(map[string]int),
		ByNodeType:      make(map[string]int),
		TokenBins: map[string]int{
			"<=50": 0, "51-150": 0, "151-400": 0, "401-1000": 0, ">1000": 0,
		},
	}

	files := make(map[string]bool)
	for i := range snap.Chunks {
		ch := &snap.Chunks[i]
		files[ch.Repo+"\x00"+ch.Path] = true
		s.ByLanguage[ch.Language]++
		s.ByNodeType[ch.NodeType]++
		switch t := ch.TokenEstimate; {
		case t <= 50:
			s.TokenBins["<=50"]++
		case t <= 150:
			s.TokenBins["51-150"]++
		case t <= 400:
			s.TokenBins["151-400"]++
		case t <= 1000:
			s.TokenBins["401-1000"]++
		default:
			s.TokenBins[">1000"]++
		}
	}

	top := make([]models.ExactGroup, len(exact))
	copy(top, exact)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })
	if len(top) > topGroupsLimit {
		top = top[:topGroupsLimit]
	}
	for i := range top {
		if len(top[i].ChunkIDs) > groupIDsPerEntry {
			top[i].ChunkIDs = top[i].ChunkIDs[:groupIDsPerEntry]
		}
	}
	s.TopExactGroups = top
	s.FilesScanned = len(files)
	s.DurationSeconds = time.Since(started).Seconds()
	return s
}

func writeStats(path string, snap *chunks.Snapshot, exact []models.ExactGroup, started time.Time) error {
	data, err := json.MarshalIndent(BuildStats(snap, exact, started), "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}

// LoadStats reads a previously written stats.json.
func LoadStats(path string) (Stats, error) {
	var s Stats
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, fmt.Errorf("%w: stats not generated yet", models.ErrNotFound)
		}
		return s, fmt.Errorf("read stats: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}
