// Package grouper builds exact-duplicate groups from chunk fingerprints.
package grouper

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"dupescope/internal/models"
)

// GroupExact buckets chunks by fingerprint and keeps buckets of size >= 2.
// Groups come back in first-seen fingerprint order, member ids in input order.
func GroupExact(set []models.Chunk) []models.ExactGroup {
	members := make(map[string][]string)
	var order []string

	for i := range set {
		fp := set[i].Fingerprint
		if fp == "" {
			continue
		}
		if _, seen := members[fp]; !seen {
			order = append(order, fp)
		}
		members[fp] = append(members[fp], set[i].ChunkID)
	}

	var groups []models.ExactGroup
	for _, fp := range order {
		ids := members[fp]
		if len(ids) < 2 {
			continue
		}
		groups = append(groups, models.ExactGroup{
			Fingerprint: fp,
			Count:       len(ids),
			ChunkIDs:    ids,
		})
	}
	return groups
}

// WriteJSONL writes exact groups one JSON object per line.
func WriteJSONL(path string, groups []models.ExactGroup) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create groups file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range groups {
		if err := enc.Encode(&groups[i]); err != nil {
			return fmt.Errorf("encode group %s: %w", groups[i].Fingerprint, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush groups file: %w", err)
	}
	return f.Close()
}

// ReadJSONL loads exact groups from a JSONL artifact.
func ReadJSONL(path string) ([]models.ExactGroup, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open groups file: %w", err)
	}
	defer f.Close()

	var groups []models.ExactGroup
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var g models.ExactGroup
		if err := json.Unmarshal(line, &g); err != nil {
			return nil, fmt.Errorf("%w: groups line %d: %v", models.ErrInvalidInput, lineNo, err)
		}
		groups = append(groups, g)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read groups file: %w", err)
	}
	return groups, nil
}
