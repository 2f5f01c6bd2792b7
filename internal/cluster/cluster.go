// Package cluster builds near-duplicate groups from embedding neighborhoods.
// Similarity edges above the threshold are closed under transitivity with a
// union-find, so a group is a connected component, not a clique.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dupescope/internal/models"
	"dupescope/internal/utils"
	"dupescope/internal/vectorindex"
)

// Defaults applied when the run does not override them.
const (
	DefaultThreshold = 0.92
	DefaultK         = 10
)

// Clusterer runs the near-duplicate pass against a vector store.
type Clusterer struct {
	store     *vectorindex.Store
	threshold float64
	k         int
}

func New(store *vectorindex.Store, threshold float64, k int) *Clusterer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if k <= 0 {
		k = DefaultK
	}
	return &Clusterer{store: store, threshold: threshold, k: k}
}

// Run queries the k nearest neighbors of every chunk and unions edges at or
// above the threshold. Chunks are visited in sorted id order so identical
// inputs produce identical groups regardless of map iteration.
func (c *Clusterer) Run(ctx context.Context, vectors map[string][]float32) (models.ClusterResult, error) {
	result := models.ClusterResult{
		Threshold: c.threshold,
		K:         c.k,
	}

	ids := make([]string, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	uf := newUnionFind()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		neighbors, err := c.store.QueryNearest(ctx, vectors[id], c.k+1, c.threshold)
		if err != nil {
			return result, fmt.Errorf("query neighbors of %s: %w", id, err)
		}
		for _, n := range neighbors {
			if n.ChunkID == id {
				continue
			}
			uf.union(id, n.ChunkID)
		}
	}

	result.Groups = uf.groups()
	result.Degraded = c.store.Health().Degraded
	return result, nil
}

type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(x, y string) {
	px, py := u.find(x), u.find(y)
	if px == py {
		return
	}
	if u.rank[px] < u.rank[py] {
		u.parent[px] = py
	} else if u.rank[px] > u.rank[py] {
		u.parent[py] = px
	} else {
		u.parent[py] = px
		u.rank[px]++
	}
}

// groups materializes components of size >= 2, members sorted, group key
// derived from the sorted member list so it is stable across runs. The
// representative is the lexicographically first member. Output is ordered by
// descending size then group key.
func (u *unionFind) groups() []models.NearDupGroup {
	byRoot := make(map[string][]string)
	for member := range u.parent {
		root := u.find(member)
		byRoot[root] = append(byRoot[root], member)
	}

	var out []models.NearDupGroup
	for _, members := range byRoot {
		if len(members) < 2 {
			continue
		}
		sort.Strings(members)
		out = append(out, models.NearDupGroup{
			GroupKey:       GroupKey(members),
			Count:          len(members),
			MemberChunkIDs: members,
			Representative: members[0],
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].GroupKey < out[j].GroupKey
	})
	return out
}

// GroupKey hashes the sorted member ids into a stable group identifier.
func GroupKey(sortedMembers []string) string {
	return utils.HashContent(strings.Join(sortedMembers, "\n"))[:16]
}
