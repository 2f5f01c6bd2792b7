package cluster

import (
	"context"
	"testing"

	"dupescope/internal/vectorindex"
)

// localStore builds a degraded store whose queries run against the in-memory
// scan, which is enough to exercise the clustering logic end to end.
func localStore(t *testing.T, vectors map[string][]float32) *vectorindex.Store {
	t.Helper()
	s := vectorindex.NewStoreWithBackend("test", nil, nil)
	pts := make([]vectorindex.Point, 0, len(vectors))
	for id, v := range vectors {
		pts = append(pts, vectorindex.Point{ChunkID: id, Vector: v})
	}
	_ = s.Upsert(context.Background(), pts)
	return s
}

func TestRunTransitiveClosure(t *testing.T) {
	t.Parallel()

	// a~b and b~c are above threshold, a~c alone is not. All three must land
	// in one group anyway.
	vectors := map[string][]float32{
		"a": {1, 0},
		"b": {0.98, 0.199},
		"c": {0.92, 0.392},
		"z": {0, 1},
	}

	c := New(localStore(t, vectors), 0.97, 10)
	res, err := c.Run(context.Background(), vectors)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(res.Groups), res.Groups)
	}
	g := res.Groups[0]
	if g.Count != 3 {
		t.Fatalf("group size = %d, want 3: %+v", g.Count, g)
	}
	if g.MemberChunkIDs[0] != "a" || g.Representative != "a" {
		t.Fatalf("members must be sorted with first as representative: %+v", g)
	}
	if !res.Degraded {
		t.Fatal("local-only store must report a degraded pass")
	}
}

func TestRunDeterministicGroupKey(t *testing.T) {
	t.Parallel()

	vectors := map[string][]float32{
		"x": {1, 0},
		"y": {1, 0.01},
	}

	run := func() string {
		c := New(localStore(t, vectors), 0.95, 5)
		res, err := c.Run(context.Background(), vectors)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(res.Groups) != 1 {
			t.Fatalf("got %d groups, want 1", len(res.Groups))
		}
		return res.Groups[0].GroupKey
	}

	if k1, k2 := run(), run(); k1 != k2 {
		t.Fatalf("group key not stable across runs: %s vs %s", k1, k2)
	}
}

func TestRunNoPairsAboveThreshold(t *testing.T) {
	t.Parallel()

	vectors := map[string][]float32{
		"a": {1, 0},
		"b": {0, 1},
	}

	c := New(localStore(t, vectors), 0.9, 5)
	res, err := c.Run(context.Background(), vectors)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Groups) != 0 {
		t.Fatalf("dissimilar vectors must not group: %+v", res.Groups)
	}
}

func TestNewClampsParams(t *testing.T) {
	t.Parallel()

	c := New(localStore(t, nil), -1, 0)
	if c.threshold != DefaultThreshold || c.k != DefaultK {
		t.Fatalf("defaults not applied: threshold=%f k=%d", c.threshold, c.k)
	}
}
