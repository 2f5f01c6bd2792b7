package chunks

import (
	"os"
	"path/filepath"
	"testing"

	"dupescope/internal/models"
)

func sampleSet() []models.Chunk {
	return []models.Chunk{
		{ChunkID: "c1", Repo: "r", Path: "a.go", Fingerprint: "fp1", StartLine: 1, EndLine: 10},
		{ChunkID: "c2", Repo: "r", Path: "b.go", Fingerprint: "fp1", StartLine: 5, EndLine: 14},
		{ChunkID: "c3", Repo: "r", Path: "c.go", Fingerprint: "fp2", StartLine: 1, EndLine: 3},
	}
}

func TestCatalogSnapshot(t *testing.T) {
	t.Parallel()

	cat := NewCatalog()
	if cat.Snapshot().Len() != 0 {
		t.Fatal("fresh catalog must start empty")
	}

	snap := cat.Replace(sampleSet())
	if snap.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", snap.Len())
	}

	ch, ok := snap.Get("c2")
	if !ok || ch.Path != "b.go" {
		t.Fatalf("Get(c2) = %+v, %v", ch, ok)
	}
	if _, ok := snap.Get("missing"); ok {
		t.Fatal("Get(missing) must report absence")
	}

	if got := snap.DupCount("fp1"); got != 2 {
		t.Fatalf("DupCount(fp1) = %d, want 2", got)
	}
	if got := snap.DupCount("fp2"); got != 1 {
		t.Fatalf("DupCount(fp2) = %d, want 1", got)
	}
	if got := snap.SiblingIDs("fp1"); len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("SiblingIDs(fp1) = %v", got)
	}
}

func TestCatalogReplaceIsolation(t *testing.T) {
	t.Parallel()

	cat := NewCatalog()
	old := cat.Replace(sampleSet())

	next := cat.Replace([]models.Chunk{{ChunkID: "z1", Fingerprint: "fpz"}})
	if next.Version == old.Version {
		t.Fatal("replace must assign a new snapshot version")
	}

	// The old snapshot stays fully readable after the swap.
	if _, ok := old.Get("c1"); !ok {
		t.Fatal("old snapshot lost its chunks after replace")
	}
	if _, ok := cat.Snapshot().Get("c1"); ok {
		t.Fatal("current snapshot must not contain replaced chunks")
	}
}

func TestCatalogJSONLRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "chunks.jsonl")

	cat := NewCatalog()
	snap := cat.Replace(sampleSet())
	if err := snap.WriteJSONL(path); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}

	loaded, err := NewCatalog().LoadJSONL(path)
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if loaded.Len() != snap.Len() {
		t.Fatalf("loaded %d chunks, want %d", loaded.Len(), snap.Len())
	}
	ch, ok := loaded.Get("c3")
	if !ok || ch.Fingerprint != "fp2" {
		t.Fatalf("loaded Get(c3) = %+v, %v", ch, ok)
	}
}

func TestCatalogLoadJSONLBadRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	if err := os.WriteFile(path, []byte("{\"chunk_id\":\"ok\"}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewCatalog().LoadJSONL(path); err == nil {
		t.Fatal("malformed record must fail the load")
	}
}
