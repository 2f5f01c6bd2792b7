package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"dupescope/internal/models"
)

func TestLoadCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "chunks.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	enc := json.NewEncoder(f)
	for _, ch := range []models.Chunk{
		{ChunkID: "c1", RawText: "func a() {}"},
		{ChunkID: "c2", RawText: "func b() {}"},
	} {
		if err := enc.Encode(&ch); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	catalog, n, err := loadCatalog(dir)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
	if catalog.Snapshot().Len() != 2 {
		t.Fatalf("snapshot len = %d, want 2", catalog.Snapshot().Len())
	}

	if _, _, err := loadCatalog(t.TempDir()); err == nil {
		t.Fatal("missing chunks file must error")
	}
}
