// Package indexer runs the analysis pipeline: load chunks, fingerprint,
// group exact duplicates, embed, index vectors, and cluster near-duplicates.
// Artifacts land in the output directory as JSONL and JSON files.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"dupescope/internal/chunks"
	"dupescope/internal/cluster"
	"dupescope/internal/fingerprint"
	"dupescope/internal/grouper"
	"dupescope/internal/models"
	"dupescope/internal/vectorindex"
)

const (
	NumWorkers = 4
	BatchSize  = 32

	chunksFile    = "chunks.jsonl"
	exactDupsFile = "candidates_exact_dups.jsonl"
	nearDupsFile  = "candidates_near_dups.jsonl"
	statsFile     = "stats.json"
	cacheFile     = "embeddings.json"
)

// Embedder turns normalized chunk text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Indexer struct {
	catalog   *chunks.Catalog
	embedder  Embedder
	store     *vectorindex.Store
	outputDir string
	threshold float64
	k         int
}

func New(catalog *chunks.Catalog, embedder Embedder, store *vectorindex.Store, outputDir string, threshold float64, k int) *Indexer {
	return &Indexer{
		catalog:   catalog,
		embedder:  embedder,
		store:     store,
		outputDir: outputDir,
		threshold: threshold,
		k:         k,
	}
}

// Result summarizes one pipeline run.
type Result struct {
	Chunks      int
	ExactGroups int
	NearGroups  int
	Degraded    bool
}

// Run executes the full pipeline against the chunks file in the output
// directory. Embedding happens in worker batches; a dead vector backend
// degrades the run to the local scan instead of failing it.
func (idx *Indexer) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	var res Result

	snap, err := idx.catalog.LoadJSONL(filepath.Join(idx.outputDir, chunksFile))
	if err != nil {
		return res, err
	}
	fmt.Printf("✓ Loaded %d chunks\n", snap.Len())

	snap = idx.ensureFingerprints(snap)
	res.Chunks = snap.Len()

	exact := grouper.GroupExact(snap.Chunks)
	res.ExactGroups = len(exact)
	if err := grouper.WriteJSONL(filepath.Join(idx.outputDir, exactDupsFile), exact); err != nil {
		return res, err
	}
	fmt.Printf("✓ Found %d exact duplicate groups\n", len(exact))

	if err := writeStats(filepath.Join(idx.outputDir, statsFile), snap, exact, started); err != nil {
		return res, err
	}

	vectors, err := idx.embedAll(ctx, snap)
	if err != nil {
		return res, err
	}

	clusterer := cluster.New(idx.store, idx.threshold, idx.k)
	clusterRes, err := clusterer.Run(ctx, vectors)
	if err != nil {
		return res, fmt.Errorf("near-duplicate clustering: %w", err)
	}
	res.NearGroups = len(clusterRes.Groups)
	res.Degraded = clusterRes.Degraded

	if err := writeNearDups(filepath.Join(idx.outputDir, nearDupsFile), clusterRes); err != nil {
		return res, err
	}
	if clusterRes.Degraded {
		fmt.Fprintf(os.Stderr, "⚠ Vector backend unavailable, clustering ran against the local scan\n")
	}
	fmt.Printf("✓ Found %d near duplicate groups\n", len(clusterRes.Groups))

	return res, nil
}

// ensureFingerprints fills fingerprint, normalized text, and token estimate
// for chunks that arrived without them, then reinstalls the snapshot so the
// fingerprint index is consistent.
func (idx *Indexer) ensureFingerprints(snap *chunks.Snapshot) *chunks.Snapshot {
	set := snap.Chunks
	changed := false
	for i := range set {
		if set[i].NormalizedText == "" {
			set[i].NormalizedText = fingerprint.Normalize(set[i].RawText)
			changed = true
		}
		if set[i].Fingerprint == "" {
			set[i].Fingerprint = fingerprint.Fingerprint(set[i].RawText)
			changed = true
		}
		if set[i].TokenEstimate == 0 {
			set[i].TokenEstimate = fingerprint.TokenEstimate(set[i].NormalizedText)
			changed = true
		}
	}
	if !changed {
		return snap
	}
	return idx.catalog.Replace(set)
}

// embedAll embeds every chunk not already present in the persisted cache and
// upserts all vectors into the store. Returns chunk_id -> vector.
func (idx *Indexer) embedAll(ctx context.Context, snap *chunks.Snapshot) (map[string][]float32, error) {
	cachePath := filepath.Join(idx.outputDir, cacheFile)
	if err := idx.store.Local().LoadCache(cachePath); err != nil {
		return nil, err
	}

	var pending []models.Chunk
	for i := range snap.Chunks {
		if _, ok := idx.store.Local().Get(snap.Chunks[i].ChunkID); !ok {
			pending = append(pending, snap.Chunks[i])
		}
	}
	fmt.Printf("→ Embedding %d chunks (%d cached)\n", len(pending), snap.Len()-len(pending))

	var dim uint64
	if v, ok := firstVector(idx.store.Local(), snap); ok {
		dim = uint64(len(v))
	}

	type batch []models.Chunk
	batchCh := make(chan batch, NumWorkers)
	errCh := make(chan error, NumWorkers)
	var failed atomic.Bool
	var wg sync.WaitGroup

	for w := 0; w < NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range batchCh {
				// Keep draining after a failure so the producer never blocks
				// on a full channel.
				if failed.Load() {
					continue
				}
				texts := make([]string, len(b))
				for i := range b {
					texts[i] = b[i].NormalizedText
				}
				vecs, err := idx.embedder.EmbedBatch(ctx, texts)
				if err != nil {
					failed.Store(true)
					select {
					case errCh <- err:
					default:
					}
					continue
				}
				pts := make([]vectorindex.Point, len(b))
				for i := range b {
					pts[i] = vectorindex.Point{ChunkID: b[i].ChunkID, Vector: vecs[i]}
				}
				idx.store.Local().Upsert(pts)
			}
		}()
	}

	for start := 0; start < len(pending); start += BatchSize {
		end := start + BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batchCh <- pending[start:end]
	}
	close(batchCh)
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, fmt.Errorf("embedding chunks: %w", err)
	default:
	}

	if err := idx.store.Local().SaveCache(cachePath); err != nil {
		return nil, err
	}

	vectors := make(map[string][]float32, snap.Len())
	var pts []vectorindex.Point
	for i := range snap.Chunks {
		id := snap.Chunks[i].ChunkID
		v, ok := idx.store.Local().Get(id)
		if !ok {
			continue
		}
		vectors[id] = v
		pts = append(pts, vectorindex.Point{ChunkID: id, Vector: v})
		if dim == 0 {
			dim = uint64(len(v))
		}
	}

	if dim > 0 {
		if err := idx.store.EnsureReady(ctx, dim); err != nil {
			fmt.Fprintf(os.Stderr, "⚠ %v\n", err)
		}
	}
	if err := idx.store.Upsert(ctx, pts); err != nil {
		// Local mirror already holds the vectors, so the run continues.
		fmt.Fprintf(os.Stderr, "⚠ %v\n", err)
	}
	return vectors, nil
}

func firstVector(local *vectorindex.MemoryIndex, snap *chunks.Snapshot) ([]float32, bool) {
	for i := range snap.Chunks {
		if v, ok := local.Get(snap.Chunks[i].ChunkID); ok {
			return v, true
		}
	}
	return nil, false
}

func writeNearDups(path string, res models.ClusterResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create near dups file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for i := range res.Groups {
		if err := enc.Encode(&res.Groups[i]); err != nil {
			return fmt.Errorf("encode near dup group: %w", err)
		}
	}
	return f.Close()
}
