package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dupescope/internal/annotations"
	"dupescope/internal/chunks"
	"dupescope/internal/models"
	"dupescope/internal/utils"
)

func intptr(i int) *int       { return &i }
func strptr(s string) *string { return &s }

func testEngine(t *testing.T, set []models.Chunk) (*Engine, *annotations.Store) {
	t.Helper()
	store, err := annotations.NewStore(annotations.Options{
		Path:      filepath.Join(t.TempDir(), "annotations.db"),
		SessionID: "q-test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalog := chunks.NewCatalog()
	catalog.Replace(set)
	return NewEngine(catalog, store), store
}

func testSet() []models.Chunk {
	return []models.Chunk{
		{ChunkID: "c1", Repo: "app", Path: "pkg/auth/login.go", Language: "go", NodeType: "function",
			StartLine: 10, EndLine: 40, TokenEstimate: 120, Fingerprint: "fp-dup",
			RawText: "func login() { validate() }", NormalizedText: "func ID ( ) { ID ( ) }"},
		{ChunkID: "c2", Repo: "app", Path: "pkg/admin/login.go", Language: "go", NodeType: "function",
			StartLine: 5, EndLine: 35, TokenEstimate: 118, Fingerprint: "fp-dup",
			RawText: "func login() { check() }", NormalizedText: "func ID ( ) { ID ( ) }"},
		{ChunkID: "c3", Repo: "lib", Path: "util/strings.py", Language: "python", NodeType: "function",
			StartLine: 1, EndLine: 8, TokenEstimate: 30, Fingerprint: "fp-solo",
			RawText: "def slug(s): return s.lower()", NormalizedText: "def ID ( ID ) : return ID"},
		{ChunkID: "c4", Repo: "app", Path: "pkg/auth/token.go", Language: "go", NodeType: "method",
			StartLine: 50, EndLine: 260, TokenEstimate: 900, Fingerprint: "fp-big",
			RawText: "func (t *Token) Refresh() {}", NormalizedText: "func ( ID * ID ) ID ( ) { }"},
	}
}

func TestSearchChunksFilters(t *testing.T) {
	t.Parallel()
	e, _ := testEngine(t, testSet())
	ctx := context.Background()

	tests := []struct {
		name   string
		params models.SearchParams
		want   []string
	}{
		{"by repo", models.SearchParams{Repo: "lib"}, []string{"c3"}},
		{"by language case-insensitive", models.SearchParams{Language: "Python"}, []string{"c3"}},
		{"by node type", models.SearchParams{NodeType: "method"}, []string{"c4"}},
		{"by fingerprint", models.SearchParams{Fingerprint: "fp-dup"}, []string{"c1", "c2"}},
		{"by path substring", models.SearchParams{PathContains: "auth/"}, []string{"c1", "c4"}},
		{"by raw text", models.SearchParams{TextContains: "validate"}, []string{"c1"}},
		{"by normalized text", models.SearchParams{NormalizedContains: "return ID"}, []string{"c3"}},
		{"min tokens", models.SearchParams{MinTokens: intptr(500)}, []string{"c4"}},
		{"max lines", models.SearchParams{MaxLines: intptr(10)}, []string{"c3"}},
		{"min dup count", models.SearchParams{MinDupCount: intptr(2)}, []string{"c1", "c2"}},
		{"conjunction", models.SearchParams{Repo: "app", NodeType: "function", PathContains: "admin"}, []string{"c2"}},
		{"no match", models.SearchParams{Repo: "absent"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := e.SearchChunks(ctx, tt.params)
			require.NoError(t, err)

			var ids []string
			for _, c := range res.Chunks {
				ids = append(ids, c.ChunkID)
			}
			assert.ElementsMatch(t, tt.want, ids)
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestSearchChunksExcludeStatuses(t *testing.T) {
	t.Parallel()
	e, store := testEngine(t, testSet())
	ctx := context.Background()

	_, err := store.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		Status:     strptr(models.StatusSkip),
	})
	require.NoError(t, err)

	res, err := e.SearchChunks(ctx, models.SearchParams{
		ExcludeStatuses: []string{models.StatusSkip},
	})
	require.NoError(t, err)
	for _, c := range res.Chunks {
		assert.NotEqual(t, "c1", c.ChunkID)
	}
	assert.Equal(t, 3, res.Total)

	// Excluding todo drops every unannotated chunk too.
	res, err = e.SearchChunks(ctx, models.SearchParams{
		ExcludeStatuses: []string{models.StatusTodo},
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 1)
	assert.Equal(t, "c1", res.Chunks[0].ChunkID)

	_, err = e.SearchChunks(ctx, models.SearchParams{ExcludeStatuses: []string{"bogus"}})
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSearchChunksSortAndPage(t *testing.T) {
	t.Parallel()
	e, _ := testEngine(t, testSet())
	ctx := context.Background()

	res, err := e.SearchChunks(ctx, models.SearchParams{
		SortBy: "token_estimate", SortOrder: "desc",
	})
	require.NoError(t, err)
	require.Len(t, res.Chunks, 4)
	assert.Equal(t, "c4", res.Chunks[0].ChunkID)
	assert.Equal(t, "c3", res.Chunks[3].ChunkID)

	paged, err := e.SearchChunks(ctx, models.SearchParams{
		SortBy: "token_estimate", SortOrder: "desc", Limit: 2, Offset: 2,
	})
	require.NoError(t, err)
	require.Len(t, paged.Chunks, 2)
	assert.Equal(t, 4, paged.Total)
	assert.Equal(t, res.Chunks[2].ChunkID, paged.Chunks[0].ChunkID)

	_, err = e.SearchChunks(ctx, models.SearchParams{SortBy: "bogus"})
	require.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = e.SearchChunks(ctx, models.SearchParams{SortOrder: "sideways"})
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestChunkText(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", 100)
	e, _ := testEngine(t, []models.Chunk{{ChunkID: "c1", Fingerprint: "fp", RawText: long}})

	text, truncated, err := e.ChunkText("c1", 0)
	require.NoError(t, err)
	assert.Equal(t, long, text)
	assert.False(t, truncated)

	text, truncated, err = e.ChunkText("c1", 10)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.True(t, strings.HasSuffix(text, utils.TruncationMarker))
	assert.Equal(t, strings.Repeat("x", 10), strings.TrimSuffix(text, utils.TruncationMarker))

	_, _, err = e.ChunkText("missing", 0)
	require.True(t, errors.Is(err, models.ErrNotFound))
}

func manyDupSet() []models.Chunk {
	var set []models.Chunk
	add := func(fp string, n int) {
		for i := 0; i < n; i++ {
			set = append(set, models.Chunk{
				ChunkID:     fp + "-" + string(rune('a'+i)),
				Repo:        "app",
				Language:    "go",
				Fingerprint: fp,
			})
		}
	}
	add("fp-three", 3)
	add("fp-two", 2)
	add("fp-seven", 7)
	add("fp-solo", 1)
	return set
}

func TestListGroups(t *testing.T) {
	t.Parallel()
	e, store := testEngine(t, manyDupSet())
	ctx := context.Background()

	_, err := store.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetDupGroup,
		TargetID:   "fp-three",
		Status:     strptr(models.StatusDone),
	})
	require.NoError(t, err)

	page, err := e.ListGroups(ctx, models.GroupListParams{})
	require.NoError(t, err)
	require.Len(t, page.Groups, 3)
	assert.Equal(t, 3, page.Total)

	// Descending count, singleton excluded.
	assert.Equal(t, "fp-seven", page.Groups[0].Fingerprint)
	assert.Equal(t, 7, page.Groups[0].Count)
	assert.Len(t, page.Groups[0].SampleIDs, DefaultSampleIDs)
	assert.Equal(t, models.StatusDone, page.Groups[1].Status)
	assert.Equal(t, models.StatusTodo, page.Groups[2].Status)

	filtered, err := e.ListGroups(ctx, models.GroupListParams{MinCount: 3})
	require.NoError(t, err)
	assert.Len(t, filtered.Groups, 2)

	paged, err := e.ListGroups(ctx, models.GroupListParams{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged.Groups, 1)
	assert.Equal(t, "fp-three", paged.Groups[0].Fingerprint)
	assert.Equal(t, 3, paged.Total)
}

func TestListGroupsFiltered(t *testing.T) {
	t.Parallel()

	set := []models.Chunk{
		{ChunkID: "a1", Repo: "app", Fingerprint: "fp-mixed"},
		{ChunkID: "a2", Repo: "app", Fingerprint: "fp-mixed"},
		{ChunkID: "l1", Repo: "lib", Fingerprint: "fp-mixed"},
		{ChunkID: "l2", Repo: "lib", Fingerprint: "fp-lib"},
		{ChunkID: "l3", Repo: "lib", Fingerprint: "fp-lib"},
	}
	e, _ := testEngine(t, set)
	ctx := context.Background()

	page, err := e.ListGroupsFiltered(ctx, models.GroupListParams{}, models.SearchParams{Repo: "app"})
	require.NoError(t, err)
	require.Len(t, page.Groups, 1)
	assert.Equal(t, "fp-mixed", page.Groups[0].Fingerprint)
	// Count reflects matching members only.
	assert.Equal(t, 2, page.Groups[0].Count)

	// A group whose members are filtered below two drops out entirely.
	page, err = e.ListGroupsFiltered(ctx, models.GroupListParams{}, models.SearchParams{PathContains: "nowhere"})
	require.NoError(t, err)
	assert.Empty(t, page.Groups)
}

func TestListGroupsExcludeStatuses(t *testing.T) {
	t.Parallel()
	e, store := testEngine(t, manyDupSet())
	ctx := context.Background()

	for _, id := range []string{"fp-two-a", "fp-two-b"} {
		_, err := store.Set(ctx, models.AnnotationSetParams{
			TargetType: models.TargetChunk,
			TargetID:   id,
			Status:     strptr(models.StatusDone),
		})
		require.NoError(t, err)
	}

	// A group whose members are all excluded disappears from the plain listing.
	page, err := e.ListGroups(ctx, models.GroupListParams{ExcludeStatuses: []string{models.StatusDone}})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	for _, g := range page.Groups {
		assert.NotEqual(t, "fp-two", g.Fingerprint)
	}

	// The filtered variant honors exclusion carried in the chunk filters.
	filtered, err := e.ListGroupsFiltered(ctx, models.GroupListParams{}, models.SearchParams{
		ExcludeStatuses: []string{models.StatusDone},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Total)
	for _, g := range filtered.Groups {
		assert.NotEqual(t, "fp-two", g.Fingerprint)
	}

	// Partial exclusion shrinks the member count instead of hiding the group.
	_, err = store.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "fp-three-a",
		Status:     strptr(models.StatusSkip),
	})
	require.NoError(t, err)
	page, err = e.ListGroups(ctx, models.GroupListParams{
		ExcludeStatuses: []string{models.StatusDone, models.StatusSkip},
	})
	require.NoError(t, err)
	require.Len(t, page.Groups, 2)
	assert.Equal(t, "fp-seven", page.Groups[0].Fingerprint)
	assert.Equal(t, "fp-three", page.Groups[1].Fingerprint)
	assert.Equal(t, 2, page.Groups[1].Count)

	_, err = e.ListGroups(ctx, models.GroupListParams{ExcludeStatuses: []string{"bogus"}})
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestGetGroupFilteredExcludeStatuses(t *testing.T) {
	t.Parallel()
	e, store := testEngine(t, manyDupSet())
	ctx := context.Background()

	_, err := store.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "fp-two-a",
		Status:     strptr(models.StatusDone),
	})
	require.NoError(t, err)

	detail, err := e.GetGroupFiltered(ctx, "fp-two", models.SearchParams{
		ExcludeStatuses: []string{models.StatusDone},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-two-b"}, detail.ChunkIDs)

	// Every member excluded reports not found, like other empty filters.
	_, err = store.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "fp-two-b",
		Status:     strptr(models.StatusDone),
	})
	require.NoError(t, err)
	_, err = e.GetGroupFiltered(ctx, "fp-two", models.SearchParams{
		ExcludeStatuses: []string{models.StatusDone},
	}, 0)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetGroup(t *testing.T) {
	t.Parallel()
	e, _ := testEngine(t, manyDupSet())
	ctx := context.Background()

	detail, err := e.GetGroup(ctx, "fp-seven", false, 0)
	require.NoError(t, err)
	assert.Equal(t, 7, detail.Count)
	assert.Len(t, detail.ChunkIDs, 7)
	assert.Empty(t, detail.Chunks)
	assert.Equal(t, models.StatusTodo, detail.Annotation.Status)

	withChunks, err := e.GetGroup(ctx, "fp-two", true, 0)
	require.NoError(t, err)
	assert.Len(t, withChunks.Chunks, 2)

	// Lookup bypasses min_count: a singleton fingerprint still resolves.
	solo, err := e.GetGroup(ctx, "fp-solo", false, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, solo.Count)

	_, err = e.GetGroup(ctx, "fp-missing", false, 0)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetGroupTruncatesMemberText(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("y", 50)
	e, _ := testEngine(t, []models.Chunk{
		{ChunkID: "a", Fingerprint: "fp", RawText: long},
		{ChunkID: "b", Fingerprint: "fp", RawText: "short"},
	})

	detail, err := e.GetGroup(context.Background(), "fp", true, 10)
	require.NoError(t, err)
	require.Len(t, detail.Chunks, 2)
	assert.True(t, strings.HasSuffix(detail.Chunks[0].Text, utils.TruncationMarker))
	assert.Equal(t, "short", detail.Chunks[1].Text)
}

func TestSetGroupStatusThroughEngine(t *testing.T) {
	t.Parallel()
	e, store := testEngine(t, manyDupSet())
	ctx := context.Background()

	n, err := e.SetGroupStatus(ctx, "fp-three", models.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	g, err := store.Get(ctx, models.TargetDupGroup, "fp-three")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, g.Status)

	_, err = e.SetGroupStatus(ctx, "fp-missing", models.StatusDone)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestGroupMembers(t *testing.T) {
	t.Parallel()
	e, _ := testEngine(t, manyDupSet())

	ids, err := e.GroupMembers("fp-two")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	_, err = e.GroupMembers("fp-missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}
