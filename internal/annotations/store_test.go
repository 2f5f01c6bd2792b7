package annotations

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dupescope/internal/models"
)

func newTestStore(t *testing.T, allowHuman bool) *Store {
	t.Helper()
	s, err := NewStore(Options{
		Path:               filepath.Join(t.TempDir(), "annotations.db"),
		SessionID:          "test-session",
		AllowHumanPriority: allowHuman,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strptr(s string) *string { return &s }
func intptr(i int) *int       { return &i }

func TestSetAndGet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	a, err := s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		Status:     strptr(models.StatusDone),
		AIPriority: intptr(7),
		Comment:    strptr("reviewed"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, a.Status)
	assert.Equal(t, 7, a.AIPriority)
	assert.Equal(t, "reviewed", a.Comment)
	assert.False(t, a.UpdatedAt.IsZero())

	got, err := s.Get(ctx, models.TargetChunk, "c1")
	require.NoError(t, err)
	assert.Equal(t, a.Status, got.Status)
	assert.Equal(t, "test-session", got.SessionID)
}

func TestGetUnwrittenReturnsDefault(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)

	a, err := s.Get(context.Background(), models.TargetChunk, "never-written")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTodo, a.Status)
	assert.Zero(t, a.AIPriority)
	assert.True(t, a.UpdatedAt.IsZero())
}

func TestSetPartialUpdateKeepsFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	_, err := s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		Status:     strptr(models.StatusSkip),
		Comment:    strptr("boilerplate"),
	})
	require.NoError(t, err)

	// Updating only ai_priority must not clobber status or comment.
	a, err := s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		AIPriority: intptr(3),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkip, a.Status)
	assert.Equal(t, "boilerplate", a.Comment)
	assert.Equal(t, 3, a.AIPriority)
}

func TestSetPriorityAlias(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)

	a, err := s.Set(context.Background(), models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		Priority:   intptr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, a.AIPriority)
}

func TestHumanPriorityAuthorization(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	denied := newTestStore(t, false)
	_, err := denied.Set(ctx, models.AnnotationSetParams{
		TargetType:    models.TargetChunk,
		TargetID:      "c1",
		HumanPriority: intptr(9),
	})
	require.ErrorIs(t, err, models.ErrPermissionDenied)

	// The denied write must not have persisted anything.
	a, err := denied.Get(ctx, models.TargetChunk, "c1")
	require.NoError(t, err)
	assert.Zero(t, a.HumanPriority)
	assert.True(t, a.UpdatedAt.IsZero())

	allowed := newTestStore(t, true)
	a, err = allowed.Set(ctx, models.AnnotationSetParams{
		TargetType:    models.TargetChunk,
		TargetID:      "c1",
		HumanPriority: intptr(9),
	})
	require.NoError(t, err)
	assert.Equal(t, 9, a.HumanPriority)
}

func TestSetValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	_, err := s.Set(ctx, models.AnnotationSetParams{TargetType: "bogus", TargetID: "x"})
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = s.Set(ctx, models.AnnotationSetParams{TargetType: models.TargetChunk})
	require.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "x",
		Status:     strptr("archived"),
	})
	require.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSetGroupStatusFanOut(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	members := []string{"c1", "c2", "c3"}
	n, err := s.SetGroupStatus(ctx, "fp-group", models.StatusSkip, members)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	g, err := s.Get(ctx, models.TargetDupGroup, "fp-group")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkip, g.Status)

	for _, id := range members {
		a, err := s.Get(ctx, models.TargetChunk, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSkip, a.Status, "member %s", id)
	}
}

func TestSetGroupStatusPreservesOtherFields(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	_, err := s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		AIPriority: intptr(4),
		Comment:    strptr("keep me"),
	})
	require.NoError(t, err)

	_, err = s.SetGroupStatus(ctx, "fp", models.StatusDone, []string{"c1"})
	require.NoError(t, err)

	a, err := s.Get(ctx, models.TargetChunk, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, a.Status)
	assert.Equal(t, 4, a.AIPriority)
	assert.Equal(t, "keep me", a.Comment)
}

func TestBulkGetFillsDefaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	_, err := s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "written",
		Status:     strptr(models.StatusDone),
	})
	require.NoError(t, err)

	got, err := s.BulkGet(ctx, models.TargetChunk, []string{"written", "unwritten"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.StatusDone, got["written"].Status)
	assert.Equal(t, models.StatusTodo, got["unwritten"].Status)
}

func TestListFilters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	for _, tc := range []struct {
		id, status string
		ttype      string
	}{
		{"c1", models.StatusDone, models.TargetChunk},
		{"c2", models.StatusTodo, models.TargetChunk},
		{"g1", models.StatusDone, models.TargetDupGroup},
	} {
		_, err := s.Set(ctx, models.AnnotationSetParams{
			TargetType: tc.ttype,
			TargetID:   tc.id,
			Status:     strptr(tc.status),
		})
		require.NoError(t, err)
	}

	all, err := s.List(ctx, models.AnnotationListParams{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	done, err := s.List(ctx, models.AnnotationListParams{Status: models.StatusDone})
	require.NoError(t, err)
	assert.Len(t, done, 2)

	groups, err := s.List(ctx, models.AnnotationListParams{TargetType: models.TargetDupGroup})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].TargetID)

	paged, err := s.List(ctx, models.AnnotationListParams{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)
}

func TestStatusMap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	_, err := s.Set(ctx, models.AnnotationSetParams{
		TargetType: models.TargetChunk,
		TargetID:   "c1",
		Status:     strptr(models.StatusSkip),
	})
	require.NoError(t, err)

	m, err := s.StatusMap(ctx, models.TargetChunk)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"c1": models.StatusSkip}, m)
}

func TestSetGroupStatusUniformUnderConcurrentReads(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	members := []string{"m1", "m2", "m3", "m4"}
	_, err := s.SetGroupStatus(ctx, "fp-flip", models.StatusSkip, members)
	require.NoError(t, err)

	// Flip the whole group back and forth while a reader snapshots the member
	// set. Every snapshot must be uniform: the fan-out commits as one
	// transaction, so a reader never sees a half-updated group.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		flip := []string{models.StatusDone, models.StatusSkip}
		for i := 0; i < 40; i++ {
			_, err := s.SetGroupStatus(ctx, "fp-flip", flip[i%2], members)
			assert.NoError(t, err)
		}
	}()

	for {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		anns, err := s.BulkGet(ctx, models.TargetChunk, members)
		require.NoError(t, err)
		want := anns[members[0]].Status
		for _, id := range members[1:] {
			assert.Equal(t, want, anns[id].Status, "torn group snapshot at member %s", id)
		}
	}
}

func TestConcurrentWritesSameTarget(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Set(ctx, models.AnnotationSetParams{
				TargetType: models.TargetChunk,
				TargetID:   "contested",
				AIPriority: intptr(n),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	a, err := s.Get(ctx, models.TargetChunk, "contested")
	require.NoError(t, err)
	assert.Equal(t, models.StatusTodo, a.Status)
	assert.GreaterOrEqual(t, a.AIPriority, 0)
	assert.Less(t, a.AIPriority, 8)
}
