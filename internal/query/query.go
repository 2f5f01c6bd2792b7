// Package query answers chunk searches and duplicate-group listings against
// the current catalog snapshot, joined with annotation state.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"dupescope/internal/annotations"
	"dupescope/internal/chunks"
	"dupescope/internal/models"
	"dupescope/internal/utils"
)

// Defaults for listing operations.
const (
	DefaultLimit       = 50
	MaxLimit           = 500
	DefaultSampleIDs   = 5
	DefaultMaxTextSize = 20000
)

// Engine evaluates searches over a catalog snapshot.
type Engine struct {
	catalog *chunks.Catalog
	store   *annotations.Store
}

func NewEngine(catalog *chunks.Catalog, store *annotations.Store) *Engine {
	return &Engine{catalog: catalog, store: store}
}

// SearchResult is one page of chunk summaries plus the unpaginated total.
type SearchResult struct {
	Chunks []models.ChunkSummary `json:"chunks"`
	Total  int                   `json:"total"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
}

// excludeSet validates exclude statuses and loads the chunk status map that
// resolves them. Nil maps mean no status filtering.
func (e *Engine) excludeSet(ctx context.Context, statuses []string) (map[string]bool, map[string]string, error) {
	if len(statuses) == 0 {
		return nil, nil, nil
	}
	drop := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		if !models.ValidStatus(s) {
			return nil, nil, fmt.Errorf("%w: exclude status %q", models.ErrInvalidInput, s)
		}
		drop[s] = true
	}
	statusMap, err := e.store.StatusMap(ctx, models.TargetChunk)
	if err != nil {
		return nil, nil, err
	}
	return drop, statusMap, nil
}

// excluded reports whether the chunk's annotation status is in the drop set.
// Chunks without a stored annotation count as todo.
func excluded(drop map[string]bool, statusMap map[string]string, chunkID string) bool {
	if drop == nil {
		return false
	}
	status, ok := statusMap[chunkID]
	if !ok {
		status = models.StatusTodo
	}
	return drop[status]
}

// SearchChunks applies every filter in p conjunctively, sorts, and paginates.
func (e *Engine) SearchChunks(ctx context.Context, p models.SearchParams) (SearchResult, error) {
	snap := e.catalog.Snapshot()

	drop, statusMap, err := e.excludeSet(ctx, p.ExcludeStatuses)
	if err != nil {
		return SearchResult{}, err
	}

	var matched []models.ChunkSummary
	for i := range snap.Chunks {
		ch := &snap.Chunks[i]
		if !matchesChunk(ch, snap, p) {
			continue
		}
		if excluded(drop, statusMap, ch.ChunkID) {
			continue
		}
		matched = append(matched, ch.Summary(snap.DupCount(ch.Fingerprint)))
	}

	if err := sortSummaries(matched, p.SortBy, p.SortOrder); err != nil {
		return SearchResult{}, err
	}

	limit, offset := clampPage(p.Limit, p.Offset)
	total := len(matched)
	page := paginate(matched, limit, offset)
	return SearchResult{Chunks: page, Total: total, Limit: limit, Offset: offset}, nil
}

func matchesChunk(ch *models.Chunk, snap *chunks.Snapshot, p models.SearchParams) bool {
	if p.Repo != "" && ch.Repo != p.Repo {
		return false
	}
	if p.Language != "" && !strings.EqualFold(ch.Language, p.Language) {
		return false
	}
	if p.NodeType != "" && ch.NodeType != p.NodeType {
		return false
	}
	if p.Fingerprint != "" && ch.Fingerprint != p.Fingerprint {
		return false
	}
	if p.PathContains != "" && !strings.Contains(ch.Path, p.PathContains) {
		return false
	}
	if p.TextContains != "" && !strings.Contains(ch.RawText, p.TextContains) {
		return false
	}
	if p.NormalizedContains != "" && !strings.Contains(ch.NormalizedText, p.NormalizedContains) {
		return false
	}
	if p.MinTokens != nil && ch.TokenEstimate < *p.MinTokens {
		return false
	}
	if p.MaxTokens != nil && ch.TokenEstimate > *p.MaxTokens {
		return false
	}
	lines := ch.LineCount()
	if p.MinLines != nil && lines < *p.MinLines {
		return false
	}
	if p.MaxLines != nil && lines > *p.MaxLines {
		return false
	}
	dupCount := snap.DupCount(ch.Fingerprint)
	if p.MinDupCount != nil && dupCount < *p.MinDupCount {
		return false
	}
	if p.MaxDupCount != nil && dupCount > *p.MaxDupCount {
		return false
	}
	return true
}

func sortSummaries(items []models.ChunkSummary, sortBy, sortOrder string) error {
	if sortBy == "" {
		sortBy = "chunk_id"
	}
	desc := false
	switch sortOrder {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return fmt.Errorf("%w: sort_order %q", models.ErrInvalidInput, sortOrder)
	}

	var less func(a, b *models.ChunkSummary) bool
	switch sortBy {
	case "chunk_id":
		less = func(a, b *models.ChunkSummary) bool { return a.ChunkID < b.ChunkID }
	case "path":
		less = func(a, b *models.ChunkSummary) bool {
			if a.Path != b.Path {
				return a.Path < b.Path
			}
			return a.StartLine < b.StartLine
		}
	case "token_estimate":
		less = func(a, b *models.ChunkSummary) bool { return a.TokenEstimate < b.TokenEstimate }
	case "line_count":
		less = func(a, b *models.ChunkSummary) bool { return a.LineCount < b.LineCount }
	case "dup_count":
		less = func(a, b *models.ChunkSummary) bool { return a.DupCount < b.DupCount }
	default:
		return fmt.Errorf("%w: sort_by %q", models.ErrInvalidInput, sortBy)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(&items[j], &items[i])
		}
		return less(&items[i], &items[j])
	})
	return nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// ChunkText returns the raw text of a chunk, truncated to maxChars with a
// marker when cut, and whether truncation happened. maxChars <= 0 applies the
// default cap.
func (e *Engine) ChunkText(chunkID string, maxChars int) (string, bool, error) {
	ch, ok := e.catalog.Snapshot().Get(chunkID)
	if !ok {
		return "", false, fmt.Errorf("%w: chunk %s", models.ErrNotFound, chunkID)
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxTextSize
	}
	text := utils.Truncate(ch.RawText, maxChars)
	return text, len(ch.RawText) > maxChars, nil
}

// GroupView is the listing form of an exact-duplicate group: a sample of
// member ids plus the group's annotation status.
type GroupView struct {
	Fingerprint   string   `json:"fingerprint"`
	Count         int      `json:"count"`
	SampleIDs     []string `json:"sample_chunk_ids"`
	Status        string   `json:"status"`
	HumanPriority int      `json:"human_priority"`
	AIPriority    int      `json:"ai_priority"`
}

// GroupPage is one page of group views plus the unpaginated total.
type GroupPage struct {
	Groups []GroupView `json:"groups"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// ListGroups lists exact-duplicate groups ordered by descending count, ties
// broken by descending fingerprint. Each view carries up to MaxChunkIDs
// member samples (default 5) and the group annotation. Members whose
// annotation status is in ExcludeStatuses are dropped before counting, so a
// group reduced below min_count falls out of the listing.
func (e *Engine) ListGroups(ctx context.Context, p models.GroupListParams) (GroupPage, error) {
	return e.listGroups(ctx, p, nil)
}

// ListGroupsFiltered is ListGroups restricted to groups whose members all
// survive the chunk filters in sp. Member counts reflect matching members
// only, and groups reduced below min_count drop out.
func (e *Engine) ListGroupsFiltered(ctx context.Context, p models.GroupListParams, sp models.SearchParams) (GroupPage, error) {
	return e.listGroups(ctx, p, &sp)
}

func (e *Engine) listGroups(ctx context.Context, p models.GroupListParams, sp *models.SearchParams) (GroupPage, error) {
	snap := e.catalog.Snapshot()

	minCount := p.MinCount
	if minCount < 2 {
		minCount = 2
	}

	exclude := p.ExcludeStatuses
	if sp != nil && len(sp.ExcludeStatuses) > 0 {
		exclude = append(append([]string(nil), exclude...), sp.ExcludeStatuses...)
	}
	drop, statusMap, err := e.excludeSet(ctx, exclude)
	if err != nil {
		return GroupPage{}, err
	}

	type entry struct {
		fingerprint string
		members     []string
	}

	var entries []entry
	seen := make(map[string]bool)
	for i := range snap.Chunks {
		fp := snap.Chunks[i].Fingerprint
		if fp == "" || seen[fp] {
			continue
		}
		seen[fp] = true

		members := snap.SiblingIDs(fp)
		if sp != nil || drop != nil {
			members = filterMembers(snap, members, sp, drop, statusMap)
		}
		if len(members) < minCount {
			continue
		}
		entries = append(entries, entry{fingerprint: fp, members: members})
	}

	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].members) != len(entries[j].members) {
			return len(entries[i].members) > len(entries[j].members)
		}
		return entries[i].fingerprint > entries[j].fingerprint
	})

	limit, offset := clampPage(p.Limit, p.Offset)
	total := len(entries)
	page := paginate(entries, limit, offset)

	maxIDs := p.MaxChunkIDs
	if maxIDs <= 0 {
		maxIDs = DefaultSampleIDs
	}

	fps := make([]string, 0, len(page))
	for _, en := range page {
		fps = append(fps, en.fingerprint)
	}
	anns, err := e.store.BulkGet(ctx, models.TargetDupGroup, fps)
	if err != nil {
		return GroupPage{}, err
	}

	views := make([]GroupView, 0, len(page))
	for _, en := range page {
		sample := en.members
		if len(sample) > maxIDs {
			sample = sample[:maxIDs]
		}
		ann := anns[en.fingerprint]
		views = append(views, GroupView{
			Fingerprint:   en.fingerprint,
			Count:         len(en.members),
			SampleIDs:     sample,
			Status:        ann.Status,
			HumanPriority: ann.HumanPriority,
			AIPriority:    ann.AIPriority,
		})
	}
	return GroupPage{Groups: views, Total: total, Limit: limit, Offset: offset}, nil
}

func filterMembers(snap *chunks.Snapshot, ids []string, sp *models.SearchParams, drop map[string]bool, statusMap map[string]string) []string {
	var out []string
	for _, id := range ids {
		ch, ok := snap.Get(id)
		if !ok {
			continue
		}
		if sp != nil && !matchesChunk(&ch, snap, *sp) {
			continue
		}
		if excluded(drop, statusMap, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// GroupChunk is one member of a group detail view: the summary plus the
// member's truncated text.
type GroupChunk struct {
	models.ChunkSummary
	Text string `json:"text,omitempty"`
}

// GroupDetail is the full view of one group, optionally with member chunks.
type GroupDetail struct {
	Fingerprint string            `json:"fingerprint"`
	Count       int               `json:"count"`
	ChunkIDs    []string          `json:"chunk_ids"`
	Chunks      []GroupChunk      `json:"chunks,omitempty"`
	Annotation  models.Annotation `json:"annotation"`
}

func groupChunk(ch models.Chunk, dupCount, textMax int) GroupChunk {
	if textMax <= 0 {
		textMax = DefaultMaxTextSize
	}
	return GroupChunk{
		ChunkSummary: ch.Summary(dupCount),
		Text:         utils.Truncate(ch.RawText, textMax),
	}
}

// GetGroup returns one exact-duplicate group by fingerprint with all member
// ids. Groups are looked up directly, bypassing min_count and pagination.
// With includeChunks, member summaries carry text truncated to textMax.
func (e *Engine) GetGroup(ctx context.Context, fingerprint string, includeChunks bool, textMax int) (GroupDetail, error) {
	snap := e.catalog.Snapshot()

	ids := snap.SiblingIDs(fingerprint)
	if len(ids) == 0 {
		return GroupDetail{}, fmt.Errorf("%w: group %s", models.ErrNotFound, fingerprint)
	}

	ann, err := e.store.Get(ctx, models.TargetDupGroup, fingerprint)
	if err != nil {
		return GroupDetail{}, err
	}

	detail := GroupDetail{
		Fingerprint: fingerprint,
		Count:       len(ids),
		ChunkIDs:    ids,
		Annotation:  ann,
	}
	if includeChunks {
		for _, id := range ids {
			if ch, ok := snap.Get(id); ok {
				detail.Chunks = append(detail.Chunks, groupChunk(ch, len(ids), textMax))
			}
		}
	}
	return detail, nil
}

// GetGroupFiltered returns one group with only the members that survive the
// chunk filters, including their summaries and truncated text. A group whose
// members all fall to the filters reports not found.
func (e *Engine) GetGroupFiltered(ctx context.Context, fingerprint string, sp models.SearchParams, textMax int) (GroupDetail, error) {
	snap := e.catalog.Snapshot()

	drop, statusMap, err := e.excludeSet(ctx, sp.ExcludeStatuses)
	if err != nil {
		return GroupDetail{}, err
	}

	ids := filterMembers(snap, snap.SiblingIDs(fingerprint), &sp, drop, statusMap)
	if len(ids) == 0 {
		return GroupDetail{}, fmt.Errorf("%w: group %s", models.ErrNotFound, fingerprint)
	}

	ann, err := e.store.Get(ctx, models.TargetDupGroup, fingerprint)
	if err != nil {
		return GroupDetail{}, err
	}

	detail := GroupDetail{
		Fingerprint: fingerprint,
		Count:       len(ids),
		ChunkIDs:    ids,
		Annotation:  ann,
	}
	for _, id := range ids {
		if ch, ok := snap.Get(id); ok {
			detail.Chunks = append(detail.Chunks, groupChunk(ch, snap.DupCount(ch.Fingerprint), textMax))
		}
	}
	return detail, nil
}

// GroupMembers returns the member chunk ids of a group, for status fan-out.
func (e *Engine) GroupMembers(fingerprint string) ([]string, error) {
	ids := e.catalog.Snapshot().SiblingIDs(fingerprint)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: group %s", models.ErrNotFound, fingerprint)
	}
	return ids, nil
}

// SetGroupStatus resolves the group's members against the current snapshot
// and fans the status out atomically. If the snapshot was replaced while the
// write ran, the members are re-resolved and the write retried once; a second
// race surfaces as a conflict.
func (e *Engine) SetGroupStatus(ctx context.Context, fingerprint, status string) (int, error) {
	for attempt := 0; attempt < 2; attempt++ {
		snap := e.catalog.Snapshot()
		members := snap.SiblingIDs(fingerprint)
		if len(members) == 0 {
			return 0, fmt.Errorf("%w: group %s", models.ErrNotFound, fingerprint)
		}

		n, err := e.store.SetGroupStatus(ctx, fingerprint, status, members)
		if err != nil {
			return 0, err
		}
		if e.catalog.Snapshot().Version == snap.Version {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: chunk set changed during group update", models.ErrConflict)
}
