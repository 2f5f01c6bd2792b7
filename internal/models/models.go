package models

import "time"

// Status values for annotation triage state. Any status may transition to any
// other; the implicit initial state is StatusTodo.
const (
	StatusTodo = "todo"
	StatusSkip = "skip"
	StatusDone = "done"
)

// Annotation target types.
const (
	TargetChunk    = "chunk"
	TargetDupGroup = "dup_group"
)

// ValidStatus reports whether s is one of the known triage statuses.
func ValidStatus(s string) bool {
	return s == StatusTodo || s == StatusSkip || s == StatusDone
}

// Chunk is one extracted unit of source code. Chunks are immutable once
// produced by an extraction run; a new run replaces the whole set.
type Chunk struct {
	ChunkID        string `json:"chunk_id"`
	Repo           string `json:"repo"`
	Path           string `json:"path"`
	Language       string `json:"language"`
	NodeType       string `json:"node_type"`
	ParentID       string `json:"parent_id,omitempty"`
	Depth          int    `json:"depth,omitempty"`
	StartLine      int    `json:"start_line"`
	EndLine        int    `json:"end_line"`
	StartByte      int    `json:"start_byte,omitempty"`
	EndByte        int    `json:"end_byte,omitempty"`
	TokenEstimate  int    `json:"token_estimate"`
	Fingerprint    string `json:"fingerprint"`
	RawText        string `json:"raw_text"`
	NormalizedText string `json:"normalized_text"`
}

// LineCount returns the inclusive number of source lines the chunk spans.
func (c Chunk) LineCount() int {
	n := c.EndLine - c.StartLine + 1
	if n < 0 {
		return 0
	}
	return n
}

// ChunkSummary is the listing view of a chunk, without the text bodies.
type ChunkSummary struct {
	ChunkID       string `json:"chunk_id"`
	Repo          string `json:"repo"`
	Path          string `json:"path"`
	Language      string `json:"language"`
	NodeType      string `json:"node_type"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	LineCount     int    `json:"line_count"`
	TokenEstimate int    `json:"token_estimate"`
	Fingerprint   string `json:"fingerprint"`
	DupCount      int    `json:"dup_count"`
}

// Summary builds the listing view for a chunk given its exact-dup count.
func (c Chunk) Summary(dupCount int) ChunkSummary {
	if dupCount < 1 {
		dupCount = 1
	}
	return ChunkSummary{
		ChunkID:       c.ChunkID,
		Repo:          c.Repo,
		Path:          c.Path,
		Language:      c.Language,
		NodeType:      c.NodeType,
		StartLine:     c.StartLine,
		EndLine:       c.EndLine,
		LineCount:     c.LineCount(),
		TokenEstimate: c.TokenEstimate,
		Fingerprint:   c.Fingerprint,
		DupCount:      dupCount,
	}
}

// ExactGroup is the set of chunks sharing one fingerprint, size >= 2.
// ChunkIDs keep first-seen insertion order.
type ExactGroup struct {
	Fingerprint string   `json:"fingerprint"`
	Count       int      `json:"count"`
	ChunkIDs    []string `json:"chunk_ids"`
}

// NearDupGroup is a cluster of chunks linked by embedding similarity above a
// threshold, closed under transitivity. GroupKey is stable for identical
// inputs across runs.
type NearDupGroup struct {
	GroupKey       string   `json:"group_key"`
	Count          int      `json:"count"`
	MemberChunkIDs []string `json:"member_chunk_ids"`
	Representative string   `json:"representative"`
}

// ClusterResult is the outcome of one near-duplicate clustering pass.
// Degraded is set when the vector backend was unreachable and the pass ran
// against the local fallback scan.
type ClusterResult struct {
	Groups    []NearDupGroup `json:"groups"`
	Threshold float64        `json:"threshold"`
	K         int            `json:"k"`
	Degraded  bool           `json:"degraded"`
}

// Neighbor is one nearest-neighbor hit from the vector index.
type Neighbor struct {
	ChunkID    string  `json:"chunk_id"`
	Similarity float64 `json:"similarity"`
}

// Annotation is the mutable triage state attached to a chunk or group.
type Annotation struct {
	SessionID     string    `json:"session_id"`
	TargetType    string    `json:"target_type"`
	TargetID      string    `json:"target_id"`
	Status        string    `json:"status"`
	HumanPriority int       `json:"human_priority"`
	AIPriority    int       `json:"ai_priority"`
	Comment       string    `json:"comment"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultAnnotation is the implicit state of a target that has never been
// written. It is returned to readers but never persisted.
func DefaultAnnotation(sessionID, targetType, targetID string) Annotation {
	return Annotation{
		SessionID:  sessionID,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     StatusTodo,
	}
}

// SearchParams are the filters accepted by the chunk search engine. Zero
// values mean "no constraint"; numeric bounds use pointers so that 0 remains
// a usable bound.
type SearchParams struct {
	Repo               string   `json:"repo,omitempty"`
	PathContains       string   `json:"path_contains,omitempty"`
	Language           string   `json:"language,omitempty"`
	NodeType           string   `json:"node_type,omitempty"`
	Fingerprint        string   `json:"fingerprint,omitempty"`
	TextContains       string   `json:"text_contains,omitempty"`
	NormalizedContains string   `json:"normalized_contains,omitempty"`
	ExcludeStatuses    []string `json:"exclude_statuses,omitempty"`
	MinTokens          *int     `json:"min_tokens,omitempty"`
	MaxTokens          *int     `json:"max_tokens,omitempty"`
	MinLines           *int     `json:"min_lines,omitempty"`
	MaxLines           *int     `json:"max_lines,omitempty"`
	MinDupCount        *int     `json:"min_dup_count,omitempty"`
	MaxDupCount        *int     `json:"max_dup_count,omitempty"`
	SortBy             string   `json:"sort_by,omitempty"`
	SortOrder          string   `json:"sort_order,omitempty"`
	Limit              int      `json:"limit,omitempty"`
	Offset             int      `json:"offset,omitempty"`
}

// GroupListParams control duplicate-group listing. ExcludeStatuses drops
// members whose annotation status matches before group sizes are counted.
type GroupListParams struct {
	MinCount        int      `json:"min_count,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	Offset          int      `json:"offset,omitempty"`
	MaxChunkIDs     int      `json:"max_chunk_ids,omitempty"`
	ExcludeStatuses []string `json:"exclude_statuses,omitempty"`
}

// AnnotationSetParams is one upsert against the annotation store. Priority is
// an alias accepted for AIPriority for older clients.
type AnnotationSetParams struct {
	TargetType    string  `json:"target_type"`
	TargetID      string  `json:"target_id"`
	Status        *string `json:"status,omitempty"`
	Priority      *int    `json:"priority,omitempty"`
	AIPriority    *int    `json:"ai_priority,omitempty"`
	HumanPriority *int    `json:"human_priority,omitempty"`
	Comment       *string `json:"comment,omitempty"`
}

// AnnotationListParams filter the annotation listing.
type AnnotationListParams struct {
	TargetType string `json:"target_type,omitempty"`
	Status     string `json:"status,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}
