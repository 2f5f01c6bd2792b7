package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dupescope/internal/models"
	"dupescope/internal/query"
)

// toolErr tags surfaced errors with their stable kind so clients can branch
// without parsing prose.
func toolErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %v", models.ErrorKind(err), err)
}

// SearchChunksInput mirrors the chunk search filters.
type SearchChunksInput struct {
	Repo               string   `json:"repo,omitempty" jsonschema:"restrict to one repository"`
	PathContains       string   `json:"path_contains,omitempty" jsonschema:"substring match on the file path"`
	Language           string   `json:"language,omitempty" jsonschema:"filter by language, case-insensitive"`
	NodeType           string   `json:"node_type,omitempty" jsonschema:"filter by syntactic node type"`
	Fingerprint        string   `json:"fingerprint,omitempty" jsonschema:"exact content fingerprint"`
	TextContains       string   `json:"text_contains,omitempty" jsonschema:"substring match on raw chunk text"`
	NormalizedContains string   `json:"normalized_contains,omitempty" jsonschema:"substring match on normalized text"`
	ExcludeStatuses    []string `json:"exclude_statuses,omitempty" jsonschema:"drop chunks annotated with any of these statuses"`
	MinTokens          *int     `json:"min_tokens,omitempty" jsonschema:"minimum token estimate"`
	MaxTokens          *int     `json:"max_tokens,omitempty" jsonschema:"maximum token estimate"`
	MinLines           *int     `json:"min_lines,omitempty" jsonschema:"minimum line count"`
	MaxLines           *int     `json:"max_lines,omitempty" jsonschema:"maximum line count"`
	MinDupCount        *int     `json:"min_dup_count,omitempty" jsonschema:"minimum exact duplicate count"`
	MaxDupCount        *int     `json:"max_dup_count,omitempty" jsonschema:"maximum exact duplicate count"`
	SortBy             string   `json:"sort_by,omitempty" jsonschema:"chunk_id, path, token_estimate, line_count, or dup_count"`
	SortOrder          string   `json:"sort_order,omitempty" jsonschema:"asc or desc"`
	Limit              int      `json:"limit,omitempty" jsonschema:"page size, default 50, max 500"`
	Offset             int      `json:"offset,omitempty" jsonschema:"page offset"`
}

type GetChunkTextInput struct {
	ChunkID  string `json:"chunk_id" jsonschema:"id of the chunk to read"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema:"truncate the text to this many characters"`
}

type GetChunkTextOutput struct {
	ChunkID          string `json:"chunk_id"`
	Text             string `json:"text"`
	RawTextTruncated bool   `json:"raw_text_truncated"`
}

type ListGroupsInput struct {
	MinCount        int      `json:"min_count,omitempty" jsonschema:"minimum group size, default 2"`
	Limit           int      `json:"limit,omitempty" jsonschema:"page size"`
	Offset          int      `json:"offset,omitempty" jsonschema:"page offset"`
	MaxChunkIDs     int      `json:"max_chunk_ids,omitempty" jsonschema:"member id samples per group, default 5"`
	ExcludeStatuses []string `json:"exclude_statuses,omitempty" jsonschema:"drop members annotated with any of these statuses before counting"`
	Filtered        bool     `json:"filtered,omitempty" jsonschema:"apply the chunk filters below to group members"`

	Repo         string `json:"repo,omitempty" jsonschema:"member filter: repository"`
	PathContains string `json:"path_contains,omitempty" jsonschema:"member filter: path substring"`
	Language     string `json:"language,omitempty" jsonschema:"member filter: language"`
	NodeType     string `json:"node_type,omitempty" jsonschema:"member filter: node type"`
	MinTokens    *int   `json:"min_tokens,omitempty" jsonschema:"member filter: minimum token estimate"`
	MinLines     *int   `json:"min_lines,omitempty" jsonschema:"member filter: minimum line count"`
}

type GetGroupInput struct {
	Fingerprint   string `json:"fingerprint" jsonschema:"fingerprint identifying the group"`
	IncludeChunks bool   `json:"include_chunks,omitempty" jsonschema:"include member chunk summaries with truncated text"`
	ChunkTextMax  int    `json:"chunk_text_max,omitempty" jsonschema:"truncate member text to this many characters"`
}

type SetAnnotationInput struct {
	TargetType    string  `json:"target_type" jsonschema:"chunk or dup_group"`
	TargetID      string  `json:"target_id" jsonschema:"chunk id or group fingerprint"`
	Status        *string `json:"status,omitempty" jsonschema:"todo, skip, or done"`
	Priority      *int    `json:"priority,omitempty" jsonschema:"alias for ai_priority"`
	AIPriority    *int    `json:"ai_priority,omitempty" jsonschema:"machine-assigned priority"`
	HumanPriority *int    `json:"human_priority,omitempty" jsonschema:"human-assigned priority, requires authorization"`
	Comment       *string `json:"comment,omitempty" jsonschema:"free-form note"`
}

type GetAnnotationInput struct {
	TargetType string `json:"target_type" jsonschema:"chunk or dup_group"`
	TargetID   string `json:"target_id" jsonschema:"chunk id or group fingerprint"`
}

type ListAnnotationsInput struct {
	TargetType string `json:"target_type,omitempty" jsonschema:"restrict to chunk or dup_group"`
	Status     string `json:"status,omitempty" jsonschema:"restrict to one status"`
	Limit      int    `json:"limit,omitempty" jsonschema:"page size, default 100"`
	Offset     int    `json:"offset,omitempty" jsonschema:"page offset"`
}

type ListAnnotationsOutput struct {
	Annotations []models.Annotation `json:"annotations"`
	Count       int                 `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_chunks",
		Description: "Search code chunks by repository, path, language, size, duplicate count, and annotation status",
	}, s.handleSearchChunks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_chunk_text",
		Description: "Fetch the raw source text of one chunk, truncated when large",
	}, s.handleGetChunkText)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_duplicate_groups",
		Description: "List exact-duplicate groups ordered by size, optionally filtered by member attributes",
	}, s.handleListGroups)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_duplicate_group",
		Description: "Fetch one duplicate group by fingerprint with all member chunk ids",
	}, s.handleGetGroup)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "set_annotation",
		Description: "Create or update the annotation on a chunk or duplicate group",
	}, s.handleSetAnnotation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_annotation",
		Description: "Read the annotation of a chunk or duplicate group, including implicit defaults",
	}, s.handleGetAnnotation)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_annotations",
		Description: "List stored annotations, newest first, filtered by target type or status",
	}, s.handleListAnnotations)
}

func (s *Server) handleSearchChunks(ctx context.Context, _ *mcp.CallToolRequest, in SearchChunksInput) (*mcp.CallToolResult, query.SearchResult, error) {
	res, err := s.engine.SearchChunks(ctx, models.SearchParams{
		Repo:               in.Repo,
		PathContains:       in.PathContains,
		Language:           in.Language,
		NodeType:           in.NodeType,
		Fingerprint:        in.Fingerprint,
		TextContains:       in.TextContains,
		NormalizedContains: in.NormalizedContains,
		ExcludeStatuses:    in.ExcludeStatuses,
		MinTokens:          in.MinTokens,
		MaxTokens:          in.MaxTokens,
		MinLines:           in.MinLines,
		MaxLines:           in.MaxLines,
		MinDupCount:        in.MinDupCount,
		MaxDupCount:        in.MaxDupCount,
		SortBy:             in.SortBy,
		SortOrder:          in.SortOrder,
		Limit:              in.Limit,
		Offset:             in.Offset,
	})
	if err != nil {
		return nil, query.SearchResult{}, toolErr(err)
	}
	return nil, res, nil
}

func (s *Server) handleGetChunkText(_ context.Context, _ *mcp.CallToolRequest, in GetChunkTextInput) (*mcp.CallToolResult, GetChunkTextOutput, error) {
	text, truncated, err := s.engine.ChunkText(in.ChunkID, in.MaxChars)
	if err != nil {
		return nil, GetChunkTextOutput{}, toolErr(err)
	}
	return nil, GetChunkTextOutput{ChunkID: in.ChunkID, Text: text, RawTextTruncated: truncated}, nil
}

func (s *Server) handleListGroups(ctx context.Context, _ *mcp.CallToolRequest, in ListGroupsInput) (*mcp.CallToolResult, query.GroupPage, error) {
	params := models.GroupListParams{
		MinCount:        in.MinCount,
		Limit:           in.Limit,
		Offset:          in.Offset,
		MaxChunkIDs:     in.MaxChunkIDs,
		ExcludeStatuses: in.ExcludeStatuses,
	}

	var (
		page query.GroupPage
		err  error
	)
	if in.Filtered {
		page, err = s.engine.ListGroupsFiltered(ctx, params, models.SearchParams{
			Repo:         in.Repo,
			PathContains: in.PathContains,
			Language:     in.Language,
			NodeType:     in.NodeType,
			MinTokens:    in.MinTokens,
			MinLines:     in.MinLines,
		})
	} else {
		page, err = s.engine.ListGroups(ctx, params)
	}
	if err != nil {
		return nil, query.GroupPage{}, toolErr(err)
	}
	return nil, page, nil
}

func (s *Server) handleGetGroup(ctx context.Context, _ *mcp.CallToolRequest, in GetGroupInput) (*mcp.CallToolResult, query.GroupDetail, error) {
	detail, err := s.engine.GetGroup(ctx, in.Fingerprint, in.IncludeChunks, in.ChunkTextMax)
	if err != nil {
		return nil, query.GroupDetail{}, toolErr(err)
	}
	return nil, detail, nil
}

func (s *Server) handleSetAnnotation(ctx context.Context, _ *mcp.CallToolRequest, in SetAnnotationInput) (*mcp.CallToolResult, models.Annotation, error) {
	ann, err := s.store.Set(ctx, models.AnnotationSetParams{
		TargetType:    in.TargetType,
		TargetID:      in.TargetID,
		Status:        in.Status,
		Priority:      in.Priority,
		AIPriority:    in.AIPriority,
		HumanPriority: in.HumanPriority,
		Comment:       in.Comment,
	})
	if err != nil {
		return nil, models.Annotation{}, toolErr(err)
	}
	return nil, ann, nil
}

func (s *Server) handleGetAnnotation(ctx context.Context, _ *mcp.CallToolRequest, in GetAnnotationInput) (*mcp.CallToolResult, models.Annotation, error) {
	ann, err := s.store.Get(ctx, in.TargetType, in.TargetID)
	if err != nil {
		return nil, models.Annotation{}, toolErr(err)
	}
	return nil, ann, nil
}

func (s *Server) handleListAnnotations(ctx context.Context, _ *mcp.CallToolRequest, in ListAnnotationsInput) (*mcp.CallToolResult, ListAnnotationsOutput, error) {
	anns, err := s.store.List(ctx, models.AnnotationListParams{
		TargetType: in.TargetType,
		Status:     in.Status,
		Limit:      in.Limit,
		Offset:     in.Offset,
	})
	if err != nil {
		return nil, ListAnnotationsOutput{}, toolErr(err)
	}
	return nil, ListAnnotationsOutput{Annotations: anns, Count: len(anns)}, nil
}
