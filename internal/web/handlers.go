package web

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"dupescope/internal/annotations"
	"dupescope/internal/indexer"
	"dupescope/internal/models"
	"dupescope/internal/query"
	"dupescope/internal/vectorindex"
)

var validate = validator.New()

// Handler serves the HTTP API over the query engine and annotation store.
type Handler struct {
	engine    *query.Engine
	store     *annotations.Store
	vectors   *vectorindex.Store
	outputDir string

	allowHumanPriority bool
}

func NewHandler(engine *query.Engine, store *annotations.Store, vectors *vectorindex.Store, outputDir string, allowHumanPriority bool) *Handler {
	return &Handler{
		engine:             engine,
		store:              store,
		vectors:            vectors,
		outputDir:          outputDir,
		allowHumanPriority: allowHumanPriority,
	}
}

func (h *Handler) HandleHealth(c *fiber.Ctx) error {
	resp := fiber.Map{
		"ok":                          true,
		"output_dir":                  h.outputDir,
		"session_id":                  h.store.SessionID(),
		"allow_human_priority_update": h.allowHumanPriority,
	}
	if h.vectors != nil {
		resp["vector_index"] = h.vectors.Health()
	}
	return c.JSON(resp)
}

func (h *Handler) HandleStats(c *fiber.Ctx) error {
	stats, err := indexer.LoadStats(filepath.Join(h.outputDir, "stats.json"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "data": stats})
}

func excludeStatusesFromQuery(c *fiber.Ctx) []string {
	var exclude []string
	if raw := c.Query("exclude_statuses"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				exclude = append(exclude, s)
			}
		}
	}
	return exclude
}

func searchParamsFromQuery(c *fiber.Ctx) models.SearchParams {
	intQ := func(key string) *int {
		if c.Query(key) == "" {
			return nil
		}
		v := c.QueryInt(key)
		return &v
	}

	return models.SearchParams{
		Repo:               c.Query("repo"),
		PathContains:       c.Query("path_contains"),
		Language:           c.Query("language"),
		NodeType:           c.Query("node_type"),
		Fingerprint:        c.Query("fingerprint"),
		TextContains:       c.Query("text_contains"),
		NormalizedContains: c.Query("normalized_contains"),
		ExcludeStatuses:    excludeStatusesFromQuery(c),
		MinTokens:          intQ("min_tokens"),
		MaxTokens:          intQ("max_tokens"),
		MinLines:           intQ("min_lines"),
		MaxLines:           intQ("max_lines"),
		MinDupCount:        intQ("min_dup_count"),
		MaxDupCount:        intQ("max_dup_count"),
		SortBy:             c.Query("sort_by"),
		SortOrder:          c.Query("sort_order"),
		Limit:              c.QueryInt("limit"),
		Offset:             c.QueryInt("offset"),
	}
}

func (h *Handler) HandleChunkSearch(c *fiber.Ctx) error {
	res, err := h.engine.SearchChunks(c.Context(), searchParamsFromQuery(c))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (h *Handler) HandleChunkText(c *fiber.Ctx) error {
	chunkID := c.Query("chunk_id")
	if chunkID == "" {
		return fmt.Errorf("%w: chunk_id is required", models.ErrInvalidInput)
	}
	text, truncated, err := h.engine.ChunkText(chunkID, c.QueryInt("max_length"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"chunk_id": chunkID, "text": text, "raw_text_truncated": truncated})
}

func groupParamsFromQuery(c *fiber.Ctx) models.GroupListParams {
	return models.GroupListParams{
		MinCount:        c.QueryInt("min_count"),
		Limit:           c.QueryInt("limit"),
		Offset:          c.QueryInt("offset"),
		MaxChunkIDs:     c.QueryInt("max_chunk_ids"),
		ExcludeStatuses: excludeStatusesFromQuery(c),
	}
}

func (h *Handler) HandleDupsList(c *fiber.Ctx) error {
	page, err := h.engine.ListGroups(c.Context(), groupParamsFromQuery(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handler) HandleDupsListFiltered(c *fiber.Ctx) error {
	page, err := h.engine.ListGroupsFiltered(c.Context(), groupParamsFromQuery(c), searchParamsFromQuery(c))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *Handler) HandleDupsGet(c *fiber.Ctx) error {
	fp := c.Query("fingerprint")
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", models.ErrInvalidInput)
	}
	detail, err := h.engine.GetGroup(c.Context(), fp, c.QueryBool("include_chunks"), c.QueryInt("chunk_text_max"))
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

func (h *Handler) HandleDupsGetFiltered(c *fiber.Ctx) error {
	fp := c.Query("fingerprint")
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", models.ErrInvalidInput)
	}
	detail, err := h.engine.GetGroupFiltered(c.Context(), fp, searchParamsFromQuery(c), c.QueryInt("chunk_text_max"))
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

func (h *Handler) HandleAnnotationGet(c *fiber.Ctx) error {
	ann, err := h.store.Get(c.Context(), c.Query("target_type"), c.Query("target_id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"item": ann})
}

func (h *Handler) HandleAnnotationsList(c *fiber.Ctx) error {
	anns, err := h.store.List(c.Context(), models.AnnotationListParams{
		TargetType: c.Query("target_type"),
		Status:     c.Query("status"),
		Limit:      c.QueryInt("limit"),
		Offset:     c.QueryInt("offset"),
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"items": anns, "count": len(anns)})
}

// SetAnnotationRequest is the body of POST /api/annotations/set.
type SetAnnotationRequest struct {
	TargetType    string  `json:"target_type" validate:"required,oneof=chunk dup_group"`
	TargetID      string  `json:"target_id" validate:"required"`
	Status        *string `json:"status,omitempty" validate:"omitempty,oneof=todo skip done"`
	Priority      *int    `json:"priority,omitempty"`
	AIPriority    *int    `json:"ai_priority,omitempty"`
	HumanPriority *int    `json:"human_priority,omitempty"`
	Comment       *string `json:"comment,omitempty"`
}

func validateBody(v any) error {
	if err := validate.Struct(v); err != nil {
		errs := err.(validator.ValidationErrors)
		fields := make(map[string]string)
		for _, e := range errs {
			fields[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return NewValidationError(fields)
	}
	return nil
}

func (h *Handler) HandleAnnotationSet(c *fiber.Ctx) error {
	var req SetAnnotationRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid JSON body", models.ErrInvalidInput)
	}
	if err := validateBody(&req); err != nil {
		return err
	}

	ann, err := h.store.Set(c.Context(), models.AnnotationSetParams{
		TargetType:    req.TargetType,
		TargetID:      req.TargetID,
		Status:        req.Status,
		Priority:      req.Priority,
		AIPriority:    req.AIPriority,
		HumanPriority: req.HumanPriority,
		Comment:       req.Comment,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"item": ann})
}

// SetGroupStatusRequest is the body of POST /api/annotations/set_group_status.
type SetGroupStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=todo skip done"`
}

// HandleSetGroupStatus fans one status out to a duplicate group and all of
// its member chunks atomically.
func (h *Handler) HandleSetGroupStatus(c *fiber.Ctx) error {
	fp := c.Query("fingerprint")
	if fp == "" {
		return fmt.Errorf("%w: fingerprint is required", models.ErrInvalidInput)
	}

	var req SetGroupStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid JSON body", models.ErrInvalidInput)
	}
	if err := validateBody(&req); err != nil {
		return err
	}

	updated, err := h.engine.SetGroupStatus(c.Context(), fp, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true, "updated": updated, "status": req.Status})
}

// BulkGetRequest is the body of POST /api/annotations/bulk_get.
type BulkGetRequest struct {
	TargetType string   `json:"target_type" validate:"required,oneof=chunk dup_group"`
	TargetIDs  []string `json:"target_ids" validate:"required"`
}

func (h *Handler) HandleAnnotationsBulkGet(c *fiber.Ctx) error {
	var req BulkGetRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid JSON body", models.ErrInvalidInput)
	}
	if err := validateBody(&req); err != nil {
		return err
	}

	anns, err := h.store.BulkGet(c.Context(), req.TargetType, req.TargetIDs)
	if err != nil {
		return err
	}

	items := make([]models.Annotation, 0, len(req.TargetIDs))
	for _, id := range req.TargetIDs {
		if id == "" {
			continue
		}
		items = append(items, anns[id])
	}
	return c.JSON(fiber.Map{"items": items, "count": len(items)})
}
