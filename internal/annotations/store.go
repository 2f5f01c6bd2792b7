// Package annotations persists triage state for chunks and duplicate groups
// in SQLite. Writes are concurrency-safe: the database runs in WAL mode and
// group fan-out happens inside a single transaction.
package annotations

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"dupescope/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotations (
	session_id     TEXT NOT NULL,
	target_type    TEXT NOT NULL,
	target_id      TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'todo',
	human_priority INTEGER,
	ai_priority    INTEGER,
	comment        TEXT NOT NULL DEFAULT '',
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (session_id, target_type, target_id)
);
CREATE INDEX IF NOT EXISTS idx_annotations_status
	ON annotations (session_id, target_type, status);
`

// Store is the annotation database scoped to one session id.
type Store struct {
	db                 *sql.DB
	sessionID          string
	allowHumanPriority bool
}

// Options configure a store.
type Options struct {
	// Path to the database file. Empty means ~/.dupescope/annotations.db.
	Path string
	// SessionID scopes all reads and writes. Empty means "default".
	SessionID string
	// AllowHumanPriority permits writes to the human_priority field.
	AllowHumanPriority bool
}

// NewStore opens (and if needed creates) the annotation database.
func NewStore(opts Options) (*Store, error) {
	path := opts.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".dupescope", "annotations.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	return &Store{
		db:                 db,
		sessionID:          sessionID,
		allowHumanPriority: opts.AllowHumanPriority,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionID returns the session this store is scoped to.
func (s *Store) SessionID() string {
	return s.sessionID
}

func validTargetType(t string) bool {
	return t == models.TargetChunk || t == models.TargetDupGroup
}

// Set upserts one annotation. Unset fields keep their stored value; a fresh
// row starts from the implicit default. Writing human_priority without
// authorization fails with ErrPermissionDenied and changes nothing.
func (s *Store) Set(ctx context.Context, p models.AnnotationSetParams) (models.Annotation, error) {
	var zero models.Annotation

	if !validTargetType(p.TargetType) {
		return zero, fmt.Errorf("%w: target_type %q", models.ErrInvalidInput, p.TargetType)
	}
	if p.TargetID == "" {
		return zero, fmt.Errorf("%w: target_id is required", models.ErrInvalidInput)
	}
	if p.Status != nil && !models.ValidStatus(*p.Status) {
		return zero, fmt.Errorf("%w: status %q", models.ErrInvalidInput, *p.Status)
	}
	if p.HumanPriority != nil && !s.allowHumanPriority {
		return zero, fmt.Errorf("%w: human_priority updates are disabled", models.ErrPermissionDenied)
	}

	// priority is the legacy alias for ai_priority.
	aiPriority := p.AIPriority
	if aiPriority == nil {
		aiPriority = p.Priority
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO annotations
			(session_id, target_type, target_id, status, human_priority, ai_priority, comment, updated_at)
		VALUES (?, ?, ?, COALESCE(?, 'todo'), ?, ?, COALESCE(?, ''), ?)
		ON CONFLICT(session_id, target_type, target_id) DO UPDATE SET
			status         = COALESCE(?, annotations.status),
			human_priority = COALESCE(?, annotations.human_priority),
			ai_priority    = COALESCE(?, annotations.ai_priority),
			comment        = COALESCE(?, annotations.comment),
			updated_at     = excluded.updated_at`,
		s.sessionID, p.TargetType, p.TargetID,
		p.Status, p.HumanPriority, aiPriority, p.Comment, now,
		p.Status, p.HumanPriority, aiPriority, p.Comment,
	)
	if err != nil {
		return zero, fmt.Errorf("upsert annotation: %w", err)
	}

	return s.Get(ctx, p.TargetType, p.TargetID)
}

// Get returns the annotation for a target. A target never written returns its
// implicit default rather than an error.
func (s *Store) Get(ctx context.Context, targetType, targetID string) (models.Annotation, error) {
	var zero models.Annotation
	if !validTargetType(targetType) {
		return zero, fmt.Errorf("%w: target_type %q", models.ErrInvalidInput, targetType)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, target_type, target_id, status,
		       human_priority, ai_priority, comment, updated_at
		FROM annotations
		WHERE session_id = ? AND target_type = ? AND target_id = ?`,
		s.sessionID, targetType, targetID,
	)

	a, err := scanAnnotation(row)
	if err == sql.ErrNoRows {
		return models.DefaultAnnotation(s.sessionID, targetType, targetID), nil
	}
	if err != nil {
		return zero, fmt.Errorf("read annotation: %w", err)
	}
	return a, nil
}

// BulkGet returns annotations for many targets of one type. Targets without a
// stored row come back as defaults, so every requested id has an entry.
func (s *Store) BulkGet(ctx context.Context, targetType string, targetIDs []string) (map[string]models.Annotation, error) {
	if !validTargetType(targetType) {
		return nil, fmt.Errorf("%w: target_type %q", models.ErrInvalidInput, targetType)
	}

	out := make(map[string]models.Annotation, len(targetIDs))
	for _, id := range targetIDs {
		out[id] = models.DefaultAnnotation(s.sessionID, targetType, id)
	}
	if len(targetIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(targetIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(targetIDs)+2)
	args = append(args, s.sessionID, targetType)
	for _, id := range targetIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, target_type, target_id, status,
		       human_priority, ai_priority, comment, updated_at
		FROM annotations
		WHERE session_id = ? AND target_type = ? AND target_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("bulk read annotations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("bulk read annotations: %w", err)
		}
		out[a.TargetID] = a
	}
	return out, rows.Err()
}

// List returns stored annotations matching the filters, newest first.
func (s *Store) List(ctx context.Context, p models.AnnotationListParams) ([]models.Annotation, error) {
	var (
		conds = []string{"session_id = ?"}
		args  = []any{s.sessionID}
	)
	if p.TargetType != "" {
		if !validTargetType(p.TargetType) {
			return nil, fmt.Errorf("%w: target_type %q", models.ErrInvalidInput, p.TargetType)
		}
		conds = append(conds, "target_type = ?")
		args = append(args, p.TargetType)
	}
	if p.Status != "" {
		if !models.ValidStatus(p.Status) {
			return nil, fmt.Errorf("%w: status %q", models.ErrInvalidInput, p.Status)
		}
		conds = append(conds, "status = ?")
		args = append(args, p.Status)
	}

	limit := p.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, target_type, target_id, status,
		       human_priority, ai_priority, comment, updated_at
		FROM annotations
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY updated_at DESC, target_id
		LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	var out []models.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("list annotations: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetGroupStatus sets the status of a duplicate group and fans it out to
// every member chunk in one transaction: either the group row and all member
// rows move, or none do. Returns the number of chunk annotations written.
func (s *Store) SetGroupStatus(ctx context.Context, groupID, status string, memberChunkIDs []string) (int, error) {
	if !models.ValidStatus(status) {
		return 0, fmt.Errorf("%w: status %q", models.ErrInvalidInput, status)
	}
	if groupID == "" {
		return 0, fmt.Errorf("%w: group id is required", models.ErrInvalidInput)
	}

	n, err := s.setGroupStatusTx(ctx, groupID, status, memberChunkIDs)
	if err != nil && isBusy(err) {
		// One retry after a lost write race.
		n, err = s.setGroupStatusTx(ctx, groupID, status, memberChunkIDs)
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) setGroupStatusTx(ctx context.Context, groupID, status string, memberChunkIDs []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin group update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().Format(time.RFC3339)
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annotations
			(session_id, target_type, target_id, status, comment, updated_at)
		VALUES (?, ?, ?, ?, '', ?)
		ON CONFLICT(session_id, target_type, target_id) DO UPDATE SET
			status     = excluded.status,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("prepare group update: %w", err)
	}
	defer stmt.Close()

	if _, err := stmt.ExecContext(ctx, s.sessionID, models.TargetDupGroup, groupID, status, now); err != nil {
		return 0, fmt.Errorf("write group annotation: %w", err)
	}

	written := 0
	for _, chunkID := range memberChunkIDs {
		if _, err := stmt.ExecContext(ctx, s.sessionID, models.TargetChunk, chunkID, status, now); err != nil {
			return 0, fmt.Errorf("write member annotation %s: %w", chunkID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit group update: %w", err)
	}
	return written, nil
}

func isBusy(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// StatusMap returns target_id -> status for one target type. Targets without
// a row are absent and implicitly "todo".
func (s *Store) StatusMap(ctx context.Context, targetType string) (map[string]string, error) {
	if !validTargetType(targetType) {
		return nil, fmt.Errorf("%w: target_type %q", models.ErrInvalidInput, targetType)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT target_id, status FROM annotations
		WHERE session_id = ? AND target_type = ?`,
		s.sessionID, targetType,
	)
	if err != nil {
		return nil, fmt.Errorf("read status map: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("read status map: %w", err)
		}
		out[id] = status
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (models.Annotation, error) {
	var (
		a         models.Annotation
		humanPrio sql.NullInt64
		aiPrio    sql.NullInt64
		updatedAt string
	)
	err := row.Scan(&a.SessionID, &a.TargetType, &a.TargetID, &a.Status,
		&humanPrio, &aiPrio, &a.Comment, &updatedAt)
	if err != nil {
		return a, err
	}
	a.HumanPriority = int(humanPrio.Int64)
	a.AIPriority = int(aiPrio.Int64)
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		a.UpdatedAt = t
	}
	return a, nil
}
