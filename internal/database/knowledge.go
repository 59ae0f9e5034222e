package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// KnowledgeEntry is an admin-maintained fact the agent may answer from.
type KnowledgeEntry struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Category  string    `json:"category,omitempty"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KnowledgeFilter narrows ListKnowledge. Zero values match everything.
type KnowledgeFilter struct {
	Language   string
	ActiveOnly bool
}

// KnowledgeUpdate carries the fields to change; nil fields are left as is.
type KnowledgeUpdate struct {
	Title    *string `json:"title"`
	Category *string `json:"category"`
	Content  *string `json:"content"`
	Language *string `json:"language"`
	IsActive *bool   `json:"is_active"`
}

const knowledgeColumns = `id, title, category, content, language, is_active, created_at, updated_at`

func scanKnowledge(row interface{ Scan(...any) error }) (KnowledgeEntry, error) {
	var e KnowledgeEntry
	var category sql.NullString
	err := row.Scan(&e.ID, &e.Title, &category, &e.Content, &e.Language, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	e.Category = category.String
	return e, err
}

// CreateKnowledge inserts e and sets its ID and timestamps.
func (db *DB) CreateKnowledge(ctx context.Context, e *KnowledgeEntry) error {
	now := time.Now().UTC()
	if e.Language == "" {
		e.Language = "en"
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (title, category, content, language, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Title, e.Category, e.Content, e.Language, e.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("insert knowledge entry: %w", err)
	}
	e.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

// GetKnowledge returns one entry.
func (db *DB) GetKnowledge(ctx context.Context, id int64) (*KnowledgeEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE id = ?`, id)
	e, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge entry %d: %w", id, err)
	}
	return &e, nil
}

// ListKnowledge returns entries matching f, newest first.
func (db *DB) ListKnowledge(ctx context.Context, f KnowledgeFilter) ([]KnowledgeEntry, error) {
	var where []string
	var args []any
	if f.Language != "" {
		where = append(where, "language = ?")
		args = append(args, f.Language)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()

	out := []KnowledgeEntry{}
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan knowledge entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ActiveEntries returns the active entries for lang.
func (db *DB) ActiveEntries(ctx context.Context, lang string) ([]KnowledgeEntry, error) {
	return db.ListKnowledge(ctx, KnowledgeFilter{Language: lang, ActiveOnly: true})
}

// UpdateKnowledge applies u to entry id and returns the updated entry.
func (db *DB) UpdateKnowledge(ctx context.Context, id int64, u KnowledgeUpdate) (*KnowledgeEntry, error) {
	e, err := db.GetKnowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Title != nil {
		e.Title = *u.Title
	}
	if u.Category != nil {
		e.Category = *u.Category
	}
	if u.Content != nil {
		e.Content = *u.Content
	}
	if u.Language != nil {
		e.Language = *u.Language
	}
	if u.IsActive != nil {
		e.IsActive = *u.IsActive
	}
	e.UpdatedAt = time.Now().UTC()

	_, err = db.ExecContext(ctx, `
		UPDATE knowledge_entries
		SET title = ?, category = ?, content = ?, language = ?, is_active = ?, updated_at = ?
		WHERE id = ?`,
		e.Title, e.Category, e.Content, e.Language, e.IsActive, e.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("update knowledge entry %d: %w", id, err)
	}
	return e, nil
}

// DeleteKnowledge removes entry id.
func (db *DB) DeleteKnowledge(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM knowledge_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete knowledge entry %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedKnowledge inserts entries when the table is empty.
func (db *DB) SeedKnowledge(ctx context.Context, entries []KnowledgeEntry) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count knowledge entries: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	for i := range entries {
		if err := db.CreateKnowledge(ctx, &entries[i]); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}
