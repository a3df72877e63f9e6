package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/tiwaz/internal/export"
	"github.com/starford/tiwaz/internal/need"
	"github.com/starford/tiwaz/internal/storage"
)

// ErrNotFound is returned when a need is not in the index.
var ErrNotFound = errors.New("index: not found")

// NeedRow represents a row in the needs table.
type NeedRow struct {
	ID         string
	DocName    string
	Type       string
	Title      string
	Status     *string
	Tags       []string
	Hide       bool
	IsExternal bool
	// Record is the exported form of the need.
	Record map[string]any
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string
	Title   string
	Snippet string
}

// ListQuery narrows ListNeeds. Empty fields match everything.
type ListQuery struct {
	Type   string
	Status string
	Limit  int
	Offset int
}

// ReplaceNeeds swaps the indexed needs for the given set in one transaction.
// Links are stored per category for every option in linkOptions.
func (db *DB) ReplaceNeeds(needs []*need.Need, linkOptions []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, q := range []string{`DELETE FROM links`, `DELETE FROM needs`} {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("index: clear: %w", err)
		}
	}
	if err := ftsClear(tx); err != nil {
		return err
	}

	insNeed, err := tx.Prepare(`
		INSERT INTO needs (id, docname, type, title, status, tags, content, hide, is_external, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare need insert: %w", err)
	}
	defer insNeed.Close()
	insLink, err := tx.Prepare(`INSERT OR IGNORE INTO links (source, target, category) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer insLink.Close()

	for _, n := range needs {
		tagsJSON, _ := json.Marshal(nonNil(n.Tags))
		record, err := json.Marshal(export.Record(n))
		if err != nil {
			return fmt.Errorf("index: encode %s: %w", n.ID, err)
		}
		if _, err := insNeed.Exec(n.ID, n.DocName, n.Type, n.Title, n.Status, string(tagsJSON),
			n.Content, n.Hide, n.IsExternal, string(record)); err != nil {
			return fmt.Errorf("index: insert need %s: %w", n.ID, err)
		}
		if err := ftsInsert(tx, n.ID, n.Title, n.Content, n.Tags); err != nil {
			return err
		}
		for _, cat := range linkOptions {
			for _, target := range n.Links[cat] {
				if _, err := insLink.Exec(n.ID, target, cat); err != nil {
					return fmt.Errorf("index: insert link: %w", err)
				}
			}
		}
	}
	return tx.Commit()
}

// GetNeed returns one indexed need.
func (db *DB) GetNeed(id string) (*NeedRow, error) {
	row := db.conn.QueryRow(`
		SELECT id, docname, type, title, status, tags, hide, is_external, record
		FROM needs WHERE id = ?
	`, id)
	r, err := scanNeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get need: %w", err)
	}
	return r, nil
}

// ListNeeds returns a page of needs in id order and the total match count.
func (db *DB) ListNeeds(q ListQuery) ([]NeedRow, int, error) {
	var where []string
	var args []any
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM needs`+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count needs: %w", err)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.Query(`
		SELECT id, docname, type, title, status, tags, hide, is_external, record
		FROM needs`+cond+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list needs: %w", err)
	}
	defer rows.Close()

	var out []NeedRow
	for rows.Next() {
		r, err := scanNeed(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// Backlinks returns the ids of needs linking to target in category, or in
// any category when category is empty.
func (db *DB) Backlinks(target, category string) ([]string, error) {
	query := `SELECT DISTINCT source FROM links WHERE target = ?`
	args := []any{target}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	rows, err := db.conn.Query(query+` ORDER BY source`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReplaceDocuments records the checksums of the documents of the last build.
func (db *DB) ReplaceDocuments(docs []storage.Document) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM documents`); err != nil {
		return fmt.Errorf("index: clear documents: %w", err)
	}
	for _, d := range docs {
		if _, err := tx.Exec(`INSERT INTO documents (path, checksum, updated_at) VALUES (?, ?, ?)`,
			d.Path, d.Checksum, d.UpdatedAt); err != nil {
			return fmt.Errorf("index: insert document: %w", err)
		}
	}
	return tx.Commit()
}

// AllChecksums returns path → checksum for every recorded document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNeed(s scanner) (*NeedRow, error) {
	var (
		r            NeedRow
		status       sql.NullString
		tags, record string
	)
	if err := s.Scan(&r.ID, &r.DocName, &r.Type, &r.Title, &status, &tags, &r.Hide, &r.IsExternal, &record); err != nil {
		return nil, err
	}
	if status.Valid {
		st := status.String
		r.Status = &st
	}
	_ = json.Unmarshal([]byte(tags), &r.Tags)
	if err := json.Unmarshal([]byte(record), &r.Record); err != nil {
		return nil, fmt.Errorf("index: decode %s: %w", r.ID, err)
	}
	return &r, nil
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
