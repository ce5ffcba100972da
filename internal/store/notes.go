// ABOUTME: Note persistence on SQLiteStore
// ABOUTME: Upserts on (owner, key) and lists keys in ascending order

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SetNote creates or updates a note.
func (s *SQLiteStore) SetNote(ctx context.Context, note *Note) error {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, owner, key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, note.ID, note.Owner, note.Key, note.Value, note.CreatedAt.Format(time.RFC3339Nano), note.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving note: %w", err)
	}
	return nil
}

// GetNote retrieves a note by owner and key.
func (s *SQLiteStore) GetNote(ctx context.Context, owner, key string) (*Note, error) {
	var n Note
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, key, value, created_at, updated_at
		FROM notes WHERE owner = ? AND key = ?
	`, owner, key).Scan(&n.ID, &n.Owner, &n.Key, &n.Value, &createdAt, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading note: %w", err)
	}

	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &n, nil
}

// ListNotes lists all notes for an owner.
func (s *SQLiteStore) ListNotes(ctx context.Context, owner string) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, key, value, created_at, updated_at
		FROM notes WHERE owner = ?
		ORDER BY key ASC
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notes := []*Note{}
	for rows.Next() {
		var n Note
		var createdAt, updatedAt string
		if err := rows.Scan(&n.ID, &n.Owner, &n.Key, &n.Value, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		notes = append(notes, &n)
	}
	return notes, rows.Err()
}

// DeleteNote deletes a note by owner and key.
func (s *SQLiteStore) DeleteNote(ctx context.Context, owner, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE owner = ? AND key = ?`, owner, key)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
