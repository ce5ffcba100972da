// ABOUTME: Storage interface and models for persistent agent data
// ABOUTME: Notes are key/value pairs scoped to the owning subject

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Note is one key/value pair owned by a subject.
type Note struct {
	ID        string
	Owner     string
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NoteStore persists notes. Keys are unique per owner.
type NoteStore interface {
	// SetNote creates the note or replaces the value of an existing key.
	SetNote(ctx context.Context, note *Note) error
	GetNote(ctx context.Context, owner, key string) (*Note, error)
	// ListNotes returns the owner's notes ordered by key.
	ListNotes(ctx context.Context, owner string) ([]*Note, error)
	DeleteNote(ctx context.Context, owner, key string) error
	Close() error
}
