// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"calsync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	ListSources(ctx context.Context) ([]model.Source, error)
	// ListVisibleSources returns the sources a viewer may see: their
	// own plus public ones, with the viewer's chosen priority joined in.
	ListVisibleSources(ctx context.Context, userID int64) ([]model.Source, error)
	UpdateSource(ctx context.Context, src *model.Source) error
	DeleteSource(ctx context.Context, id int64) error
	SetSourcePriority(ctx context.Context, sourceID, userID, priority int64) error

	ListEvents(ctx context.Context, sourceID int64) ([]model.Event, error)
	ListOccurrences(ctx context.Context, eventID int64) ([]model.Occurrence, error)

	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one source's sync transaction. All writes of a sync happen
// through it; they become visible to readers only after Commit.
type Tx interface {
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	// PurgeEventsNotIn deletes this source's events whose uid is absent
	// from the given set. An empty set deletes every event.
	PurgeEventsNotIn(ctx context.Context, sourceID int64, uids []string) error
	// DeleteEventsByUID removes all events sharing the uid, regardless
	// of recurrence rule.
	DeleteEventsByUID(ctx context.Context, sourceID int64, uid string) error
	// UpsertEvent inserts or updates by the (source_id, uid, rrule)
	// natural key and returns the row id.
	UpsertEvent(ctx context.Context, ev *model.Event) (int64, error)
	// ReplaceTags atomically swaps an event's tag set.
	ReplaceTags(ctx context.Context, eventID int64, tags []string) error
	// InsertOccurrences adds occurrences, ignoring ones that already
	// exist under the (event_id, starts_at) key.
	InsertOccurrences(ctx context.Context, eventID int64, occs []model.Occurrence) error
	// MarkFetched updates only the source's fetch timestamp.
	MarkFetched(ctx context.Context, sourceID int64, fetchedAt time.Time) error
	// SetFileHash records a new transport hash and fetch timestamp,
	// leaving the semantic hash pair untouched.
	SetFileHash(ctx context.Context, sourceID int64, fileHash string, fetchedAt time.Time) error
	// SetSyncState records both hashes, the semantic hash schema
	// version and the fetch timestamp after a full reconciliation.
	SetSyncState(ctx context.Context, sourceID int64, fileHash, objectHash string, objectHashVersion int, fetchedAt time.Time) error

	Commit() error
	Rollback() error
}
