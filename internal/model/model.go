// Package model defines the domain types used across the application.
package model

import "time"

// DefaultPriority is the priority assumed for events without an override.
const DefaultPriority int64 = 5

// SourceFormat identifies the wire format of a subscribed feed.
type SourceFormat string

// Supported feed formats.
const (
	FormatICal SourceFormat = "ical"
	FormatRSS  SourceFormat = "rss"
)

// Source represents a subscribed external feed.
type Source struct {
	ID            int64
	UserID        int64
	IsPublic      bool
	Name          string
	URL           string
	Format        SourceFormat
	PersistEvents bool
	AllAsAllDay   bool
	// ImportProgram is the optional per-source transformation program.
	// Empty means events are stored as parsed.
	ImportProgram string
	CreatedAt     time.Time
	UpdatedAt     *time.Time
	LastFetchedAt *time.Time
	// FileHash is the digest of the last fetched raw body.
	FileHash string
	// ObjectHash is the digest of the last reconciled event set, valid
	// only while ObjectHashVersion matches the engine's current version.
	ObjectHash        string
	ObjectHashVersion int
	// ChosenPriority is the viewer's per-source priority, populated by
	// the visible-source join. Nil when the viewer has not chosen one.
	ChosenPriority *int64
}

// Event is one calendar entry materialized from a source. The tuple
// (SourceID, UID, RRule) identifies it across syncs.
type Event struct {
	ID       int64
	SourceID int64
	UID      string
	// RRule is the raw recurrence rule text; empty for one-off events.
	RRule            string
	PriorityOverride *int64
	// DtStamp is the feed-declared generation timestamp. It is stored
	// but excluded from change detection, as many feeds bump it on
	// every fetch.
	DtStamp     *int64
	AllDay      bool
	Duration    *int64 // seconds
	Summary     string
	Location    string
	Description string
	Tags        []string
}

// Occurrence is one concrete instant at which an event manifests.
type Occurrence struct {
	ID        int64
	EventID   int64
	StartsAt  int64 // epoch seconds
	FromRRule bool
}

// SourcePriority is a viewer's chosen priority for one source.
type SourcePriority struct {
	SourceID int64
	UserID   int64
	Priority int64
}
