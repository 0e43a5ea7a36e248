package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"calsync/internal/model"
	"calsync/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

const sourceColumns = `id, user_id, is_public, name, url, format, persist_events, all_as_allday,
	 import_program, created_at, updated_at, last_fetched_at, file_hash, object_hash, object_hash_version`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; pinning the pool to one
	// connection also keeps the pragmas below in effect everywhere.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	// Event tags and occurrences are removed via cascading deletes.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// Source syncs run concurrent write transactions; wait for the
	// writer lock instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateSource inserts a new source and populates its ID and CreatedAt.
func (s *SQLite) CreateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (user_id, is_public, name, url, format, persist_events, all_as_allday, import_program, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.UserID, boolToInt(src.IsPublic), src.Name, src.URL, string(sourceFormat(src)),
		boolToInt(src.PersistEvents), boolToInt(src.AllAsAllDay), nullIfEmpty(src.ImportProgram), now,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	src.ID = id
	src.Format = sourceFormat(src)
	src.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetSource returns a single source by its ID.
func (s *SQLite) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id,
	)
	return scanSource(row)
}

// ListSources returns all configured sources.
func (s *SQLite) ListSources(ctx context.Context) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSources(rows)
}

// ListVisibleSources returns the viewer's own and all public sources,
// with the viewer's chosen per-source priority when one exists.
func (s *SQLite) ListVisibleSources(ctx context.Context, userID int64) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.is_public, s.name, s.url, s.format, s.persist_events, s.all_as_allday,
		        s.import_program, s.created_at, s.updated_at, s.last_fetched_at, s.file_hash, s.object_hash,
		        s.object_hash_version, p.priority
		 FROM sources AS s
		 LEFT JOIN source_priorities AS p ON p.source_id = s.id AND p.user_id = ?
		 WHERE s.is_public = 1 OR s.user_id = ?
		 ORDER BY s.id`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query visible sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.Source
	for rows.Next() {
		src, priority, err := scanSourceWithPriority(rows)
		if err != nil {
			return nil, err
		}
		src.ChosenPriority = priority
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// UpdateSource persists collaborator-editable source fields. The
// stored hashes are cleared so the next sync reprocesses the feed
// under the new settings instead of short-circuiting.
func (s *SQLite) UpdateSource(ctx context.Context, src *model.Source) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET is_public = ?, name = ?, url = ?, format = ?, persist_events = ?,
		        all_as_allday = ?, import_program = ?, updated_at = ?,
		        file_hash = NULL, object_hash = NULL, object_hash_version = 0
		 WHERE id = ?`,
		boolToInt(src.IsPublic), src.Name, src.URL, string(sourceFormat(src)),
		boolToInt(src.PersistEvents), boolToInt(src.AllAsAllDay), nullIfEmpty(src.ImportProgram), now, src.ID,
	)
	if err != nil {
		return fmt.Errorf("update source: %w", err)
	}
	return nil
}

// DeleteSource removes a source; its events, tags and occurrences
// cascade away with it.
func (s *SQLite) DeleteSource(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return nil
}

// SetSourcePriority records a viewer's chosen priority for one source.
func (s *SQLite) SetSourcePriority(ctx context.Context, sourceID, userID, priority int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO source_priorities (source_id, user_id, priority) VALUES (?, ?, ?)
		 ON CONFLICT(source_id, user_id) DO UPDATE SET priority = excluded.priority`,
		sourceID, userID, priority,
	)
	if err != nil {
		return fmt.Errorf("set source priority: %w", err)
	}
	return nil
}

// ListEvents returns a source's events, tags included, ordered by id.
func (s *SQLite) ListEvents(ctx context.Context, sourceID int64) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, uid, rrule, priority_override, dt_stamp, all_day, duration, summary, location, description
		 FROM events WHERE source_id = ? ORDER BY id`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		tags, err := s.eventTags(ctx, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Tags = tags
	}
	return events, nil
}

// ListOccurrences returns an event's occurrences ordered by start.
func (s *SQLite) ListOccurrences(ctx context.Context, eventID int64) ([]model.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, starts_at, from_rrule FROM event_occurrences
		 WHERE event_id = ? ORDER BY starts_at`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query occurrences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var occs []model.Occurrence
	for rows.Next() {
		var o model.Occurrence
		var fromRRule int
		if err := rows.Scan(&o.ID, &o.EventID, &o.StartsAt, &fromRRule); err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		o.FromRRule = fromRRule == 1
		occs = append(occs, o)
	}
	return occs, rows.Err()
}

func (s *SQLite) eventTags(ctx context.Context, eventID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tag FROM event_tags WHERE event_id = ? ORDER BY tag`, eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// Begin opens a sync transaction.
func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

func (t *sqliteTx) GetSource(ctx context.Context, id int64) (*model.Source, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id,
	)
	return scanSource(row)
}

func (t *sqliteTx) PurgeEventsNotIn(ctx context.Context, sourceID int64, uids []string) error {
	if len(uids) == 0 {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM events WHERE source_id = ?`, sourceID); err != nil {
			return fmt.Errorf("purge events: %w", err)
		}
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(uids)), ", ")
	args := make([]any, 0, len(uids)+1)
	args = append(args, sourceID)
	for _, uid := range uids {
		args = append(args, uid)
	}
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM events WHERE source_id = ? AND uid NOT IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("purge events: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteEventsByUID(ctx context.Context, sourceID int64, uid string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM events WHERE source_id = ? AND uid = ?`, sourceID, uid,
	)
	if err != nil {
		return fmt.Errorf("delete events by uid: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpsertEvent(ctx context.Context, ev *model.Event) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO events (source_id, uid, rrule, priority_override, dt_stamp, all_day, duration, summary, location, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, uid, rrule) DO UPDATE SET
		     priority_override = excluded.priority_override,
		     dt_stamp = excluded.dt_stamp,
		     all_day = excluded.all_day,
		     duration = excluded.duration,
		     summary = excluded.summary,
		     location = excluded.location,
		     description = excluded.description
		 RETURNING id`,
		ev.SourceID, ev.UID, ev.RRule, ev.PriorityOverride, ev.DtStamp,
		boolToInt(ev.AllDay), ev.Duration, ev.Summary, ev.Location, ev.Description,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert event: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) ReplaceTags(ctx context.Context, eventID int64, tags []string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM event_tags WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_tags (event_id, tag) VALUES (?, ?)`, eventID, tag,
		); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) InsertOccurrences(ctx context.Context, eventID int64, occs []model.Occurrence) error {
	for _, o := range occs {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO event_occurrences (event_id, starts_at, from_rrule) VALUES (?, ?, ?)
			 ON CONFLICT(event_id, starts_at) DO NOTHING`,
			eventID, o.StartsAt, boolToInt(o.FromRRule),
		); err != nil {
			return fmt.Errorf("insert occurrence: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) MarkFetched(ctx context.Context, sourceID int64, fetchedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE sources SET last_fetched_at = ? WHERE id = ?`,
		fetchedAt.UTC().Format(timeLayout), sourceID,
	)
	if err != nil {
		return fmt.Errorf("mark fetched: %w", err)
	}
	return nil
}

func (t *sqliteTx) SetFileHash(ctx context.Context, sourceID int64, fileHash string, fetchedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE sources SET file_hash = ?, last_fetched_at = ? WHERE id = ?`,
		fileHash, fetchedAt.UTC().Format(timeLayout), sourceID,
	)
	if err != nil {
		return fmt.Errorf("set file hash: %w", err)
	}
	return nil
}

func (t *sqliteTx) SetSyncState(ctx context.Context, sourceID int64, fileHash, objectHash string, objectHashVersion int, fetchedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE sources SET file_hash = ?, object_hash = ?, object_hash_version = ?, last_fetched_at = ? WHERE id = ?`,
		fileHash, objectHash, objectHashVersion, fetchedAt.UTC().Format(timeLayout), sourceID,
	)
	if err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

func sourceFormat(src *model.Source) model.SourceFormat {
	if src.Format == "" {
		return model.FormatICal
	}
	return src.Format
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	var isPublic, persist, allDay int
	var format string
	var program, fileHash, objectHash sql.NullString
	var created string
	var updated, fetched sql.NullString
	err := row.Scan(&src.ID, &src.UserID, &isPublic, &src.Name, &src.URL, &format,
		&persist, &allDay, &program, &created, &updated, &fetched,
		&fileHash, &objectHash, &src.ObjectHashVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.IsPublic = isPublic == 1
	src.Format = model.SourceFormat(format)
	src.PersistEvents = persist == 1
	src.AllAsAllDay = allDay == 1
	src.ImportProgram = program.String
	src.FileHash = fileHash.String
	src.ObjectHash = objectHash.String
	src.CreatedAt, _ = time.Parse(timeLayout, created)
	if updated.Valid {
		t, _ := time.Parse(timeLayout, updated.String)
		src.UpdatedAt = &t
	}
	if fetched.Valid {
		t, _ := time.Parse(timeLayout, fetched.String)
		src.LastFetchedAt = &t
	}
	return &src, nil
}

func scanSourceWithPriority(rows *sql.Rows) (*model.Source, *int64, error) {
	var src model.Source
	var isPublic, persist, allDay int
	var format string
	var program, fileHash, objectHash sql.NullString
	var created string
	var updated, fetched sql.NullString
	var priority sql.NullInt64
	err := rows.Scan(&src.ID, &src.UserID, &isPublic, &src.Name, &src.URL, &format,
		&persist, &allDay, &program, &created, &updated, &fetched,
		&fileHash, &objectHash, &src.ObjectHashVersion, &priority)
	if err != nil {
		return nil, nil, fmt.Errorf("scan source: %w", err)
	}
	src.IsPublic = isPublic == 1
	src.Format = model.SourceFormat(format)
	src.PersistEvents = persist == 1
	src.AllAsAllDay = allDay == 1
	src.ImportProgram = program.String
	src.FileHash = fileHash.String
	src.ObjectHash = objectHash.String
	src.CreatedAt, _ = time.Parse(timeLayout, created)
	if updated.Valid {
		t, _ := time.Parse(timeLayout, updated.String)
		src.UpdatedAt = &t
	}
	if fetched.Valid {
		t, _ := time.Parse(timeLayout, fetched.String)
		src.LastFetchedAt = &t
	}
	var chosen *int64
	if priority.Valid {
		chosen = &priority.Int64
	}
	return &src, chosen, nil
}

func scanSources(rows *sql.Rows) ([]model.Source, error) {
	var sources []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

func scanEvent(row scannable) (*model.Event, error) {
	var ev model.Event
	var allDay int
	var priority, dtStamp, duration sql.NullInt64
	err := row.Scan(&ev.ID, &ev.SourceID, &ev.UID, &ev.RRule, &priority, &dtStamp,
		&allDay, &duration, &ev.Summary, &ev.Location, &ev.Description)
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	ev.AllDay = allDay == 1
	if priority.Valid {
		ev.PriorityOverride = &priority.Int64
	}
	if dtStamp.Valid {
		ev.DtStamp = &dtStamp.Int64
	}
	if duration.Valid {
		ev.Duration = &duration.Int64
	}
	return &ev, nil
}
