// Package sync drives the per-source fetch-and-reconcile pipeline and
// fans it out across all configured sources.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"calsync/internal/fetcher"
	"calsync/internal/model"
	"calsync/internal/parser"
	"calsync/internal/recur"
	"calsync/internal/storage"
	"calsync/internal/transform"
)

// ErrSourceNotFound reports that the source row vanished between
// trigger and execution.
var ErrSourceNotFound = errors.New("source not found")

// Result is the tagged outcome of one source's sync within a round.
type Result struct {
	SourceID   int64
	SourceName string
	Changed    bool
	Err        error
}

// Engine runs sync pipelines against the store.
type Engine struct {
	store   storage.Storage
	fetcher *fetcher.Fetcher
	log     *slog.Logger
	// newTransformer builds the transformer for a source's program.
	newTransformer func(program string) transform.Transformer
	now            func() time.Time
}

// New creates an Engine with the Lua transformation engine.
func New(store storage.Storage, f *fetcher.Fetcher, log *slog.Logger) *Engine {
	return &Engine{
		store:   store,
		fetcher: f,
		log:     log,
		newTransformer: func(program string) transform.Transformer {
			return transform.NewLua(program)
		},
		now: time.Now,
	}
}

// SetNow overrides the engine clock (useful for testing).
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// SyncAll syncs every configured source concurrently, one goroutine
// and one transaction per source. Failures are logged with the
// source's identity and collected into the round summary; they never
// propagate across sources.
func (e *Engine) SyncAll(ctx context.Context) ([]Result, error) {
	sources, err := e.store.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	results := make([]Result, len(sources))
	var wg gosync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src model.Source) {
			defer wg.Done()
			changed, err := e.SyncOne(ctx, src.ID)
			results[i] = Result{SourceID: src.ID, SourceName: src.Name, Changed: changed, Err: err}
		}(i, src)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			e.log.Error("sync source", "source_id", r.SourceID, "name", r.SourceName, "error", r.Err)
		} else if r.Changed {
			e.log.Info("source updated", "source_id", r.SourceID, "name", r.SourceName)
		}
	}
	return results, nil
}

// SyncOne runs the pipeline for a single source in its own
// transaction, committing on success and rolling back on any error.
func (e *Engine) SyncOne(ctx context.Context, sourceID int64) (bool, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	changed, err := e.SyncSource(ctx, tx, sourceID)
	if err != nil {
		_ = tx.Rollback()
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return changed, nil
}

// SyncSource runs the fetch → parse → expand → transform → reconcile
// pipeline for one source inside the caller's transaction. It reports
// whether anything beyond the fetch timestamp changed.
func (e *Engine) SyncSource(ctx context.Context, tx storage.Tx, sourceID int64) (bool, error) {
	src, err := tx.GetSource(ctx, sourceID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, ErrSourceNotFound
	}
	if err != nil {
		return false, err
	}
	now := e.now()

	res, err := e.fetcher.Fetch(ctx, src.URL, src.FileHash)
	if err != nil {
		return false, fmt.Errorf("fetch: %w", err)
	}
	if res.Unchanged {
		// Transport gate: identical bytes, nothing to do.
		if err := tx.MarkFetched(ctx, src.ID, now); err != nil {
			return false, err
		}
		return false, nil
	}

	records, err := parser.Parse(src, res.Body)
	if err != nil {
		return false, fmt.Errorf("parse: %w", err)
	}

	var tr transform.Transformer
	if src.ImportProgram != "" {
		tr = e.newTransformer(src.ImportProgram)
	}

	fetchedUIDs := make([]string, 0, len(records))
	entries := make([]entry, 0, len(records))
	for _, rec := range records {
		fetchedUIDs = append(fetchedUIDs, rec.Event.UID)
		occs := recur.Materialize(rec, now, e.log)

		en := entry{ev: rec.Event, occs: occs}
		if tr != nil {
			out, skip, terr := tr.Transform(rec.Event, occs)
			if terr != nil {
				// Transformation failures never abort a sync; the
				// untransformed event is stored instead.
				e.log.Warn("transform event", "source_id", src.ID, "uid", rec.Event.UID, "error", terr)
			} else {
				en.ev = out
				en.skip = skip
			}
		}
		if src.AllAsAllDay {
			en.ev.AllDay = true
		}
		entries = append(entries, en)
	}

	surviving := make([]entry, 0, len(entries))
	for _, en := range entries {
		if !en.skip {
			surviving = append(surviving, en)
		}
	}

	objectHash := semanticHash(surviving)
	if objectHash == src.ObjectHash && src.ObjectHashVersion == SemanticHashVersion {
		// Semantic gate: bytes differ but the normalized event set is
		// identical; record the new transport hash and stop.
		if err := tx.SetFileHash(ctx, src.ID, res.Hash, now); err != nil {
			return false, err
		}
		return false, nil
	}

	if !src.PersistEvents {
		if err := tx.PurgeEventsNotIn(ctx, src.ID, fetchedUIDs); err != nil {
			return false, err
		}
	}
	for _, en := range entries {
		if !en.skip {
			continue
		}
		// A now-excluded event must not linger from a prior sync.
		if err := tx.DeleteEventsByUID(ctx, src.ID, en.ev.UID); err != nil {
			return false, err
		}
	}

	for _, en := range surviving {
		ev := en.ev
		id, err := tx.UpsertEvent(ctx, &ev)
		if err != nil {
			return false, err
		}
		if err := tx.ReplaceTags(ctx, id, ev.Tags); err != nil {
			return false, err
		}
		if err := tx.InsertOccurrences(ctx, id, en.occs); err != nil {
			return false, err
		}
	}

	if err := tx.SetSyncState(ctx, src.ID, res.Hash, objectHash, SemanticHashVersion, now); err != nil {
		return false, err
	}
	return true, nil
}
