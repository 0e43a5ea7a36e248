// Package recur expands recurrence rules into concrete occurrence sets.
package recur

import (
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"calsync/internal/model"
	"calsync/internal/parser"
)

const (
	// maxOccurrences bounds the total occurrence count per event.
	maxOccurrences = 10_000
	// window bounds rule expansion to now ± 10 years. Unbounded rules
	// are truncated; instants outside the window can be recomputed if
	// the window is ever revisited.
	window = 10 * 365 * 24 * time.Hour
)

// Materialize returns the occurrence set for one parsed record: the
// base start (never flagged as rule-derived) plus rule-expanded
// instances inside the window. A rule that fails to parse degrades to
// the base occurrence alone, with a warning. Records without a usable
// start produce no occurrences.
func Materialize(rec parser.Record, now time.Time, log *slog.Logger) []model.Occurrence {
	if rec.Start.IsZero() {
		return nil
	}

	start := rec.Start.Unix()
	occs := []model.Occurrence{{StartsAt: start, FromRRule: false}}
	if rec.Event.RRule == "" {
		return occs
	}

	rule, err := rrule.StrToRRule(rec.Event.RRule)
	if err != nil {
		log.Warn("parse rrule", "uid", rec.Event.UID, "rrule", rec.Event.RRule, "error", err)
		return occs
	}
	rule.DTStart(rec.Start)

	for _, t := range rule.Between(now.Add(-window), now.Add(window), true) {
		if len(occs) >= maxOccurrences {
			log.Warn("occurrence cap reached", "uid", rec.Event.UID, "cap", maxOccurrences)
			break
		}
		ts := t.Unix()
		if ts == start {
			// The base occurrence already covers this instant.
			continue
		}
		occs = append(occs, model.Occurrence{StartsAt: ts, FromRRule: true})
	}
	return occs
}
