package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"calsync/internal/model"
)

// SemanticHashVersion identifies the semantic digest's definition.
// Bump it whenever the set of fields feeding the digest changes; a
// stored hash under another version forces one extra reconciliation
// pass instead of being trusted.
const SemanticHashVersion = 1

// entry is one event flowing through a sync, after materialization and
// transformation.
type entry struct {
	ev   model.Event
	occs []model.Occurrence
	skip bool
}

// semanticHash digests the normalized post-transformation event set.
// DtStamp is excluded: feeds often bump it on every fetch with no real
// change. Entries are ordered by natural key so the digest does not
// depend on feed ordering.
func semanticHash(entries []entry) string {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i].ev, sorted[j].ev
		if a.UID != b.UID {
			return a.UID < b.UID
		}
		return a.RRule < b.RRule
	})

	h := sha256.New()
	for _, en := range sorted {
		ev := en.ev
		fmt.Fprintf(h, "event %q %q %s %t %s %q %q %q\n",
			ev.UID, ev.RRule, optInt(ev.PriorityOverride), ev.AllDay,
			optInt(ev.Duration), ev.Summary, ev.Location, ev.Description)
		for _, tag := range ev.Tags {
			fmt.Fprintf(h, "tag %q\n", tag)
		}

		starts := make([]model.Occurrence, len(en.occs))
		copy(starts, en.occs)
		sort.Slice(starts, func(i, j int) bool { return starts[i].StartsAt < starts[j].StartsAt })
		for _, o := range starts {
			fmt.Fprintf(h, "occ %d %t\n", o.StartsAt, o.FromRRule)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func optInt(v *int64) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%d", *v)
}
