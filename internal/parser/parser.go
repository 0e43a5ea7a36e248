// Package parser turns raw feed bodies into discrete event records.
package parser

import (
	"fmt"
	"time"

	"calsync/internal/model"
)

// Record is one event parsed out of a feed, paired with its base start
// instant. Start is the zero time when the feed supplied no usable
// start (missing, or a local time that does not exist in the feed's
// timezone); such events carry no occurrences.
type Record struct {
	Event model.Event
	Start time.Time
}

// Parse dispatches on the source's declared format. Events lacking a
// UID are silently dropped, since they cannot be tracked across syncs.
func Parse(src *model.Source, body []byte) ([]Record, error) {
	switch src.Format {
	case model.FormatRSS:
		return parseRSS(src, body)
	case model.FormatICal, "":
		return parseICal(src, body)
	default:
		return nil, fmt.Errorf("unknown source format %q", src.Format)
	}
}
