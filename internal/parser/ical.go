package parser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calsync/internal/model"
)

// icsTime is one resolved DATE/DATE-TIME property value. ok is false
// when the property was absent, malformed, or fell into a DST gap.
type icsTime struct {
	t      time.Time
	allDay bool
	ok     bool
}

func parseICal(src *model.Source, body []byte) ([]Record, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	loc := calendarLocation(cal)

	var records []Record
	for _, ve := range cal.Events() {
		uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
		if uidProp == nil || uidProp.Value == "" {
			// UID-less events cannot be tracked across syncs.
			continue
		}

		ev := model.Event{
			SourceID: src.ID,
			UID:      uidProp.Value,
		}
		if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
			ev.RRule = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
			ev.Location = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
			ev.Description = p.Value
		}
		if p := ve.GetProperty("DTSTAMP"); p != nil {
			if stamp, _, ok, err := parseICSTime(p.Value, time.UTC); err == nil && ok {
				ts := stamp.Unix()
				ev.DtStamp = &ts
			}
		}

		start := componentTime(ve, ical.ComponentPropertyDtStart, loc)
		end := componentTime(ve, ical.ComponentPropertyDtEnd, loc)
		ev.AllDay = start.allDay

		if start.ok && end.ok {
			d := end.t.Unix() - start.t.Unix()
			ev.Duration = &d
		} else if p := ve.GetProperty("DURATION"); p != nil {
			if d, err := parseICSDuration(p.Value); err == nil {
				ev.Duration = &d
			}
		}

		rec := Record{Event: ev}
		if start.ok {
			rec.Start = start.t
		}
		records = append(records, rec)
	}
	return records, nil
}

// componentTime resolves a date/date-time property, honoring a TZID
// parameter when present and falling back to the feed's timezone.
func componentTime(ve *ical.VEvent, name ical.ComponentProperty, feedLoc *time.Location) icsTime {
	p := ve.GetProperty(name)
	if p == nil || p.Value == "" {
		return icsTime{}
	}

	loc := feedLoc
	allDayParam := false
	if p.ICalParameters != nil {
		if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
			if l, err := time.LoadLocation(tzs[0]); err == nil {
				loc = l
			}
		}
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			allDayParam = true
		}
	}

	t, allDay, ok, err := parseICSTime(p.Value, loc)
	if err != nil {
		return icsTime{allDay: allDayParam}
	}
	return icsTime{t: t, allDay: allDay || allDayParam, ok: ok}
}

// calendarLocation returns the feed-declared timezone, defaulting to
// UTC when absent or unrecognized.
func calendarLocation(cal *ical.Calendar) *time.Location {
	for _, p := range cal.CalendarProperties {
		if p.IANAToken != "X-WR-TIMEZONE" || p.Value == "" {
			continue
		}
		if loc, err := time.LoadLocation(p.Value); err == nil {
			return loc
		}
		break
	}
	return time.UTC
}
