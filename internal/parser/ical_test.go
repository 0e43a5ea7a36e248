package parser

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/go-cmp/cmp"

	"calsync/internal/model"
)

// icsBody assembles iCalendar lines with the CRLF terminators the
// format requires.
func icsBody(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParseICal(t *testing.T) {
	helsinki, err := time.LoadLocation("Europe/Helsinki")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	stamp := time.Date(2024, time.January, 5, 12, 0, 0, 0, time.UTC).Unix()
	quarterHour := int64(900)
	halfHour := int64(1800)

	body := icsBody(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Example Corp//Calendar//EN",
		"X-WR-TIMEZONE:Europe/Helsinki",
		"BEGIN:VEVENT",
		"UID:standup@example.com",
		"DTSTAMP:20240105T120000Z",
		"DTSTART:20240108T090000",
		"DTEND:20240108T091500",
		"RRULE:FREQ=WEEKLY;BYDAY=MO",
		"SUMMARY:Morning standup",
		"LOCATION:Meeting room 2",
		"DESCRIPTION:Planning sync for the platform team",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:company-day@example.com",
		"DTSTAMP:20240105T120000Z",
		"DTSTART;VALUE=DATE:20240601",
		"SUMMARY:Company day",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:duration-only@example.com",
		"DTSTART:20240110T100000Z",
		"DURATION:PT30M",
		"SUMMARY:Short call",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"DTSTAMP:20240105T120000Z",
		"DTSTART:20240110T100000Z",
		"SUMMARY:Missing identifier",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	src := &model.Source{ID: 7, Format: model.FormatICal}
	records, err := Parse(src, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records (identifier-less dropped), got %d", len(records))
	}

	wantEvents := []model.Event{
		{
			SourceID:    7,
			UID:         "standup@example.com",
			RRule:       "FREQ=WEEKLY;BYDAY=MO",
			DtStamp:     &stamp,
			Duration:    &quarterHour,
			Summary:     "Morning standup",
			Location:    "Meeting room 2",
			Description: "Planning sync for the platform team",
		},
		{
			SourceID: 7,
			UID:      "company-day@example.com",
			DtStamp:  &stamp,
			AllDay:   true,
			Summary:  "Company day",
		},
		{
			SourceID: 7,
			UID:      "duration-only@example.com",
			Duration: &halfHour,
			Summary:  "Short call",
		},
	}
	for i, want := range wantEvents {
		if diff := cmp.Diff(want, records[i].Event); diff != "" {
			t.Errorf("event %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	wantStarts := []time.Time{
		time.Date(2024, time.January, 8, 9, 0, 0, 0, helsinki),
		time.Date(2024, time.June, 1, 0, 0, 0, 0, helsinki),
		time.Date(2024, time.January, 10, 10, 0, 0, 0, time.UTC),
	}
	for i, want := range wantStarts {
		if !records[i].Start.Equal(want) {
			t.Errorf("record %d start = %v, want %v", i, records[i].Start.UTC(), want.UTC())
		}
	}
}

func TestParseICalDefaultsToUTC(t *testing.T) {
	body := icsBody(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:local@example.com",
		"DTSTART:20240108T090000",
		"SUMMARY:Floating time",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Parse(&model.Source{Format: model.FormatICal}, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	want := time.Date(2024, time.January, 8, 9, 0, 0, 0, time.UTC)
	if !records[0].Start.Equal(want) {
		t.Errorf("start = %v, want %v", records[0].Start.UTC(), want)
	}
}

func TestParseICalTZIDOverridesFeedZone(t *testing.T) {
	body := icsBody(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"X-WR-TIMEZONE:Europe/Helsinki",
		"BEGIN:VEVENT",
		"UID:ny@example.com",
		"DTSTART;TZID=America/New_York:20240110T100000",
		"SUMMARY:Overseas call",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Parse(&model.Source{Format: model.FormatICal}, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	want := time.Date(2024, time.January, 10, 10, 0, 0, 0, newYork)
	if !records[0].Start.Equal(want) {
		t.Errorf("start = %v, want %v", records[0].Start.UTC(), want.UTC())
	}
}

func TestParseICalGapStartDropped(t *testing.T) {
	// 2024-03-31 03:30 does not exist in Helsinki; the event survives
	// without a usable start.
	body := icsBody(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"X-WR-TIMEZONE:Europe/Helsinki",
		"BEGIN:VEVENT",
		"UID:gap@example.com",
		"DTSTART:20240331T033000",
		"SUMMARY:Inside the jump",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Parse(&model.Source{Format: model.FormatICal}, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if !records[0].Start.IsZero() {
		t.Errorf("expected zero start for a nonexistent local time, got %v", records[0].Start)
	}
}

func TestParseICalFoldStartEarlier(t *testing.T) {
	// 2024-10-27 03:30 happens twice in Helsinki; the earlier instant
	// (still on summer time, +03:00) is chosen.
	body := icsBody(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"X-WR-TIMEZONE:Europe/Helsinki",
		"BEGIN:VEVENT",
		"UID:fold@example.com",
		"DTSTART:20241027T033000",
		"SUMMARY:Repeated half hour",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	records, err := Parse(&model.Source{Format: model.FormatICal}, body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	want := time.Date(2024, time.October, 27, 0, 30, 0, 0, time.UTC)
	if !records[0].Start.Equal(want) {
		t.Errorf("start = %v, want %v", records[0].Start.UTC(), want)
	}
}

func TestParseUnknownFormat(t *testing.T) {
	_, err := Parse(&model.Source{Format: "carddav"}, []byte{})
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseICalInvalidBody(t *testing.T) {
	_, err := Parse(&model.Source{Format: model.FormatICal}, []byte("not a calendar"))
	if err == nil {
		t.Fatal("expected error for invalid calendar body")
	}
}
