// Package transform runs per-source transformation programs against
// parsed events before they are reconciled into the store.
package transform

import (
	"time"

	"calsync/internal/model"
)

// Transformer mutates or suppresses one event given its materialized
// occurrence instants. skip reports that the event must be excluded
// from the store entirely.
type Transformer interface {
	Transform(ev model.Event, occs []model.Occurrence) (out model.Event, skip bool, err error)
}

// Delta is the validated output of a transformation program. Nil
// fields leave the original event's value in place.
type Delta struct {
	PriorityOverride *int64
	AllDay           *bool
	Duration         *int64
	Summary          *string
	Description      *string
	Location         *string
	Tags             []string
	Skip             bool
}

// Apply overlays the delta onto an event.
func (d *Delta) Apply(ev model.Event) model.Event {
	out := ev
	if d.PriorityOverride != nil {
		out.PriorityOverride = d.PriorityOverride
	}
	if d.AllDay != nil {
		out.AllDay = *d.AllDay
	}
	if d.Duration != nil {
		out.Duration = d.Duration
	}
	if d.Summary != nil {
		out.Summary = *d.Summary
	}
	if d.Description != nil {
		out.Description = *d.Description
	}
	if d.Location != nil {
		out.Location = *d.Location
	}
	if d.Tags != nil {
		out.Tags = d.Tags
	}
	return out
}

// SampleEvent returns the synthetic event and occurrence set used for
// program dry runs: an hour-long weekly meeting with one past, one
// ongoing and one future instance relative to now.
func SampleEvent(now time.Time) (model.Event, []model.Occurrence) {
	hour := int64(3600)
	ev := model.Event{
		UID:         "sample-event@calsync",
		RRule:       "FREQ=WEEKLY",
		Summary:     "Team meeting",
		Location:    "Room 41",
		Description: "Weekly planning session.",
		Duration:    &hour,
		Tags:        []string{"work"},
	}
	occs := []model.Occurrence{
		{StartsAt: now.Add(-7 * 24 * time.Hour).Unix(), FromRRule: false},
		{StartsAt: now.Add(-30 * time.Minute).Unix(), FromRRule: true},
		{StartsAt: now.Add(7 * 24 * time.Hour).Unix(), FromRRule: true},
	}
	return ev, occs
}

// DryRun executes a program against the sample event with no side
// effects, for validating programs before they are saved to a source.
func DryRun(program string, now time.Time) (model.Event, bool, error) {
	tr := NewLua(program)
	tr.now = func() time.Time { return now }
	ev, occs := SampleEvent(now)
	return tr.Transform(ev, occs)
}
