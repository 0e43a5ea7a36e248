package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// resolveLocal maps a wall-clock reading onto an absolute instant in
// loc. During a DST fold the earlier of the two candidate instants is
// chosen; inside a spring-forward gap there is no instant and ok is
// false.
func resolveLocal(year int, month time.Month, day, hour, min, sec int, loc *time.Location) (time.Time, bool) {
	wall := time.Date(year, month, day, hour, min, sec, 0, time.UTC)
	probe := time.Date(year, month, day, hour, min, sec, 0, loc)

	offsets := make(map[int]struct{}, 3)
	for _, p := range []time.Time{probe.Add(-24 * time.Hour), probe, probe.Add(24 * time.Hour)} {
		_, off := p.Zone()
		offsets[off] = struct{}{}
	}

	var earliest time.Time
	found := false
	for off := range offsets {
		cand := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if cand.Year() != year || cand.Month() != month || cand.Day() != day ||
			cand.Hour() != hour || cand.Minute() != min || cand.Second() != sec {
			continue
		}
		if !found || cand.Before(earliest) {
			earliest = cand
			found = true
		}
	}
	return earliest, found
}

// parseICSTime resolves an iCalendar DATE or DATE-TIME value into an
// absolute instant. allDay reports whether the value was date-only.
// ok is false when the value falls into a DST gap.
func parseICSTime(value string, loc *time.Location) (t time.Time, allDay, ok bool, err error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return time.Time{}, false, false, fmt.Errorf("empty time value")
	case strings.HasSuffix(value, "Z"):
		t, err = time.Parse("20060102T150405Z", value)
		if err != nil {
			return time.Time{}, false, false, fmt.Errorf("parse utc time %q: %w", value, err)
		}
		return t, false, true, nil
	case strings.Contains(value, "T"):
		wall, perr := time.Parse("20060102T150405", value)
		if perr != nil {
			return time.Time{}, false, false, fmt.Errorf("parse local time %q: %w", value, perr)
		}
		t, ok = resolveLocal(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), loc)
		return t, false, ok, nil
	default:
		wall, perr := time.Parse("20060102", value)
		if perr != nil {
			return time.Time{}, false, false, fmt.Errorf("parse date %q: %w", value, perr)
		}
		t, ok = resolveLocal(wall.Year(), wall.Month(), wall.Day(), 0, 0, 0, loc)
		return t, true, ok, nil
	}
}

// parseICSDuration parses an RFC 5545 DURATION value (e.g. "PT1H30M",
// "-P1DT12H", "P2W") into seconds.
func parseICSDuration(value string) (int64, error) {
	s := strings.TrimSpace(value)
	sign := int64(1)
	if strings.HasPrefix(s, "-") {
		sign = -1
		s = s[1:]
	} else {
		s = strings.TrimPrefix(s, "+")
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	s = s[1:]

	var total int64
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		num = ""
		switch {
		case r == 'W' && !inTime:
			total += n * 7 * 86400
		case r == 'D' && !inTime:
			total += n * 86400
		case r == 'H' && inTime:
			total += n * 3600
		case r == 'M' && inTime:
			total += n * 60
		case r == 'S' && inTime:
			total += n
		default:
			return 0, fmt.Errorf("invalid duration %q", value)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return sign * total, nil
}
