// Package ics converts between iCalendar data and events: VEVENTs are
// parsed into event inputs for import, and expanded occurrences are
// serialized into a VCALENDAR for subscription clients.
package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "artcrm/internal/log"
	"artcrm/internal/model"
)

// ImportedEvent is one VEVENT turned into an event input, plus the instants
// of its series that the calendar excluded.
type ImportedEvent struct {
	UID       string
	Input     model.EventInput
	Cancelled []time.Time
}

// Parse reads a VCALENDAR and returns one ImportedEvent per master VEVENT.
// Datetimes are normalized into loc; all-day values become midnight in loc.
// A VEVENT that cannot be read is logged and skipped. Instance overrides
// (RECURRENCE-ID) only contribute when they cancel their instance.
func Parse(r io.Reader, loc *time.Location) ([]ImportedEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, fmt.Errorf("parsing ical: %w", err)
	}

	out := make([]ImportedEvent, 0)
	byUID := map[string]int{}
	var overrides []*ical.VEvent

	for _, ve := range cal.Events() {
		if ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) != nil {
			overrides = append(overrides, ve)
			continue
		}
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "uid", uidOf(ve), "reason", perr.Error())
			continue
		}
		byUID[ev.UID] = len(out)
		out = append(out, ev)
	}

	for _, ve := range overrides {
		idx, ok := byUID[uidOf(ve)]
		if !ok || !isCancelled(ve) {
			continue
		}
		rid := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID"))
		if t, err := parseICSTime(rid.Value, tzidOf(rid), loc); err == nil {
			out[idx].Cancelled = append(out[idx].Cancelled, t)
		}
	}

	appLog.Info("ics parse completed", "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ImportedEvent, error) {
	out := ImportedEvent{UID: uidOf(ve)}
	if out.UID == "" {
		return out, errors.New("missing UID")
	}

	in := model.EventInput{Name: "(No title)", Tags: []string{}}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		in.Name = p.Value
	}
	if len(in.Name) > 255 {
		in.Name = in.Name[:255]
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		in.Description = p.Value
	}
	if isCancelled(ve) {
		in.Status = model.StatusCancelled
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, err := parseICSTime(dtStart.Value, tzidOf(dtStart), loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		if end, err := parseICSTime(dtEnd.Value, tzidOf(dtEnd), loc); err == nil && end.After(start) {
			minutes := int(end.Sub(start) / time.Minute)
			in.DurationMinutes = &minutes
		}
	}

	in.DateMode = model.DateModeExactDate
	in.StartsAt = &start
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		// Carry DTSTART in its source zone so the series keeps the
		// calendar's wall clock across DST changes.
		in.RRule = ruleDTStart(start, sourceZone(dtStart, loc)) + "\nRRULE:" + p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tzidOf(p), loc); err == nil {
				out.Cancelled = append(out.Cancelled, t)
			}
		}
	}

	out.Input = in
	return out, nil
}

func uidOf(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func isCancelled(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyStatus)
	return p != nil && strings.EqualFold(strings.TrimSpace(p.Value), string(ical.ObjectStatusCancelled))
}

// sourceZone is the zone a DTSTART value was written in: its TZID, UTC for
// the Z form, and loc for floating or date-only values.
func sourceZone(p *ical.IANAProperty, loc *time.Location) *time.Location {
	v := strings.TrimSpace(p.Value)
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.UTC
	case tzidOf(p) != "":
		if l, err := time.LoadLocation(tzidOf(p)); err == nil {
			return l
		}
	}
	return loc
}

// ruleDTStart renders start as a DTSTART line in zone. Zones without a
// loadable IANA name fall back to the UTC form.
func ruleDTStart(start time.Time, zone *time.Location) string {
	name := ""
	if zone != nil {
		name = zone.String()
	}
	if _, err := time.LoadLocation(name); err != nil || name == "" || name == "UTC" || name == "Local" {
		return "DTSTART:" + start.UTC().Format("20060102T150405Z")
	}
	return "DTSTART;TZID=" + name + ":" + start.In(zone).Format("20060102T150405")
}

func tzidOf(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseICSTime parses DATE, floating DATE-TIME, UTC DATE-TIME and
// TZID-qualified DATE-TIME values. The result is expressed in loc; floating
// and date-only values are read as wall clock in loc.
func parseICSTime(v, tzid string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return t.In(loc), nil
	}

	// Date-only (all-day), e.g., 20250101
	if !strings.Contains(v, "T") {
		return time.ParseInLocation("20060102", v, loc)
	}

	src := loc
	if tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q: %w", tzid, err)
		}
		src = l
	}
	t, err := time.ParseInLocation("20060102T150405", v, src)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}
