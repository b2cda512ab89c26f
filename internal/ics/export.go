package ics

import (
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"artcrm/internal/model"
)

const (
	productID      = "-//artcrm//schedule//EN"
	statusProperty = ical.ComponentProperty("X-ARTCRM-STATUS")
)

// Export serializes occurrences as a published VCALENDAR. Each occurrence
// becomes its own VEVENT whose UID is derived from the occurrence id, so
// re-exports of the same window are stable.
func Export(name string, occurrences []model.Occurrence, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	for _, occ := range occurrences {
		ev := cal.AddEvent(occ.ID + "@artcrm")
		ev.SetDtStampTime(stamp)
		if !occ.Event.UpdatedAt.IsZero() {
			ev.SetModifiedAt(occ.Event.UpdatedAt)
		}
		ev.SetStartAt(occ.At)
		if occ.End != nil {
			ev.SetEndAt(*occ.End)
		}
		ev.SetSummary(occ.Event.Name)
		if occ.Event.Description != "" {
			ev.SetDescription(occ.Event.Description)
		}
		if occ.Event.Category != "" {
			ev.SetProperty(ical.ComponentPropertyCategories, occ.Event.Category)
		}
		if occ.Status == model.StatusCancelled {
			ev.SetStatus(ical.ObjectStatusCancelled)
		} else {
			ev.SetStatus(ical.ObjectStatusConfirmed)
		}
		ev.SetProperty(statusProperty, string(occ.Status))
		ev.SetProperty(ical.ComponentProperty("X-ARTCRM-EVENT-ID"), strconv.FormatInt(occ.EventID, 10))
	}

	return cal.Serialize()
}
