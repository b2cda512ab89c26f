package model

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared struct validator. Field names in its errors
// are the json tag names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// addStructErrors runs tag validation on v and records one message per field.
func addStructErrors(v any, errs map[string]string) {
	err := Validator().Struct(v)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["_"] = err.Error()
		return
	}
	for _, fe := range verrs {
		errs[fe.Field()] = describe(fe)
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag()
}

// EventInput is the write-side form of an event.
type EventInput struct {
	Name              string           `json:"name" validate:"required,max=255"`
	Description       string           `json:"description"`
	Type              EventType        `json:"event_type" validate:"omitempty,oneof=event task"`
	Category          string           `json:"category" validate:"omitempty,oneof=work life sport medical"`
	Tag               string           `json:"type" validate:"omitempty,oneof=fun routine important heavy gross"`
	Tags              []string         `json:"tags"`
	Amount            *int64           `json:"amount"`
	BalanceCorrection bool             `json:"is_balance_correction"`
	DurationMinutes   *int             `json:"duration_minutes" validate:"omitempty,min=0"`
	Status            CompletionStatus `json:"status" validate:"omitempty,oneof=incomplete complete cancelled on_pause in_process"`
	Active            *bool            `json:"is_active"`

	ScheduleFields
}

// Build validates the input and returns the event it describes. The
// returned event has no ID or user.
func (in EventInput) Build(loc *time.Location) (Event, error) {
	errs := map[string]string{}
	addStructErrors(in, errs)

	schedule, err := in.ScheduleFields.Build(loc)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return Event{}, err
		}
		for k, v := range verr.Fields {
			errs[k] = v
		}
	}
	if len(errs) > 0 {
		return Event{}, &ValidationError{Fields: errs}
	}

	ev := Event{
		Name:              in.Name,
		Description:       in.Description,
		Type:              in.Type,
		Category:          in.Category,
		Tag:               in.Tag,
		Tags:              in.Tags,
		Amount:            in.Amount,
		BalanceCorrection: in.BalanceCorrection,
		Schedule:          schedule,
		DurationMinutes:   in.DurationMinutes,
		Status:            in.Status,
		Active:            true,
	}
	if ev.Type == "" {
		ev.Type = EventTypeEvent
	}
	if ev.Status == "" {
		ev.Status = StatusIncomplete
	}
	if ev.Tags == nil {
		ev.Tags = []string{}
	}
	if in.Active != nil {
		ev.Active = *in.Active
	}
	return ev, nil
}

// EventView is the read-side form of an event: the event plus its flattened
// schedule.
type EventView struct {
	Event
	ScheduleFields
	IsRecurring bool `json:"is_recurring"`
	IsCompleted bool `json:"is_completed"`
}

// View flattens e for serialization.
func (e Event) View(loc *time.Location) EventView {
	return EventView{
		Event:          e,
		ScheduleFields: Flatten(e.Schedule, loc),
		IsRecurring:    e.Recurring(),
		IsCompleted:    e.Completed(),
	}
}
