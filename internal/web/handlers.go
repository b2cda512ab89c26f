package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"artcrm/internal/calmath"
	"artcrm/internal/ics"
	"artcrm/internal/model"
	"artcrm/internal/occurrence"
)

// occurrencesResponse is the JSON response shape for the occurrences
// endpoint.
type occurrencesResponse struct {
	Occurrences     []model.Occurrence `json:"occurrences"`
	TruncatedEvents []int64            `json:"truncated_event_ids,omitempty"`
	FailedEvents    []int64            `json:"failed_event_ids,omitempty"`
	RangeStart      time.Time          `json:"range_start"`
	RangeEnd        time.Time          `json:"range_end"`
	TimeZone        string             `json:"timezone"`
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,max=150"`
}

type statusRequest struct {
	InstanceDateTime string                 `json:"instance_datetime"`
	Status           model.CompletionStatus `json:"status" validate:"required"`
}

type importURLRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type dayRequest struct {
	DayType model.DayType `json:"day_type" validate:"required"`
	Comment string        `json:"comment" validate:"max=500"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	user, err := s.svc.CreateUser(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// handleOccurrences returns expanded occurrences for one user.
//
// GET /api/users/{userID}/occurrences?year=2024&month=2
// GET /api/users/{userID}/occurrences?from=...&to=...
//
// Without parameters the current month is used.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	start, end, err := s.window(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Occurrences(r.Context(), userID, start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.occurrencesResponse(res, start, end))
}

func (s *Server) occurrencesResponse(res occurrence.ExpandResult, start, end time.Time) occurrencesResponse {
	occs := res.Occurrences
	if occs == nil {
		occs = []model.Occurrence{}
	}
	loc := s.svc.Location()
	return occurrencesResponse{
		Occurrences:     occs,
		TruncatedEvents: res.TruncatedEvents,
		FailedEvents:    res.FailedEvents,
		RangeStart:      start.In(loc),
		RangeEnd:        end.In(loc),
		TimeZone:        loc.String(),
	}
}

func (s *Server) handleCalendarExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	start, end, err := s.window(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.Occurrences(r.Context(), userID, start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	body := ics.Export(fmt.Sprintf("artcrm user %d", userID), res.Occurrences, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=artcrm-%d.ics", userID))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	// EventInput is validated by the service against its date mode.
	var in model.EventInput
	if !decodeJSON(w, r, &in) {
		return
	}

	view, err := s.svc.CreateEvent(r.Context(), userID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// handleImport accepts either a text/calendar body or {"url": "..."}.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	var src io.Reader
	if isJSON(r) {
		var req importURLRequest
		if !s.decode(w, r, &req) {
			return
		}
		if s.fetcher == nil {
			writeError(w, http.StatusBadRequest, "import by URL is disabled")
			return
		}
		body, err := s.fetcher.Fetch(r.Context(), req.URL)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, errResp{Error: "fetching calendar failed: " + err.Error()})
			return
		}
		src = bytes.NewReader(body)
	} else {
		src = http.MaxBytesReader(w, r.Body, maxICSBody)
	}

	res, err := s.svc.ImportICS(r.Context(), userID, src)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	view, err := s.svc.Event(r.Context(), eventID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCancel cancels one occurrence when instance_datetime is given,
// otherwise deletes the event.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	at, err := s.optionalInstant(r.URL.Query().Get("instance_datetime"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.Cancel(r.Context(), eventID, at)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	at, err := s.optionalInstant(req.InstanceDateTime)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := s.svc.UpdateStatus(r.Context(), eventID, at, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.svc.Patterns(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if patterns == nil {
		patterns = []model.SchedulePattern{}
	}
	writeJSON(w, http.StatusOK, patterns)
}

func (s *Server) handleCreatePattern(w http.ResponseWriter, r *http.Request) {
	var p model.SchedulePattern
	if !decodeJSON(w, r, &p) {
		return
	}
	p.ID = 0

	created, err := s.svc.CreatePattern(r.Context(), p)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleSchedule returns the month preview, resolving the month schedule
// first.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	ym, err := s.yearMonth(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	preview, err := s.svc.Preview(r.Context(), userID, ym)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleSetDay(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	date, err := time.ParseInLocation(time.DateOnly, chi.URLParam(r, "date"), s.svc.Location())
	if err != nil {
		writeServiceError(w, r, fieldError("date", "must be YYYY-MM-DD"))
		return
	}
	var req dayRequest
	if !s.decode(w, r, &req) {
		return
	}

	day, err := s.svc.SetDay(r.Context(), userID, date, req.DayType, req.Comment)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// decodeJSON reads a size-capped JSON body into dst. It writes the error
// response itself and reports whether the handler should continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// decode is decodeJSON followed by struct tag validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if err := validateRequest(dst); err != nil {
		writeServiceError(w, r, err)
		return false
	}
	return true
}

// validateRequest runs struct tags and reports failures as a
// ValidationError keyed by json field name.
func validateRequest(v any) error {
	err := model.Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fe.Field()] = msg
	}
	return &model.ValidationError{Fields: fields}
}

// window reads year/month or from/to from the query. Without either, the
// current month is used.
func (s *Server) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	loc := s.svc.Location()

	from, to := q.Get("from"), q.Get("to")
	if from != "" || to != "" {
		if from == "" || to == "" {
			return time.Time{}, time.Time{}, fieldError("from", "from and to must be given together")
		}
		start, err := calmath.ParseDateTime(from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("from", err.Error())
		}
		end, err := calmath.ParseDateTime(to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fieldError("to", err.Error())
		}
		return start, end, nil
	}

	ym, err := s.yearMonth(r)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, end := calmath.MonthWindow(ym.Year, ym.Month, loc)
	return start, end, nil
}

func (s *Server) yearMonth(r *http.Request) (calmath.YearMonth, error) {
	q := r.URL.Query()
	ym := calmath.YearMonthOf(s.now(), s.svc.Location())

	if v := q.Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ym, fieldError("year", "must be a number")
		}
		ym.Year = n
	}
	if v := q.Get("month"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ym, fieldError("month", "must be a number")
		}
		ym.Month = time.Month(n)
	}
	if !ym.Valid() {
		return ym, fieldError("month", "invalid year/month "+ym.String())
	}
	return ym, nil
}

func (s *Server) optionalInstant(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	at, err := calmath.ParseDateTime(v, s.svc.Location())
	if err != nil {
		return nil, fieldError("instance_datetime", err.Error())
	}
	return &at, nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func fieldError(field, msg string) error {
	return &model.ValidationError{Fields: map[string]string{field: msg}}
}
