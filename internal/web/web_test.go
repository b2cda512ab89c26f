package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artcrm/internal/calendar"
	"artcrm/internal/config"
	"artcrm/internal/ics"
	"artcrm/internal/model"
	"artcrm/internal/schedule"
	"artcrm/internal/store"
	"artcrm/internal/testutil"
)

var moscow = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		panic(err)
	}
	return loc
}()

var fixedNow = time.Date(2024, 4, 10, 12, 0, 0, 0, moscow)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	patterns := store.NewPatternRepository(db)
	months := store.NewMonthScheduleRepository(db, moscow)
	svc := calendar.NewService(calendar.Stores{
		Users:     store.NewUserRepository(db, moscow),
		Events:    store.NewEventRepository(db, moscow),
		Overrides: store.NewOverrideRepository(db, moscow),
		Patterns:  patterns,
		Days:      months,
	}, schedule.NewResolver(patterns, months, ""), calendar.Options{
		Location: moscow,
		Now:      func() time.Time { return fixedNow },
	})
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := NewServer(cfg, svc, ics.NewFetcher(nil))
	s.now = func() time.Time { return fixedNow }
	return s
}

func do(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createUser(t *testing.T, h http.Handler) model.User {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/users", "application/json", `{"username":"artist"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[model.User](t, rec)
}

type occurrencesBody struct {
	Occurrences []struct {
		ID     string                 `json:"id"`
		At     time.Time              `json:"datetime"`
		Status model.CompletionStatus `json:"status"`
	} `json:"occurrences"`
	TimeZone string `json:"timezone"`
}

func TestHealthBypassesBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	h := newTestServer(t, cfg).Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/patterns", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/patterns", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestEventLifecycle(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	user := createUser(t, h)

	rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/users/%d/events", user.ID), "application/json", `{
		"name": "Figure class",
		"date_mode": "exact_date",
		"starts_at": "2024-04-01T10:00:00+03:00",
		"rrule": "FREQ=WEEKLY;BYDAY=MO",
		"duration_minutes": 90
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ev := decodeBody[model.EventView](t, rec)
	assert.True(t, ev.IsRecurring)

	target := fmt.Sprintf("/api/users/%d/occurrences?year=2024&month=4", user.ID)
	rec = do(t, h, http.MethodGet, target, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[occurrencesBody](t, rec)
	require.Len(t, body.Occurrences, 5)
	assert.Equal(t, "Europe/Moscow", body.TimeZone)

	second := body.Occurrences[1]
	assert.Equal(t, fmt.Sprintf("%d_%d", ev.ID, second.At.Unix()), second.ID)

	instant := url.QueryEscape(second.At.Format(time.RFC3339))
	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/api/events/%d?instance_datetime=%s", ev.ID, instant), "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancel := decodeBody[calendar.CancelResult](t, rec)
	assert.False(t, cancel.Deleted)
	require.NotNil(t, cancel.Override)

	rec = do(t, h, http.MethodPatch, fmt.Sprintf("/api/events/%d/status", ev.ID), "application/json",
		fmt.Sprintf(`{"instance_datetime":%q,"status":"complete"}`, body.Occurrences[2].At.Format(time.RFC3339)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, target, "", "")
	body = decodeBody[occurrencesBody](t, rec)
	require.Len(t, body.Occurrences, 5)
	assert.Equal(t, model.StatusCancelled, body.Occurrences[1].Status)
	assert.Equal(t, model.StatusComplete, body.Occurrences[2].Status)
	assert.Equal(t, model.StatusIncomplete, body.Occurrences[0].Status)

	rec = do(t, h, http.MethodDelete, fmt.Sprintf("/api/events/%d", ev.ID), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[calendar.CancelResult](t, rec).Deleted)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/events/%d", ev.ID), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventValidationErrors(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	user := createUser(t, h)

	rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/users/%d/events", user.ID), "application/json", `{
		"date_mode": "number_of_month",
		"is_recurring_monthly": true
	}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errResp](t, rec)
	assert.Contains(t, body.Fields, "name")

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/api/users/%d/events", user.ID), "application/json", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users/999/events", "application/json", `{"name":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/users", "application/json", `{"username":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errResp](t, rec).Fields, "username")

	rec = do(t, h, http.MethodPost, "/api/users", "application/json", `{"username":"artist"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOccurrencesWindowParams(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	user := createUser(t, h)
	base := fmt.Sprintf("/api/users/%d/occurrences", user.ID)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, base, "", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, base+"?from=2024-04-01T00:00:00&to=2024-04-02T00:00:00", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"?from=2024-04-01T00:00:00", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"?month=13", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"?from=2024-04-02T00:00:00&to=2024-04-01T00:00:00", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/users/abc/occurrences", "", "").Code)
}

func TestImportAndExport(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	user := createUser(t, h)

	cal := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:a-1\r\nDTSTAMP:20240101T000000Z\r\nSUMMARY:Gallery opening\r\n" +
		"DTSTART:20240412T150000Z\r\nDTEND:20240412T170000Z\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/users/%d/events/import", user.ID), "text/calendar", cal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[calendar.ImportResult](t, rec)
	require.Len(t, res.Created, 1)
	assert.Equal(t, "Gallery opening", res.Created[0].Name)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/users/%d/calendar.ics?year=2024&month=4", user.ID), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Gallery opening")
	assert.Contains(t, rec.Body.String(), "DTSTART:20240412T150000Z")

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/api/users/%d/events/import", user.ID), "application/json", `{"url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEndpoints(t *testing.T) {
	h := newTestServer(t, nil).Handler()
	user := createUser(t, h)

	rec := do(t, h, http.MethodGet, fmt.Sprintf("/api/users/%d/schedule", user.ID), "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[calendar.Preview](t, rec)
	assert.Equal(t, 2024, preview.Year)
	assert.Equal(t, 4, preview.Month)
	assert.Equal(t, "Classic", preview.Pattern.Name)
	require.Len(t, preview.Days, 30)
	assert.True(t, preview.Days[9].IsToday)

	rec = do(t, h, http.MethodPut, fmt.Sprintf("/api/users/%d/schedule/days/2024-04-03", user.ID), "application/json",
		`{"day_type":"vacation","comment":"trip"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/users/%d/schedule?year=2024&month=4", user.ID), "", "")
	preview = decodeBody[calendar.Preview](t, rec)
	assert.Equal(t, model.DayVacation, preview.Days[2].DayType)
	assert.True(t, preview.Days[2].Overridden)

	rec = do(t, h, http.MethodPut, fmt.Sprintf("/api/users/%d/schedule/days/April-3", user.ID), "application/json", `{"day_type":"off"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatternEndpoints(t *testing.T) {
	h := newTestServer(t, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/patterns", "application/json", `{
		"name": "Two by two",
		"mode": "alternating",
		"days_off_at_start": 1,
		"pattern_after_start": [2, 2],
		"working_day_duration": 8
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/patterns", "application/json", `{"name":"Broken","mode":"weekday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/patterns", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	patterns := decodeBody[[]model.SchedulePattern](t, rec)
	require.Len(t, patterns, 1)
	assert.Equal(t, "Two by two", patterns[0].Name)
}
