package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artcrm/internal/calmath"
	"artcrm/internal/model"
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

func createUser(t *testing.T, db *sql.DB, name string) model.User {
	t.Helper()
	u, err := store.NewUserRepository(db, moscow).Create(context.Background(), name)
	require.NoError(t, err)
	return u
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testutil.NewTestDatabase(t)

	require.NoError(t, store.Migrate(db))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUserRepository(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	repo := store.NewUserRepository(db, moscow)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")

	_, err := repo.Create(ctx, "alice")
	assert.ErrorIs(t, err, model.ErrConflict)

	found, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)
	assert.Equal(t, moscow, found.CreatedAt.Location())

	_, err = repo.FindByID(ctx, 999)
	assert.ErrorIs(t, err, model.ErrNotFound)

	ids, err := repo.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{alice.ID, bob.ID}, ids)
}

func TestEventRepositoryRoundTripsSchedules(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	repo := store.NewEventRepository(db, moscow)
	ctx := context.Background()
	user := createUser(t, db, "artist")

	end := time.Date(2024, 12, 31, 0, 0, 0, 0, moscow)
	amount := int64(-150000)
	minutes := 45
	schedules := []model.Schedule{
		model.ExactSingle{At: time.Date(2024, 3, 5, 15, 0, 0, 0, moscow)},
		model.ExactRule{Rule: "FREQ=WEEKLY;BYDAY=TU", Start: time.Date(2024, 1, 2, 11, 0, 0, 0, moscow), End: &end},
		model.MonthSingle{Month: calmath.YearMonth{Year: 2024, Month: time.June}},
		model.MonthSeries{
			Interval: 2,
			Start:    calmath.YearMonth{Year: 2024, Month: time.January},
			End:      calmath.YearMonth{Year: 2024, Month: time.November},
		},
	}

	for _, s := range schedules {
		created, err := repo.Create(ctx, model.Event{
			UserID:          user.ID,
			Name:            "rent",
			Type:            model.EventTypeTask,
			Category:        "life",
			Tags:            []string{"home"},
			Amount:          &amount,
			DurationMinutes: &minutes,
			Schedule:        s,
			Status:          model.StatusIncomplete,
			Active:          true,
		})
		require.NoError(t, err)

		found, err := repo.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, s.Kind(), found.Schedule.Kind())
		assert.Equal(t, model.Flatten(s, moscow), model.Flatten(found.Schedule, moscow), "%T", s)
		assert.Equal(t, []string{"home"}, found.Tags)
		require.NotNil(t, found.Amount)
		assert.Equal(t, amount, *found.Amount)
		assert.Equal(t, model.EventTypeTask, found.Type)
		assert.True(t, found.Active)
	}
}

func TestEventRepositoryFindForWindow(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	repo := store.NewEventRepository(db, moscow)
	ctx := context.Background()
	user := createUser(t, db, "artist")
	other := createUser(t, db, "other")

	mk := func(userID int64, name string, s model.Schedule, active bool) {
		_, err := repo.Create(ctx, model.Event{UserID: userID, Name: name, Schedule: s, Status: model.StatusIncomplete, Active: active})
		require.NoError(t, err)
	}
	mk(user.ID, "in window", model.ExactSingle{At: time.Date(2024, 2, 10, 9, 0, 0, 0, moscow)}, true)
	mk(user.ID, "before", model.ExactSingle{At: time.Date(2024, 1, 10, 9, 0, 0, 0, moscow)}, true)
	mk(user.ID, "open rule", model.ExactRule{Rule: "FREQ=DAILY", Start: time.Date(2023, 1, 1, 9, 0, 0, 0, moscow)}, true)
	mk(user.ID, "inactive", model.ExactSingle{At: time.Date(2024, 2, 11, 9, 0, 0, 0, moscow)}, false)
	mk(user.ID, "series", model.MonthSeries{
		Interval: 1,
		Start:    calmath.YearMonth{Year: 2024, Month: time.January},
		End:      calmath.YearMonth{Year: 2024, Month: time.March},
	}, true)
	mk(other.ID, "someone else", model.ExactSingle{At: time.Date(2024, 2, 10, 9, 0, 0, 0, moscow)}, true)

	start, end := calmath.MonthWindow(2024, time.February, moscow)
	events, err := repo.FindForWindow(ctx, user.ID, start, end)
	require.NoError(t, err)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	assert.Equal(t, []string{"in window", "open rule", "series"}, names)
}

func TestEventRepositoryStatusAndDelete(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	repo := store.NewEventRepository(db, moscow)
	overrides := store.NewOverrideRepository(db, moscow)
	ctx := context.Background()
	user := createUser(t, db, "artist")

	ev, err := repo.Create(ctx, model.Event{
		UserID: user.ID, Name: "daily", Status: model.StatusIncomplete, Active: true,
		Schedule: model.ExactRule{Rule: "FREQ=DAILY"},
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, ev.ID, model.StatusOnPause))
	found, err := repo.FindByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnPause, found.Status)

	_, err = overrides.Upsert(ctx, ev.ID, time.Date(2024, 1, 1, 0, 0, 0, 0, moscow), model.StatusCancelled)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, ev.ID))
	_, err = repo.FindByID(ctx, ev.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, ev.ID), model.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, ev.ID, model.StatusComplete), model.ErrNotFound)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM event_overrides").Scan(&count))
	assert.Zero(t, count, "overrides cascade with their event")
}

func TestOverrideRepositoryUpsertIsKeyedByInstant(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	events := store.NewEventRepository(db, moscow)
	repo := store.NewOverrideRepository(db, moscow)
	ctx := context.Background()
	user := createUser(t, db, "artist")

	ev, err := events.Create(ctx, model.Event{
		UserID: user.ID, Name: "weekly", Status: model.StatusIncomplete, Active: true,
		Schedule: model.ExactRule{Rule: "FREQ=WEEKLY"},
	})
	require.NoError(t, err)

	at := time.Date(2024, 2, 5, 10, 0, 0, 0, moscow)
	first, err := repo.Upsert(ctx, ev.ID, at, model.StatusComplete)
	require.NoError(t, err)
	assert.True(t, first.Completed)

	second, err := repo.Upsert(ctx, ev.ID, at.UTC(), model.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.StatusCancelled, second.Status)
	assert.False(t, second.Completed)
	assert.True(t, second.At.Equal(at))
	assert.Equal(t, moscow, second.At.Location())

	_, err = repo.Upsert(ctx, ev.ID, at.AddDate(0, 1, 0), model.StatusInProcess)
	require.NoError(t, err)

	start, end := calmath.MonthWindow(2024, time.February, moscow)
	inFeb, err := repo.ForEvents(ctx, []int64{ev.ID, 12345}, start, end)
	require.NoError(t, err)
	require.Len(t, inFeb, 1)
	assert.Equal(t, model.StatusCancelled, inFeb[0].Status)

	none, err := repo.ForEvents(ctx, nil, start, end)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = repo.Find(ctx, ev.ID, at.Add(time.Second))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPatternRepository(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	repo := store.NewPatternRepository(db)
	ctx := context.Background()

	classic, err := repo.Create(ctx, model.FiveDayWeek("Classic"))
	require.NoError(t, err)
	shift, err := repo.Create(ctx, model.SchedulePattern{
		Name: "2/2", Mode: model.PatternAlternating,
		DaysOffAtStart: 1, PatternAfterStart: []int{2, 2}, LastDayAlwaysWorking: true, WorkingDayHours: 7.5,
	})
	require.NoError(t, err)

	_, err = repo.Create(ctx, model.FiveDayWeek("Classic"))
	assert.ErrorIs(t, err, model.ErrConflict)

	found, err := repo.FindByName(ctx, "Classic")
	require.NoError(t, err)
	assert.Equal(t, classic.ID, found.ID)
	assert.Equal(t, model.DayOff, found.WeekdayMap["sun"])
	assert.NoError(t, found.Validate())

	found, err = repo.FindByID(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, found.PatternAfterStart)
	assert.Nil(t, found.WeekdayMap)
	assert.True(t, found.LastDayAlwaysWorking)
	assert.InDelta(t, 7.5, found.WorkingDayHours, 0.001)

	_, err = repo.FindByName(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2/2", all[0].Name)
}

func TestMonthScheduleRepository(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	patterns := store.NewPatternRepository(db)
	repo := store.NewMonthScheduleRepository(db, moscow)
	ctx := context.Background()
	user := createUser(t, db, "artist")

	p, err := patterns.Create(ctx, model.FiveDayWeek("Classic"))
	require.NoError(t, err)

	for _, ym := range []calmath.YearMonth{{Year: 2023, Month: time.November}, {Year: 2024, Month: time.January}, {Year: 2024, Month: time.March}} {
		_, err := repo.Create(ctx, model.MonthSchedule{UserID: user.ID, Year: ym.Year, Month: ym.Month, PatternID: p.ID})
		require.NoError(t, err)
	}

	_, err = repo.Create(ctx, model.MonthSchedule{UserID: user.ID, Year: 2024, Month: time.January, PatternID: p.ID})
	assert.ErrorIs(t, err, model.ErrConflict)

	jan, err := repo.Find(ctx, user.ID, calmath.YearMonth{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.Equal(t, p.ID, jan.PatternID)

	prev, err := repo.LatestBefore(ctx, user.ID, calmath.YearMonth{Year: 2024, Month: time.March})
	require.NoError(t, err)
	assert.Equal(t, calmath.YearMonth{Year: 2024, Month: time.January}, prev.YearMonth())

	prev, err = repo.LatestBefore(ctx, user.ID, calmath.YearMonth{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.Equal(t, calmath.YearMonth{Year: 2023, Month: time.November}, prev.YearMonth())

	_, err = repo.LatestBefore(ctx, user.ID, calmath.YearMonth{Year: 2023, Month: time.November})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.Find(ctx, user.ID, calmath.YearMonth{Year: 2024, Month: time.February})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMonthScheduleRepositoryDays(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	patterns := store.NewPatternRepository(db)
	repo := store.NewMonthScheduleRepository(db, moscow)
	ctx := context.Background()
	user := createUser(t, db, "artist")

	p, err := patterns.Create(ctx, model.FiveDayWeek("Classic"))
	require.NoError(t, err)
	ms, err := repo.Create(ctx, model.MonthSchedule{UserID: user.ID, Year: 2024, Month: time.May, PatternID: p.ID})
	require.NoError(t, err)

	may9 := time.Date(2024, 5, 9, 0, 0, 0, 0, moscow)
	first, err := repo.UpsertDay(ctx, model.DayOverride{MonthScheduleID: ms.ID, Date: may9, Type: model.DayHoliday, Comment: "Victory Day"})
	require.NoError(t, err)
	second, err := repo.UpsertDay(ctx, model.DayOverride{MonthScheduleID: ms.ID, Date: may9.Add(15 * time.Hour), Type: model.DayVacation})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = repo.UpsertDay(ctx, model.DayOverride{MonthScheduleID: ms.ID, Date: may9.AddDate(0, 0, -8), Type: model.DayOff})
	require.NoError(t, err)

	days, err := repo.Days(ctx, ms.ID)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, 1, days[0].Date.Day())
	assert.Equal(t, model.DayVacation, days[1].Type)
	assert.True(t, days[1].Date.Equal(may9))
}
