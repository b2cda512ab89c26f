package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, input := range []string{
		"FREQ=WEEKLY;BYDAY=TH",
		"RRULE:FREQ=WEEKLY;BYDAY=TH",
		"DTSTART:20240104T130000Z\nRRULE:FREQ=WEEKLY;BYDAY=TH",
		"DTSTART;TZID=Europe/Moscow:20240104T130000\r\nRRULE:FREQ=WEEKLY;BYDAY=TH",
	} {
		r, err := Parse(input)
		require.NoError(t, err, input)
		assert.NotEmpty(t, r.String())
	}

	for _, input := range []string{"", "FREQ=SOMETIMES", "DTSTART:20240104T130000Z", "FREQ=DAILY\nFREQ=WEEKLY"} {
		_, err := Parse(input)
		assert.Error(t, err, input)
	}
}

func TestBetweenWeeklyInclusive(t *testing.T) {
	r := MustParse("FREQ=WEEKLY;BYDAY=TH")
	anchor := DefaultAnchor(time.Time{}, time.UTC)

	// Thursdays of February 2024: 1, 8, 15, 22, 29.
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	got, truncated := r.Collect(start, end, anchor, 0)

	assert.False(t, truncated)
	require.Len(t, got, 5)
	assert.Equal(t, start, got[0], "window start is inclusive")
	assert.Equal(t, end, got[4], "window end is inclusive")
	for _, occ := range got {
		assert.Equal(t, time.Thursday, occ.Weekday())
	}
}

func TestBetweenUsesAnchorClockAndZone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	r := MustParse("FREQ=WEEKLY;BYDAY=TH")
	anchor := DefaultAnchor(time.Date(2024, 1, 4, 13, 0, 0, 0, loc), loc)
	assert.Equal(t, time.Date(2010, 1, 1, 13, 0, 0, 0, loc), anchor)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, loc)
	end := time.Date(2024, 2, 7, 23, 59, 59, 0, loc)

	got, _ := r.Collect(start, end, anchor, 0)

	require.Len(t, got, 1)
	assert.Equal(t, time.Date(2024, 2, 1, 13, 0, 0, 0, loc), got[0])
}

func TestBetweenIntervalPhaseIsStable(t *testing.T) {
	r := MustParse("FREQ=WEEKLY;INTERVAL=2;BYDAY=FR")
	anchor := DefaultAnchor(time.Time{}, time.UTC)

	jan, _ := r.Collect(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), anchor, 0)
	wide, _ := r.Collect(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), anchor, 0)

	require.NotEmpty(t, jan)
	assert.Equal(t, jan, wide[len(wide)-len(jan):])
	for i := 1; i < len(jan); i++ {
		assert.Equal(t, 14*24*time.Hour, jan[i].Sub(jan[i-1]))
	}
}

func TestBetweenExplicitDTStart(t *testing.T) {
	r := MustParse("DTSTART:20240215T000000Z\nRRULE:FREQ=DAILY;COUNT=3")
	require.True(t, r.HasStart())

	got, _ := r.Collect(
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		DefaultAnchor(time.Time{}, time.UTC),
		0,
	)

	require.Len(t, got, 3)
	assert.Equal(t, 15, got[0].Day())
	assert.Equal(t, 17, got[2].Day())
}

func TestBetweenKeepsDTStartZoneAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	moscow, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	r := MustParse("DTSTART;TZID=Europe/Berlin:20240102T180000\nRRULE:FREQ=WEEKLY")

	// The caller's anchor is in Moscow; the rule's own start wins.
	got, _ := r.Collect(
		time.Date(2024, 3, 1, 0, 0, 0, 0, moscow),
		time.Date(2024, 4, 30, 0, 0, 0, 0, moscow),
		DefaultAnchor(time.Time{}, moscow),
		0,
	)

	require.NotEmpty(t, got)
	for _, at := range got {
		assert.Equal(t, 18, at.In(berlin).Hour(), at.String())
		assert.Equal(t, time.Tuesday, at.In(berlin).Weekday())
	}
	// 18:00 CET is 17:00Z before the switch, 18:00 CEST is 16:00Z after.
	assert.Equal(t, 17, got[0].UTC().Hour())
	assert.Equal(t, 16, got[len(got)-1].UTC().Hour())
}

func TestSubHourly(t *testing.T) {
	assert.True(t, MustParse("FREQ=MINUTELY;INTERVAL=15").SubHourly())
	assert.True(t, MustParse("FREQ=SECONDLY").SubHourly())
	assert.False(t, MustParse("FREQ=HOURLY").SubHourly())
	assert.False(t, MustParse("FREQ=WEEKLY").SubHourly())
}

func TestCollectLimit(t *testing.T) {
	r := MustParse("FREQ=DAILY")
	got, truncated := r.Collect(
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		DefaultAnchor(time.Time{}, time.UTC),
		10,
	)

	assert.True(t, truncated)
	assert.Len(t, got, 10)
}

func TestBetweenEmptyWindow(t *testing.T) {
	r := MustParse("FREQ=DAILY")
	start := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)

	got, _ := r.Collect(start, start.Add(-time.Hour), DefaultAnchor(time.Time{}, time.UTC), 0)

	assert.Empty(t, got)
}
