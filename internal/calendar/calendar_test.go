package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestISOWeekFirstThursdayRule(t *testing.T) {
	// 2021-01-01 is a Friday, so it still belongs to week 53 of 2020.
	year, week := ISOWeek(date(2021, time.January, 1))
	assert.Equal(t, 2020, year)
	assert.Equal(t, 53, week)

	// 2024-01-01 is a Monday and opens week 1.
	year, week = ISOWeek(date(2024, time.January, 1))
	assert.Equal(t, 2024, year)
	assert.Equal(t, 1, week)
}

func TestWeekParityMatchesWeekNumber(t *testing.T) {
	for day := 0; day < 730; day++ {
		d := date(2024, time.January, 1).AddDate(0, 0, day)
		_, week := d.ISOWeek()
		want := models.ParityEven
		if week%2 == 1 {
			want = models.ParityOdd
		}
		assert.Equal(t, want, WeekParity(d), "date %s week %d", d.Format("2006-01-02"), week)
	}
}

func TestWeekParityAcross53WeekYearBoundary(t *testing.T) {
	// 2026 has 53 ISO weeks, so week 53 of 2026 and week 1 of 2027 are both
	// odd: two consecutive same-parity weeks at the boundary.
	assert.Equal(t, models.ParityOdd, WeekParity(date(2026, time.December, 31)))
	assert.Equal(t, models.ParityOdd, WeekParity(date(2027, time.January, 4)))
}

func TestMatchesParity(t *testing.T) {
	odd := date(2024, time.January, 1) // week 1
	even := date(2024, time.January, 8)

	assert.True(t, MatchesParity(odd, models.ParityAll))
	assert.True(t, MatchesParity(even, models.ParityAll))
	assert.True(t, MatchesParity(odd, models.ParityOdd))
	assert.False(t, MatchesParity(odd, models.ParityEven))
	assert.True(t, MatchesParity(even, models.ParityEven))
}

func TestFirstMatchingDateWithinBound(t *testing.T) {
	parities := []models.WeekParity{models.ParityAll, models.ParityOdd, models.ParityEven}
	from := date(2024, time.March, 3)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		for _, parity := range parities {
			match, ok := FirstMatchingDate(from, wd, parity)
			require.True(t, ok, "weekday %s parity %s", wd, parity)
			assert.Equal(t, wd, match.Weekday())
			assert.True(t, MatchesParity(match, parity))
			assert.LessOrEqual(t, int(match.Sub(from).Hours()/24), 14)
			assert.False(t, match.Before(from))
		}
	}
}

func TestFirstMatchingDateInclusive(t *testing.T) {
	monday := date(2024, time.January, 1) // Monday, odd week
	match, ok := FirstMatchingDate(monday, time.Monday, models.ParityOdd)
	require.True(t, ok)
	assert.Equal(t, monday, match)
}

func TestStartOfWeek(t *testing.T) {
	assert.Equal(t, date(2024, time.January, 1), StartOfWeek(date(2024, time.January, 4)))
	assert.Equal(t, date(2024, time.January, 1), StartOfWeek(date(2024, time.January, 7))) // Sunday stays in its ISO week
	assert.Equal(t, date(2024, time.January, 8), StartOfWeek(date(2024, time.January, 8)))
}

func TestMonthBoundaries(t *testing.T) {
	assert.Equal(t, date(2024, time.February, 1), StartOfMonth(date(2024, time.February, 15)))
	assert.Equal(t, date(2024, time.February, 29), EndOfMonth(date(2024, time.February, 15)))
	assert.Equal(t, 29, DaysInMonth(2024, time.February))
	assert.Equal(t, 28, DaysInMonth(2023, time.February))
	assert.Equal(t, 31, DaysInMonth(2024, time.December))
}
