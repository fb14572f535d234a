package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

func weeklyTemplate(weekday time.Weekday, start time.Time) models.CourseTemplate {
	return models.CourseTemplate{
		ID:        "tpl-1",
		Weekday:   weekday,
		Frequency: models.FrequencyWeekly,
		Parity:    models.ParityAll,
		StartDate: start,
	}
}

func TestWeeklySequenceJanuary(t *testing.T) {
	tpl := weeklyTemplate(time.Monday, date(2024, time.January, 1))
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.January, 31))

	dates := seq.Collect()
	require.Len(t, dates, 5)
	assert.Equal(t, []time.Time{
		date(2024, time.January, 1),
		date(2024, time.January, 8),
		date(2024, time.January, 15),
		date(2024, time.January, 22),
		date(2024, time.January, 29),
	}, dates)
}

func TestBiweeklyOddSequence(t *testing.T) {
	tpl := models.CourseTemplate{
		Weekday:   time.Monday,
		Frequency: models.FrequencyBiweekly,
		Parity:    models.ParityOdd,
		StartDate: date(2024, time.January, 1),
	}
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.January, 31))

	dates := seq.Collect()
	assert.Equal(t, []time.Time{
		date(2024, time.January, 1),
		date(2024, time.January, 15),
		date(2024, time.January, 29),
	}, dates)
}

func TestBiweeklyEvenSeedSkipsForward(t *testing.T) {
	tpl := models.CourseTemplate{
		Weekday:   time.Monday,
		Frequency: models.FrequencyBiweekly,
		Parity:    models.ParityEven,
		StartDate: date(2024, time.January, 1),
	}
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.January, 31))

	dates := seq.Collect()
	assert.Equal(t, []time.Time{
		date(2024, time.January, 8),
		date(2024, time.January, 22),
	}, dates)
}

func TestWeeklyIgnoresParity(t *testing.T) {
	tpl := weeklyTemplate(time.Monday, date(2024, time.January, 1))
	tpl.Parity = models.ParityEven // meaningless outside biweekly
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.January, 31))
	assert.Len(t, seq.Collect(), 5)
}

func TestMonthlyKeepsDayOfMonthWithClamp(t *testing.T) {
	tpl := models.CourseTemplate{
		Weekday:   time.Wednesday,
		Frequency: models.FrequencyMonthly,
		StartDate: date(2024, time.January, 31), // Wednesday
	}
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.May, 31))

	dates := seq.Collect()
	assert.Equal(t, []time.Time{
		date(2024, time.January, 31),
		date(2024, time.February, 29), // clamped, leap year
		date(2024, time.March, 31),    // snaps back to the anchor day
		date(2024, time.April, 30),
		date(2024, time.May, 31),
	}, dates)
}

func TestSequenceClampsToTemplateBounds(t *testing.T) {
	end := date(2024, time.January, 15)
	tpl := weeklyTemplate(time.Monday, date(2024, time.January, 8))
	tpl.EndDate = &end
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.March, 31))

	dates := seq.Collect()
	assert.Equal(t, []time.Time{
		date(2024, time.January, 8),
		date(2024, time.January, 15),
	}, dates)
}

func TestSequenceEmptyWindow(t *testing.T) {
	tpl := weeklyTemplate(time.Monday, date(2024, time.June, 1))
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.January, 31))
	assert.Empty(t, seq.Collect())

	_, ok := seq.Next()
	assert.False(t, ok)
}

func TestSequenceReset(t *testing.T) {
	tpl := weeklyTemplate(time.Monday, date(2024, time.January, 1))
	seq := NewSequence(tpl, date(2024, time.January, 1), date(2024, time.January, 31))

	first := seq.Collect()
	seq.Reset()
	second := seq.Collect()
	assert.Equal(t, first, second)
}

func TestBiweekly53WeekYearGap(t *testing.T) {
	// 2026 has 53 ISO weeks: the odd-week cadence produces a 7-day gap at the
	// year boundary instead of 14. The recurrence engine steps a fixed 14
	// days from the seed, so the occurrence after 2026-12-28 (week 53, odd)
	// is 2027-01-11 (week 2, even) - parity drifts at that boundary rather
	// than the gap shrinking. This pins down the documented behavior.
	tpl := models.CourseTemplate{
		Weekday:   time.Monday,
		Frequency: models.FrequencyBiweekly,
		Parity:    models.ParityOdd,
		StartDate: date(2026, time.December, 1),
	}
	seq := NewSequence(tpl, date(2026, time.December, 1), date(2027, time.January, 31))

	dates := seq.Collect()
	require.NotEmpty(t, dates)
	assert.Equal(t, date(2026, time.December, 14), dates[0]) // week 51, odd
	assert.Equal(t, []time.Time{
		date(2026, time.December, 14),
		date(2026, time.December, 28),
		date(2027, time.January, 11),
		date(2027, time.January, 25),
	}, dates)
}
