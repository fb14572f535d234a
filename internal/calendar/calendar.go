// Package calendar holds the pure date arithmetic the recurrence engine is
// built on: ISO-8601 week numbers, week parity, and forward scans for a
// weekday/parity combination.
package calendar

import (
	"time"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// maxParityScanDays bounds FirstMatchingDate. Any weekday occurs within 7
// days and any weekday/parity pair within 14, so a scan that runs longer
// indicates a bug, not a rare input.
const maxParityScanDays = 14

// ISOWeek returns the ISO-8601 year and week number for a date. The week
// containing the year's first Thursday is week 1.
func ISOWeek(date time.Time) (year, week int) {
	return date.ISOWeek()
}

// WeekParity classifies the date's ISO week number as odd or even.
func WeekParity(date time.Time) models.WeekParity {
	_, week := date.ISOWeek()
	if week%2 == 1 {
		return models.ParityOdd
	}
	return models.ParityEven
}

// MatchesParity reports whether the date satisfies the parity requirement.
// ParityAll matches every date.
func MatchesParity(date time.Time, parity models.WeekParity) bool {
	if parity == models.ParityAll || parity == "" {
		return true
	}
	return WeekParity(date) == parity
}

// FirstMatchingDate scans forward from the given date (inclusive) to the
// first date on the target weekday whose week parity matches. The scan is
// guaranteed to terminate within 14 days; the ok result is false only if
// that bound is violated, which cannot happen for a valid parity value.
func FirstMatchingDate(from time.Time, weekday time.Weekday, parity models.WeekParity) (time.Time, bool) {
	date := models.DateOnly(from)
	for i := 0; i <= maxParityScanDays; i++ {
		if date.Weekday() == weekday && MatchesParity(date, parity) {
			return date, true
		}
		date = date.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

// StartOfWeek returns the Monday of the date's ISO week.
func StartOfWeek(date time.Time) time.Time {
	d := models.DateOnly(date)
	offset := int(d.Weekday()-time.Monday+7) % 7
	return d.AddDate(0, 0, -offset)
}

// StartOfMonth returns the first day of the date's month.
func StartOfMonth(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// EndOfMonth returns the last day of the date's month.
func EndOfMonth(date time.Time) time.Time {
	return StartOfMonth(date).AddDate(0, 1, -1)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MinDate returns the earlier of two dates.
func MinDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// MaxDate returns the later of two dates.
func MaxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
