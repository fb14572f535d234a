package calendar

import (
	"time"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// Sequence is a lazy, finite iterator over the candidate dates of one course
// template within a window. It carries no side effects; persisting lessons
// for the yielded dates is the caller's job. A Sequence can be restarted
// with Reset.
//
// Stepping rules: weekly advances 7 days, biweekly 14 (the seed date fixes
// the parity cadence, since same-parity weeks are 14 days apart). Across a
// 53-ISO-week year boundary two consecutive weeks share a parity, so a
// biweekly course sees a 7-day gap there; that is the documented ISO-8601
// behavior and is deliberately not smoothed over. Monthly keeps the seed's
// day of month, clamped to the last day of shorter months.
type Sequence struct {
	frequency models.Frequency
	seed      time.Time
	bound     time.Time
	anchorDay int
	next      time.Time
	exhausted bool
}

// NewSequence builds the candidate-date iterator for a template, clamping
// the requested window to the template's own start and end dates. An empty
// sequence (not an error) results when the clamped window is empty or no
// seed date exists inside it.
func NewSequence(tpl models.CourseTemplate, windowStart, windowEnd time.Time) *Sequence {
	start := MaxDate(models.DateOnly(windowStart), models.DateOnly(tpl.StartDate))
	end := models.DateOnly(windowEnd)
	if tpl.EndDate != nil {
		end = MinDate(end, models.DateOnly(*tpl.EndDate))
	}

	seq := &Sequence{frequency: tpl.Frequency, bound: end, exhausted: true}
	if start.After(end) {
		return seq
	}

	seed, ok := FirstMatchingDate(start, tpl.Weekday, tpl.EffectiveParity())
	if !ok || seed.After(end) {
		return seq
	}

	seq.seed = seed
	seq.anchorDay = seed.Day()
	seq.next = seed
	seq.exhausted = false
	return seq
}

// Next yields the next candidate date. The second result is false once the
// sequence is exhausted.
func (s *Sequence) Next() (time.Time, bool) {
	if s.exhausted {
		return time.Time{}, false
	}
	current := s.next
	s.next = s.step(current)
	if s.next.After(s.bound) {
		s.exhausted = true
	}
	return current, true
}

// Reset rewinds the sequence to its seed date.
func (s *Sequence) Reset() {
	if s.seed.IsZero() {
		return
	}
	s.next = s.seed
	s.exhausted = false
}

// Collect drains the sequence into a slice.
func (s *Sequence) Collect() []time.Time {
	var dates []time.Time
	for {
		date, ok := s.Next()
		if !ok {
			return dates
		}
		dates = append(dates, date)
	}
}

func (s *Sequence) step(from time.Time) time.Time {
	switch s.frequency {
	case models.FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case models.FrequencyMonthly:
		return nextMonthlyDate(from, s.anchorDay)
	default:
		return from.AddDate(0, 0, 7)
	}
}

// nextMonthlyDate advances one calendar month keeping the anchor day of
// month. A 31st anchor lands on the 30th (or 28th/29th) in shorter months
// but snaps back to the 31st where the month allows it.
func nextMonthlyDate(from time.Time, anchorDay int) time.Time {
	year, month := from.Year(), from.Month()+1
	if month > time.December {
		year++
		month = time.January
	}
	day := anchorDay
	if max := DaysInMonth(year, month); day > max {
		day = max
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
