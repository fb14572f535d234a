package models

import "time"

// Frequency controls the cadence at which a course template repeats.
type Frequency string

// Supported recurrence frequencies.
const (
	FrequencyWeekly   Frequency = "WEEKLY"
	FrequencyBiweekly Frequency = "BIWEEKLY"
	FrequencyMonthly  Frequency = "MONTHLY"
)

// WeekParity classifies an ISO week number as odd or even.
type WeekParity string

// Parity requirements for biweekly templates. ParityAll matches every week.
const (
	ParityAll  WeekParity = "ALL"
	ParityOdd  WeekParity = "ODD"
	ParityEven WeekParity = "EVEN"
)

// CourseCategory distinguishes how occurrences are instantiated.
type CourseCategory string

// Course categories. Individual courses materialize one occurrence per
// enrolled student; group and workshop courses share a single occurrence.
const (
	CategoryIndividual CourseCategory = "INDIVIDUAL"
	CategoryGroup      CourseCategory = "GROUP"
	CategoryWorkshop   CourseCategory = "WORKSHOP"
)

// CourseTemplate is the recurring schedule definition lessons are generated
// from. Immutable once lessons exist, except for the active flag and end date.
type CourseTemplate struct {
	ID           string         `db:"id" json:"id"`
	CourseTypeID string         `db:"course_type_id" json:"course_type_id"`
	TeacherID    string         `db:"teacher_id" json:"teacher_id"`
	Name         string         `db:"name" json:"name"`
	Weekday      time.Weekday   `db:"weekday" json:"weekday"`
	StartTime    string         `db:"start_time" json:"start_time"`
	EndTime      string         `db:"end_time" json:"end_time"`
	Frequency    Frequency      `db:"frequency" json:"frequency"`
	Parity       WeekParity     `db:"parity" json:"parity"`
	StartDate    time.Time      `db:"start_date" json:"start_date"`
	EndDate      *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Category     CourseCategory `db:"category" json:"category"`
	Capacity     int            `db:"capacity" json:"capacity"`
	Active       bool           `db:"active" json:"active"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// SharedOccurrence reports whether a single occurrence serves all attendees.
func (c CourseTemplate) SharedOccurrence() bool {
	return c.Category == CategoryGroup || c.Category == CategoryWorkshop
}

// EffectiveParity returns the parity filter the recurrence engine applies.
// Parity is only meaningful for biweekly templates.
func (c CourseTemplate) EffectiveParity() WeekParity {
	if c.Frequency != FrequencyBiweekly || c.Parity == "" {
		return ParityAll
	}
	return c.Parity
}

// Holiday is a named closed date range during which no lessons take place.
type Holiday struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
}

// Covers reports whether the holiday range includes the given date.
func (h Holiday) Covers(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(h.StartDate)) && !d.After(DateOnly(h.EndDate))
}

// DateOnly strips the time-of-day component, normalizing to UTC midnight.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
