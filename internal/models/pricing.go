package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingVersion is one time-ranged price record for a course type. Versions
// form a contiguous, non-overlapping history; the current version is the one
// with an open-ended ValidUntil rather than a stored flag, so there is a
// single source of truth for "current".
type PricingVersion struct {
	ID           string          `db:"id" json:"id"`
	CourseTypeID string          `db:"course_type_id" json:"course_type_id"`
	AdultPrice   decimal.Decimal `db:"adult_price" json:"adult_price"`
	ChildPrice   decimal.Decimal `db:"child_price" json:"child_price"`
	ValidFrom    time.Time       `db:"valid_from" json:"valid_from"`
	ValidUntil   *time.Time      `db:"valid_until" json:"valid_until,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Current reports whether this is the open-ended, latest version.
func (p PricingVersion) Current() bool {
	return p.ValidUntil == nil
}

// Covers reports whether date falls inside [ValidFrom, ValidUntil).
func (p PricingVersion) Covers(date time.Time) bool {
	d := DateOnly(date)
	if d.Before(DateOnly(p.ValidFrom)) {
		return false
	}
	return p.ValidUntil == nil || d.Before(DateOnly(*p.ValidUntil))
}

// PriceFor selects the adult or child price based on the student's age at
// the lesson date.
func (p PricingVersion) PriceFor(age, childAgeCutoff int) decimal.Decimal {
	if age < childAgeCutoff {
		return p.ChildPrice
	}
	return p.AdultPrice
}
