package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Student is a person lessons are billed to.
type Student struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	BirthDate time.Time `db:"birth_date" json:"birth_date"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AgeAt returns the student's age in full years at the given date.
func (s Student) AgeAt(date time.Time) int {
	years := date.Year() - s.BirthDate.Year()
	anniversary := s.BirthDate.AddDate(years, 0, 0)
	if anniversary.After(date) {
		years--
	}
	return years
}

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusActive EnrollmentStatus = "ACTIVE"
	EnrollmentStatusPaused EnrollmentStatus = "PAUSED"
	EnrollmentStatusEnded  EnrollmentStatus = "ENDED"
)

// BillingCycle determines which invoice batch an enrollment belongs to.
type BillingCycle string

// Supported billing cycles.
const (
	BillingMonthly   BillingCycle = "MONTHLY"
	BillingQuarterly BillingCycle = "QUARTERLY"
)

// Enrollment links a student to a course template with billing terms.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	StudentID       string           `db:"student_id" json:"student_id"`
	TemplateID      string           `db:"template_id" json:"template_id"`
	DiscountPercent decimal.Decimal  `db:"discount_percent" json:"discount_percent"`
	BillingCycle    BillingCycle     `db:"billing_cycle" json:"billing_cycle"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	JoinedAt        time.Time        `db:"joined_at" json:"joined_at"`
	LeftAt          *time.Time       `db:"left_at" json:"left_at,omitempty"`
}

// Payment records money received from a student.
type Payment struct {
	ID         string          `db:"id" json:"id"`
	StudentID  string          `db:"student_id" json:"student_id"`
	InvoiceID  *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Method     string          `db:"method" json:"method"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
