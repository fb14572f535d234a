package dto

import (
	"time"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// BatchInvoiceRequest asks for invoice generation across a billing cycle.
type BatchInvoiceRequest struct {
	Cycle       models.BillingCycle `json:"cycle" binding:"required" validate:"required,oneof=MONTHLY QUARTERLY"`
	PeriodStart time.Time           `json:"period_start" binding:"required" validate:"required"`
	PeriodEnd   time.Time           `json:"period_end" binding:"required" validate:"required"`
}

// EnrollmentOutcome captures a per-enrollment result in an invoice batch.
// Skipped marks enrollments with nothing to bill, which is not a failure.
type EnrollmentOutcome struct {
	EnrollmentID string `json:"enrollment_id"`
	InvoiceID    string `json:"invoice_id,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BatchInvoiceResult aggregates an invoice batch run.
type BatchInvoiceResult struct {
	Processed int                 `json:"processed"`
	Generated int                 `json:"generated"`
	Skipped   int                 `json:"skipped"`
	Failed    int                 `json:"failed"`
	Outcomes  []EnrollmentOutcome `json:"outcomes"`
	Duration  time.Duration       `json:"duration"`
}
