package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus represents the invoice lifecycle.
type InvoiceStatus string

// Possible invoice statuses. Lines and the pricing versions they reference
// are frozen once an invoice leaves DRAFT.
const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusSent      InvoiceStatus = "SENT"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Invoice aggregates billed lessons for a student over a billing period.
// A credit note is an invoice with a negative total. Version guards
// optimistic-concurrency updates on the monetary columns.
type Invoice struct {
	ID             string          `db:"id" json:"id"`
	StudentID      string          `db:"student_id" json:"student_id"`
	EnrollmentID   *string         `db:"enrollment_id" json:"enrollment_id,omitempty"`
	PeriodStart    time.Time       `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time       `db:"period_end" json:"period_end"`
	Status         InvoiceStatus   `db:"status" json:"status"`
	Subtotal       decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax            decimal.Decimal `db:"tax" json:"tax"`
	Discount       decimal.Decimal `db:"discount" json:"discount"`
	Total          decimal.Decimal `db:"total" json:"total"`
	AmountPaid     decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	CreditsApplied decimal.Decimal `db:"credits_applied" json:"credits_applied"`
	Version        int             `db:"version" json:"version"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// IsCreditNote reports whether the invoice represents a refund/correction.
func (i Invoice) IsCreditNote() bool {
	return i.Total.IsNegative()
}

// Outstanding is the amount still owed: total minus payments and credits.
// Always derived, never stored.
func (i Invoice) Outstanding() decimal.Decimal {
	return i.Total.Sub(i.AmountPaid).Sub(i.CreditsApplied)
}

// InvoiceLine bills a single lesson or fee at a resolved pricing version.
type InvoiceLine struct {
	ID               string          `db:"id" json:"id"`
	InvoiceID        string          `db:"invoice_id" json:"invoice_id"`
	LessonID         *string         `db:"lesson_id" json:"lesson_id,omitempty"`
	PricingVersionID string          `db:"pricing_version_id" json:"pricing_version_id"`
	Description      string          `db:"description" json:"description"`
	Quantity         int             `db:"quantity" json:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	TaxRate          decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	Total            decimal.Decimal `db:"total" json:"total"`
}

// ComputeTotals folds lines into invoice totals. Subtotal is the sum of line
// totals, tax applies each line's rate, and discount is subtracted last.
func ComputeTotals(lines []InvoiceLine, discount decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	tax = decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Total)
		tax = tax.Add(line.UnitPrice.Mul(line.TaxRate).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	total = subtotal.Add(tax).Sub(discount)
	return subtotal, tax, total
}
