package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// InvoiceRepository handles persistence of invoices and their lines.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `id, student_id, enrollment_id, period_start, period_end, status,
        subtotal, tax, discount, total, amount_paid, credits_applied, version, created_at, updated_at`

// FindByID returns an invoice by its ID.
func (r *InvoiceRepository) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	const query = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	var invoice models.Invoice
	if err := r.db.GetContext(ctx, &invoice, query, id); err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ExistsForEnrollmentPeriod reports whether a live (non-cancelled) invoice
// already covers an overlapping period for the enrollment. This is what
// keeps group-course billing idempotent, since shared occurrences carry no
// per-student invoiced flag.
func (r *InvoiceRepository) ExistsForEnrollmentPeriod(ctx context.Context, enrollmentID string, periodStart, periodEnd time.Time) (bool, error) {
	const query = `SELECT 1 FROM invoices
        WHERE enrollment_id = $1 AND status <> $2
          AND period_start <= $4 AND period_end >= $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, enrollmentID, models.InvoiceStatusCancelled, periodStart, periodEnd); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert persists a new invoice inside the caller's transaction.
func (r *InvoiceRepository) Insert(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	if invoice.ID == "" {
		invoice.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now
	if invoice.Version == 0 {
		invoice.Version = 1
	}
	const query = `INSERT INTO invoices (id, student_id, enrollment_id, period_start, period_end, status,
        subtotal, tax, discount, total, amount_paid, credits_applied, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := exec.ExecContext(ctx, query,
		invoice.ID, invoice.StudentID, invoice.EnrollmentID, invoice.PeriodStart, invoice.PeriodEnd,
		invoice.Status, invoice.Subtotal, invoice.Tax, invoice.Discount, invoice.Total,
		invoice.AmountPaid, invoice.CreditsApplied, invoice.Version, invoice.CreatedAt, invoice.UpdatedAt)
	return err
}

// UpdateTotals rewrites the monetary columns of a draft invoice inside the
// caller's transaction.
func (r *InvoiceRepository) UpdateTotals(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error {
	const query = `UPDATE invoices SET subtotal = $2, tax = $3, discount = $4, total = $5, updated_at = $6 WHERE id = $1`
	_, err := exec.ExecContext(ctx, query,
		invoice.ID, invoice.Subtotal, invoice.Tax, invoice.Discount, invoice.Total, time.Now().UTC())
	return err
}

// UpdateStatus transitions the invoice status inside the caller's transaction.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.InvoiceStatus) error {
	const query = `UPDATE invoices SET status = $2, updated_at = $3 WHERE id = $1`
	_, err := exec.ExecContext(ctx, query, id, status, time.Now().UTC())
	return err
}

// AddPayment increments amount_paid inside the caller's transaction.
func (r *InvoiceRepository) AddPayment(ctx context.Context, exec sqlx.ExtContext, id string, amount decimal.Decimal) error {
	const query = `UPDATE invoices SET amount_paid = amount_paid + $2, updated_at = $3 WHERE id = $1`
	_, err := exec.ExecContext(ctx, query, id, amount, time.Now().UTC())
	return err
}

// ApplyCredits increments credits_applied with an optimistic version guard.
// Returns the number of rows updated; zero means a concurrent writer won and
// the caller must retry or report a conflict.
func (r *InvoiceRepository) ApplyCredits(ctx context.Context, exec sqlx.ExtContext, id string, amount decimal.Decimal, expectedVersion int) (int64, error) {
	const query = `UPDATE invoices SET credits_applied = credits_applied + $2, version = version + 1, updated_at = $3
        WHERE id = $1 AND version = $4`
	res, err := exec.ExecContext(ctx, query, id, amount, time.Now().UTC(), expectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BumpVersion advances an invoice's version with an optimistic guard,
// changing nothing else. Credit application bumps the credit note's row
// this way so concurrent consumers of the same note serialize: the loser
// matches zero rows and rolls back.
func (r *InvoiceRepository) BumpVersion(ctx context.Context, exec sqlx.ExtContext, id string, expectedVersion int) (int64, error) {
	const query = `UPDATE invoices SET version = version + 1, updated_at = $2
        WHERE id = $1 AND version = $3`
	res, err := exec.ExecContext(ctx, query, id, time.Now().UTC(), expectedVersion)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertLines persists invoice lines inside the caller's transaction.
func (r *InvoiceRepository) InsertLines(ctx context.Context, exec sqlx.ExtContext, lines []models.InvoiceLine) error {
	const query = `INSERT INTO invoice_lines (id, invoice_id, lesson_id, pricing_version_id, description, quantity, unit_price, tax_rate, total)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
		line := lines[i]
		if _, err := exec.ExecContext(ctx, query,
			line.ID, line.InvoiceID, line.LessonID, line.PricingVersionID, line.Description,
			line.Quantity, line.UnitPrice, line.TaxRate, line.Total); err != nil {
			return err
		}
	}
	return nil
}

// ListLines returns the lines of an invoice.
func (r *InvoiceRepository) ListLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	const query = `SELECT id, invoice_id, lesson_id, pricing_version_id, description, quantity, unit_price, tax_rate, total
        FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`
	var lines []models.InvoiceLine
	if err := r.db.SelectContext(ctx, &lines, query, invoiceID); err != nil {
		return nil, err
	}
	return lines, nil
}

// DeleteLines removes all lines of a draft invoice inside the caller's
// transaction.
func (r *InvoiceRepository) DeleteLines(ctx context.Context, exec sqlx.ExtContext, invoiceID string) error {
	const query = `DELETE FROM invoice_lines WHERE invoice_id = $1`
	_, err := exec.ExecContext(ctx, query, invoiceID)
	return err
}
