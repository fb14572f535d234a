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

// PricingRepository handles the append-only pricing history of course types.
type PricingRepository struct {
	db *sqlx.DB
}

// NewPricingRepository constructs the repository.
func NewPricingRepository(db *sqlx.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

const pricingColumns = `id, course_type_id, adult_price, child_price, valid_from, valid_until, created_at`

// FindCurrent returns the open-ended version for a course type.
func (r *PricingRepository) FindCurrent(ctx context.Context, courseTypeID string) (*models.PricingVersion, error) {
	const query = `SELECT ` + pricingColumns + ` FROM pricing_versions
        WHERE course_type_id = $1 AND valid_until IS NULL`
	var version models.PricingVersion
	if err := r.db.GetContext(ctx, &version, query, courseTypeID); err != nil {
		return nil, err
	}
	return &version, nil
}

// FindAt returns the version whose [valid_from, valid_until) range contains
// the given date.
func (r *PricingRepository) FindAt(ctx context.Context, courseTypeID string, date time.Time) (*models.PricingVersion, error) {
	const query = `SELECT ` + pricingColumns + ` FROM pricing_versions
        WHERE course_type_id = $1 AND valid_from <= $2 AND (valid_until IS NULL OR valid_until > $2)`
	var version models.PricingVersion
	if err := r.db.GetContext(ctx, &version, query, courseTypeID, date); err != nil {
		return nil, err
	}
	return &version, nil
}

// ListByCourseType returns the full history ordered by valid_from.
func (r *PricingRepository) ListByCourseType(ctx context.Context, courseTypeID string) ([]models.PricingVersion, error) {
	const query = `SELECT ` + pricingColumns + ` FROM pricing_versions
        WHERE course_type_id = $1 ORDER BY valid_from`
	var versions []models.PricingVersion
	if err := r.db.SelectContext(ctx, &versions, query, courseTypeID); err != nil {
		return nil, err
	}
	return versions, nil
}

// Insert persists a new version inside the caller's transaction.
func (r *PricingRepository) Insert(ctx context.Context, exec sqlx.ExtContext, version *models.PricingVersion) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO pricing_versions (id, course_type_id, adult_price, child_price, valid_from, valid_until, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := exec.ExecContext(ctx, query,
		version.ID, version.CourseTypeID, version.AdultPrice, version.ChildPrice,
		version.ValidFrom, version.ValidUntil, version.CreatedAt)
	return err
}

// CloseVersion bounds an open version's validity inside the caller's
// transaction.
func (r *PricingRepository) CloseVersion(ctx context.Context, exec sqlx.ExtContext, id string, validUntil time.Time) error {
	const query = `UPDATE pricing_versions SET valid_until = $2 WHERE id = $1 AND valid_until IS NULL`
	res, err := exec.ExecContext(ctx, query, id, validUntil)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdatePrices edits a version's prices in place. Only legal while the
// version is unreferenced by non-draft invoices; the service checks that.
func (r *PricingRepository) UpdatePrices(ctx context.Context, id string, adultPrice, childPrice decimal.Decimal) error {
	const query = `UPDATE pricing_versions SET adult_price = $2, child_price = $3 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, adultPrice, childPrice)
	return err
}

// IsReferencedByIssuedInvoice reports whether any non-draft invoice line
// points at the version. Once true, the version is immutable.
func (r *PricingRepository) IsReferencedByIssuedInvoice(ctx context.Context, versionID string) (bool, error) {
	const query = `SELECT 1 FROM invoice_lines il
        JOIN invoices i ON i.id = il.invoice_id
        WHERE il.pricing_version_id = $1 AND i.status <> $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, versionID, models.InvoiceStatusDraft); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
