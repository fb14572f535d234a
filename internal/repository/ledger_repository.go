package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// LedgerRepository appends and reads immutable ledger entries. There are no
// update or delete operations on this table; corrections are new entries.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, student_id, entry_date, type, debit, credit, invoice_id, payment_id, credit_note_id, created_by, created_at`

// Insert appends an entry inside the caller's transaction.
func (r *LedgerRepository) Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.EntryDate.IsZero() {
		entry.EntryDate = entry.CreatedAt
	}
	const query = `INSERT INTO ledger_entries (id, student_id, entry_date, type, debit, credit, invoice_id, payment_id, credit_note_id, created_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := exec.ExecContext(ctx, query,
		entry.ID, entry.StudentID, entry.EntryDate, entry.Type, entry.Debit, entry.Credit,
		entry.InvoiceID, entry.PaymentID, entry.CreditNoteID, entry.CreatedBy, entry.CreatedAt)
	return err
}

// ListByStudent returns every entry for a student in chronological order.
func (r *LedgerRepository) ListByStudent(ctx context.Context, studentID string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + ledgerColumns + ` FROM ledger_entries
        WHERE student_id = $1 ORDER BY entry_date, created_at`
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, studentID); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListConsumptionsByCreditNote returns the consumption debits recorded
// against a credit note, the inputs to its remaining-credit fold.
func (r *LedgerRepository) ListConsumptionsByCreditNote(ctx context.Context, creditNoteID string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + ledgerColumns + ` FROM ledger_entries
        WHERE credit_note_id = $1 AND type = $2 ORDER BY created_at`
	var entries []models.LedgerEntry
	if err := r.db.SelectContext(ctx, &entries, query, creditNoteID, models.EntryCreditConsumption); err != nil {
		return nil, err
	}
	return entries, nil
}
