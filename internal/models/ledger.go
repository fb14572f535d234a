package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntryType classifies financial events in the student ledger.
type LedgerEntryType string

// Ledger entry types. CreditConsumption and CreditApplication always appear
// as a balanced pair written in one transaction.
const (
	EntryCharge            LedgerEntryType = "CHARGE"
	EntryPayment           LedgerEntryType = "PAYMENT"
	EntryCreditNote        LedgerEntryType = "CREDIT_NOTE"
	EntryCreditConsumption LedgerEntryType = "CREDIT_CONSUMPTION"
	EntryCreditApplication LedgerEntryType = "CREDIT_APPLICATION"
)

// LedgerEntry is an immutable debit/credit record of a financial event.
// Entries are never mutated or deleted; corrections are new offsetting
// entries. This is the auditability invariant the whole ledger rests on.
type LedgerEntry struct {
	ID           string          `db:"id" json:"id"`
	StudentID    string          `db:"student_id" json:"student_id"`
	EntryDate    time.Time       `db:"entry_date" json:"entry_date"`
	Type         LedgerEntryType `db:"type" json:"type"`
	Debit        decimal.Decimal `db:"debit" json:"debit"`
	Credit       decimal.Decimal `db:"credit" json:"credit"`
	InvoiceID    *string         `db:"invoice_id" json:"invoice_id,omitempty"`
	PaymentID    *string         `db:"payment_id" json:"payment_id,omitempty"`
	CreditNoteID *string         `db:"credit_note_id" json:"credit_note_id,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// FoldBalance computes a student balance as sum(debits) - sum(credits) over
// the raw entry list. Balance is always derived this way, never cached.
func FoldBalance(entries []LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.Debit).Sub(e.Credit)
	}
	return balance
}
