package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/models"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
)

type ledgerStore interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.LedgerEntry) error
	ListByStudent(ctx context.Context, studentID string) ([]models.LedgerEntry, error)
}

type paymentStore interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) error
}

type ledgerInvoiceStore interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	AddPayment(ctx context.Context, exec sqlx.ExtContext, id string, amount decimal.Decimal) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.InvoiceStatus) error
}

type ledgerMetrics interface {
	LedgerEntryRecorded(entryType models.LedgerEntryType)
}

// LedgerService appends immutable transaction entries for every financial
// event and derives student balances by folding over them. Entries are never
// edited or deleted; a mistake is corrected by a new offsetting entry.
type LedgerService struct {
	entries   ledgerStore
	payments  paymentStore
	invoices  ledgerInvoiceStore
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
	metrics   ledgerMetrics
}

// NewLedgerService wires ledger dependencies.
func NewLedgerService(
	entries ledgerStore,
	payments paymentStore,
	invoices ledgerInvoiceStore,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics ledgerMetrics,
) *LedgerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		entries:   entries,
		payments:  payments,
		invoices:  invoices,
		tx:        tx,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
	}
}

// RecordCharge appends the Charge entry for an issued invoice inside the
// caller's transaction, so sending the invoice and charging the ledger
// commit together.
func (s *LedgerService) RecordCharge(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice, createdBy string) error {
	entry := &models.LedgerEntry{
		StudentID: invoice.StudentID,
		Type:      models.EntryCharge,
		Debit:     invoice.Total,
		Credit:    decimal.Zero,
		InvoiceID: &invoice.ID,
		CreatedBy: createdBy,
	}
	if err := s.entries.Insert(ctx, exec, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record charge")
	}
	s.countEntry(models.EntryCharge)
	return nil
}

// RecordCreditNoteIssued appends the CreditNote entry for a negative-total
// invoice inside the caller's transaction.
func (s *LedgerService) RecordCreditNoteIssued(ctx context.Context, exec sqlx.ExtContext, creditNote *models.Invoice, createdBy string) error {
	entry := &models.LedgerEntry{
		StudentID:    creditNote.StudentID,
		Type:         models.EntryCreditNote,
		Debit:        decimal.Zero,
		Credit:       creditNote.Total.Abs(),
		CreditNoteID: &creditNote.ID,
		CreatedBy:    createdBy,
	}
	if err := s.entries.Insert(ctx, exec, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record credit note")
	}
	s.countEntry(models.EntryCreditNote)
	return nil
}

// RecordPaymentRequest registers money received from a student.
type RecordPaymentRequest struct {
	StudentID  string          `json:"student_id" validate:"required"`
	InvoiceID  *string         `json:"invoice_id,omitempty"`
	Amount     decimal.Decimal `json:"amount" validate:"required"`
	Method     string          `json:"method" validate:"required"`
	ReceivedBy string          `json:"received_by"`
}

// RecordPayment persists the payment, appends its ledger entry, and settles
// the referenced invoice when the payment covers its outstanding balance.
// Overpaying is allowed and simply leaves the student in credit.
func (s *LedgerService) RecordPayment(ctx context.Context, req RecordPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment amount must be positive")
	}

	var invoice *models.Invoice
	if req.InvoiceID != nil {
		var err error
		invoice, err = s.invoices.FindByID(ctx, *req.InvoiceID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
		}
		if invoice.StudentID != req.StudentID {
			return nil, appErrors.Clone(appErrors.ErrConflict, "invoice belongs to a different student")
		}
		if invoice.Status == models.InvoiceStatusDraft || invoice.Status == models.InvoiceStatusCancelled {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "invoice is not payable")
		}
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	payment := &models.Payment{
		StudentID: req.StudentID,
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Method:    req.Method,
	}
	if err = s.payments.Insert(ctx, tx, payment); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist payment")
		return nil, err
	}

	entry := &models.LedgerEntry{
		StudentID: req.StudentID,
		Type:      models.EntryPayment,
		Debit:     decimal.Zero,
		Credit:    req.Amount,
		InvoiceID: req.InvoiceID,
		PaymentID: &payment.ID,
		CreatedBy: req.ReceivedBy,
	}
	if err = s.entries.Insert(ctx, tx, entry); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment entry")
		return nil, err
	}

	if invoice != nil {
		if err = s.invoices.AddPayment(ctx, tx, invoice.ID, req.Amount); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice payment total")
			return nil, err
		}
		if invoice.Outstanding().Sub(req.Amount).LessThanOrEqual(decimal.Zero) {
			if err = s.invoices.UpdateStatus(ctx, tx, invoice.ID, models.InvoiceStatusPaid); err != nil {
				err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle invoice")
				return nil, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit payment")
		return nil, err
	}

	s.countEntry(models.EntryPayment)
	s.logger.Info("payment recorded",
		zap.String("payment_id", payment.ID),
		zap.String("student_id", req.StudentID),
		zap.String("amount", req.Amount.String()))
	return payment, nil
}

// Balance derives the student balance as sum(debits) - sum(credits) over
// every entry. Deliberately a pure fold over the raw list: there is no
// cached running total to drift from the entry log.
func (s *LedgerService) Balance(ctx context.Context, studentID string) (decimal.Decimal, error) {
	entries, err := s.entries.ListByStudent(ctx, studentID)
	if err != nil {
		return decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger entries")
	}
	return models.FoldBalance(entries), nil
}

// Statement returns the entry history for a student in chronological order.
func (s *LedgerService) Statement(ctx context.Context, studentID string) ([]models.LedgerEntry, error) {
	entries, err := s.entries.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ledger entries")
	}
	return entries, nil
}

func (s *LedgerService) countEntry(entryType models.LedgerEntryType) {
	if s.metrics != nil {
		s.metrics.LedgerEntryRecorded(entryType)
	}
}
