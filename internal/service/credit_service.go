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

type creditLedger interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, entry *models.LedgerEntry) error
	ListConsumptionsByCreditNote(ctx context.Context, creditNoteID string) ([]models.LedgerEntry, error)
}

type creditInvoiceStore interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
	ApplyCredits(ctx context.Context, exec sqlx.ExtContext, id string, amount decimal.Decimal, expectedVersion int) (int64, error)
	BumpVersion(ctx context.Context, exec sqlx.ExtContext, id string, expectedVersion int) (int64, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.InvoiceStatus) error
}

type creditNoteRecorder interface {
	RecordCreditNoteIssued(ctx context.Context, exec sqlx.ExtContext, creditNote *models.Invoice, createdBy string) error
}

type creditStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type creditMetrics interface {
	CreditApplied(amount decimal.Decimal)
}

// CreditService issues credit notes and applies their remaining value to
// open invoices. A credit note is a negative-total invoice; what is left of
// it is always derived from the ledger, never stored.
type CreditService struct {
	ledger    creditLedger
	invoices  creditInvoiceStore
	recorder  creditNoteRecorder
	students  creditStudentReader
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
	metrics   creditMetrics
}

// NewCreditService wires credit dependencies.
func NewCreditService(
	ledger creditLedger,
	invoices creditInvoiceStore,
	recorder creditNoteRecorder,
	students creditStudentReader,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics creditMetrics,
) *CreditService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditService{
		ledger:    ledger,
		invoices:  invoices,
		recorder:  recorder,
		students:  students,
		tx:        tx,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
	}
}

// CreateCreditNoteRequest issues credit to a student, for example for a
// teacher-cancelled lesson that was already billed.
type CreateCreditNoteRequest struct {
	StudentID string          `json:"student_id" validate:"required"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
	Reason    string          `json:"reason" validate:"required"`
	CreatedBy string          `json:"created_by"`
}

// CreateCreditNote stores a credit note as an invoice with a negative total,
// immediately in SENT status, and records the matching CreditNote ledger
// entry in the same transaction.
func (s *CreditService) CreateCreditNote(ctx context.Context, req CreateCreditNoteRequest) (*models.Invoice, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credit note payload")
	}
	if !req.Amount.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "credit note amount must be positive")
	}
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
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

	negated := req.Amount.Neg()
	creditNote := &models.Invoice{
		StudentID: req.StudentID,
		Status:    models.InvoiceStatusSent,
		Subtotal:  negated,
		Tax:       decimal.Zero,
		Discount:  decimal.Zero,
		Total:     negated,
	}
	if err = s.invoices.Insert(ctx, tx, creditNote); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist credit note")
		return nil, err
	}
	if err = s.recorder.RecordCreditNoteIssued(ctx, tx, creditNote, req.CreatedBy); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit credit note")
		return nil, err
	}

	s.logger.Info("credit note issued",
		zap.String("credit_note_id", creditNote.ID),
		zap.String("student_id", req.StudentID),
		zap.String("amount", req.Amount.String()),
		zap.String("reason", req.Reason))
	return creditNote, nil
}

// RemainingCredit is the credit note's absolute value minus every
// consumption already recorded against it.
func (s *CreditService) RemainingCredit(ctx context.Context, creditNoteID string) (decimal.Decimal, error) {
	creditNote, err := s.loadCreditNote(ctx, creditNoteID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.remaining(ctx, creditNote)
}

// ApplyCreditRequest applies part of a credit note to an open invoice.
type ApplyCreditRequest struct {
	CreditNoteID string          `json:"credit_note_id" validate:"required"`
	InvoiceID    string          `json:"invoice_id" validate:"required"`
	Amount       decimal.Decimal `json:"amount" validate:"required"`
	AppliedBy    string          `json:"applied_by"`
}

// ApplyCredit consumes credit against an open invoice of the same student.
// The consumption and application entries and the invoice update commit
// atomically; any failed check leaves both documents untouched. The amount
// may neither exceed the remaining credit nor the invoice's outstanding
// balance, so an application can never flip an invoice into overpayment.
func (s *CreditService) ApplyCredit(ctx context.Context, req ApplyCreditRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid credit application payload")
	}
	if !req.Amount.IsPositive() {
		return appErrors.Clone(appErrors.ErrValidation, "credit amount must be positive")
	}

	creditNote, err := s.loadCreditNote(ctx, req.CreditNoteID)
	if err != nil {
		return err
	}
	invoice, err := s.invoices.FindByID(ctx, req.InvoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	if invoice.IsCreditNote() {
		return appErrors.Clone(appErrors.ErrInvalidState, "cannot apply credit to another credit note")
	}
	if invoice.StudentID != creditNote.StudentID {
		return appErrors.Clone(appErrors.ErrConflict, "credit note and invoice belong to different students")
	}
	if invoice.Status != models.InvoiceStatusSent && invoice.Status != models.InvoiceStatusOverdue {
		return appErrors.Clone(appErrors.ErrInvalidState, "credit can only be applied to sent or overdue invoices")
	}

	remaining, err := s.remaining(ctx, creditNote)
	if err != nil {
		return err
	}
	if req.Amount.GreaterThan(remaining) {
		return appErrors.Clone(appErrors.ErrInsufficientCredit, "amount exceeds remaining credit")
	}
	outstanding := invoice.Outstanding()
	if req.Amount.GreaterThan(outstanding) {
		return appErrors.Clone(appErrors.ErrOverpayment, "amount exceeds invoice outstanding balance")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// The remaining-credit check above read committed state. Bumping the
	// credit note's version first serializes concurrent applications of the
	// same note: whoever loses the race matches zero rows here and rolls
	// back before writing any entries, so the note can never be overspent.
	bumped, err := s.invoices.BumpVersion(ctx, tx, creditNote.ID, creditNote.Version)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve credit note")
		return err
	}
	if bumped == 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "credit note was modified concurrently, retry")
		return err
	}

	consumption := &models.LedgerEntry{
		StudentID:    creditNote.StudentID,
		Type:         models.EntryCreditConsumption,
		Debit:        req.Amount,
		Credit:       decimal.Zero,
		CreditNoteID: &creditNote.ID,
		CreatedBy:    req.AppliedBy,
	}
	if err = s.ledger.Insert(ctx, tx, consumption); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record credit consumption")
		return err
	}

	application := &models.LedgerEntry{
		StudentID: creditNote.StudentID,
		Type:      models.EntryCreditApplication,
		Debit:     decimal.Zero,
		Credit:    req.Amount,
		InvoiceID: &invoice.ID,
		CreatedBy: req.AppliedBy,
	}
	if err = s.ledger.Insert(ctx, tx, application); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record credit application")
		return err
	}

	affected, err := s.invoices.ApplyCredits(ctx, tx, invoice.ID, req.Amount, invoice.Version)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice credits")
		return err
	}
	if affected == 0 {
		err = appErrors.Clone(appErrors.ErrConflict, "invoice was modified concurrently, retry")
		return err
	}

	if outstanding.Sub(req.Amount).IsZero() {
		if err = s.invoices.UpdateStatus(ctx, tx, invoice.ID, models.InvoiceStatusPaid); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to settle invoice")
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit credit application")
		return err
	}

	if s.metrics != nil {
		s.metrics.CreditApplied(req.Amount)
	}
	s.logger.Info("credit applied",
		zap.String("credit_note_id", creditNote.ID),
		zap.String("invoice_id", invoice.ID),
		zap.String("amount", req.Amount.String()))
	return nil
}

func (s *CreditService) loadCreditNote(ctx context.Context, id string) (*models.Invoice, error) {
	creditNote, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "credit note not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit note")
	}
	if !creditNote.IsCreditNote() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "invoice is not a credit note")
	}
	if creditNote.Status == models.InvoiceStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "credit note is cancelled")
	}
	return creditNote, nil
}

func (s *CreditService) remaining(ctx context.Context, creditNote *models.Invoice) (decimal.Decimal, error) {
	consumptions, err := s.ledger.ListConsumptionsByCreditNote(ctx, creditNote.ID)
	if err != nil {
		return decimal.Zero, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load credit consumptions")
	}
	consumed := decimal.Zero
	for _, entry := range consumptions {
		consumed = consumed.Add(entry.Debit)
	}
	return creditNote.Total.Abs().Sub(consumed), nil
}
