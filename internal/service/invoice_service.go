package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/internal/models"
	"github.com/klangwerk/lessonledger-api/pkg/config"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
)

type enrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListActiveByCycle(ctx context.Context, cycle models.BillingCycle) ([]models.Enrollment, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type billingTemplateReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseTemplate, error)
}

type billableLessonStore interface {
	ListBillable(ctx context.Context, exec sqlx.ExtContext, templateID string, studentID *string, from, to time.Time) ([]models.LessonOccurrence, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]models.LessonOccurrence, error)
	SetInvoiced(ctx context.Context, exec sqlx.ExtContext, ids []string, invoiced bool) error
}

type invoiceStore interface {
	FindByID(ctx context.Context, id string) (*models.Invoice, error)
	ExistsForEnrollmentPeriod(ctx context.Context, enrollmentID string, periodStart, periodEnd time.Time) (bool, error)
	Insert(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
	UpdateTotals(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.InvoiceStatus) error
	InsertLines(ctx context.Context, exec sqlx.ExtContext, lines []models.InvoiceLine) error
	ListLines(ctx context.Context, invoiceID string) ([]models.InvoiceLine, error)
	DeleteLines(ctx context.Context, exec sqlx.ExtContext, invoiceID string) error
}

type pricingResolver interface {
	PricingAt(ctx context.Context, courseTypeID string, date time.Time) (*models.PricingVersion, error)
}

type chargeRecorder interface {
	RecordCharge(ctx context.Context, exec sqlx.ExtContext, invoice *models.Invoice, createdBy string) error
}

type billingMetrics interface {
	InvoicesGenerated(generated, skipped, failed int)
}

// InvoiceService turns un-invoiced lesson occurrences into draft invoices
// and manages the invoice lifecycle up to the point the ledger takes over.
type InvoiceService struct {
	enrollments enrollmentReader
	students    studentReader
	templates   billingTemplateReader
	lessons     billableLessonStore
	invoices    invoiceStore
	pricing     pricingResolver
	ledger      chargeRecorder
	tx          txProvider
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     billingMetrics
	billing     config.BillingConfig
	clock       func() time.Time
}

// NewInvoiceService wires invoicing dependencies.
func NewInvoiceService(
	enrollments enrollmentReader,
	students studentReader,
	templates billingTemplateReader,
	lessons billableLessonStore,
	invoices invoiceStore,
	pricing pricingResolver,
	ledger chargeRecorder,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics billingMetrics,
	billing config.BillingConfig,
) *InvoiceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if billing.ChildAgeCutoff <= 0 {
		billing.ChildAgeCutoff = 18
	}
	return &InvoiceService{
		enrollments: enrollments,
		students:    students,
		templates:   templates,
		lessons:     lessons,
		invoices:    invoices,
		pricing:     pricing,
		ledger:      ledger,
		tx:          tx,
		validator:   validate,
		logger:      logger,
		metrics:     metrics,
		billing:     billing,
		clock:       time.Now,
	}
}

// GenerateInvoice bills an enrollment's un-invoiced, billable lessons inside
// the period into a new draft invoice. Each lesson is priced at the version
// effective on the lesson date with the adult/child split decided by the
// student's age at that date. Fails with NoBillableLessons when nothing is
// selectable; callers decide whether that is an error or a skip.
func (s *InvoiceService) GenerateInvoice(ctx context.Context, enrollmentID string, periodStart, periodEnd time.Time) (*models.Invoice, error) {
	enrollment, student, tpl, err := s.loadBillingContext(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	periodStart = models.DateOnly(periodStart)
	periodEnd = models.DateOnly(periodEnd)

	if tpl.SharedOccurrence() {
		// Shared occurrences have no per-student invoiced flag; the period
		// guard is what makes re-running the generator idempotent for them.
		billed, err := s.invoices.ExistsForEnrollmentPeriod(ctx, enrollment.ID, periodStart, periodEnd)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing invoices")
		}
		if billed {
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment already invoiced for an overlapping period")
		}
	}

	var studentFilter *string
	if !tpl.SharedOccurrence() {
		studentFilter = &enrollment.StudentID
	}
	lessons, err := s.lessons.ListBillable(ctx, nil, enrollment.TemplateID, studentFilter, periodStart, periodEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billable lessons")
	}
	if len(lessons) == 0 {
		return nil, appErrors.ErrNoBillableLessons
	}

	lines, err := s.priceLessons(ctx, tpl, student, lessons)
	if err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		StudentID:    enrollment.StudentID,
		EnrollmentID: &enrollment.ID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		Status:       models.InvoiceStatusDraft,
		AmountPaid:   decimal.Zero,
	}
	s.applyTotals(invoice, lines, enrollment.DiscountPercent)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.invoices.Insert(ctx, tx, invoice); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert invoice")
		return nil, err
	}
	for i := range lines {
		lines[i].InvoiceID = invoice.ID
	}
	if err = s.invoices.InsertLines(ctx, tx, lines); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert invoice lines")
		return nil, err
	}
	if !tpl.SharedOccurrence() {
		ids := make([]string, len(lessons))
		for i, lesson := range lessons {
			ids[i] = lesson.ID
		}
		if err = s.lessons.SetInvoiced(ctx, tx, ids, true); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark lessons invoiced")
			return nil, err
		}
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit invoice")
		return nil, err
	}

	s.logger.Info("invoice generated",
		zap.String("invoice_id", invoice.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.Int("lines", len(lines)),
		zap.String("total", invoice.Total.String()))
	return invoice, nil
}

// GenerateBatch bills every active enrollment on the cycle, reporting
// per-enrollment outcomes instead of failing the whole batch. Enrollments
// with nothing to bill are skips, not failures.
func (s *InvoiceService) GenerateBatch(ctx context.Context, req dto.BatchInvoiceRequest) (*dto.BatchInvoiceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	started := s.clock()

	enrollments, err := s.enrollments.ListActiveByCycle(ctx, req.Cycle)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	result := &dto.BatchInvoiceResult{Outcomes: make([]dto.EnrollmentOutcome, 0, len(enrollments))}
	for _, enrollment := range enrollments {
		result.Processed++
		invoice, err := s.GenerateInvoice(ctx, enrollment.ID, req.PeriodStart, req.PeriodEnd)
		switch {
		case err == nil:
			result.Generated++
			result.Outcomes = append(result.Outcomes, dto.EnrollmentOutcome{EnrollmentID: enrollment.ID, InvoiceID: invoice.ID})
		case errors.Is(err, appErrors.ErrNoBillableLessons):
			result.Skipped++
			result.Outcomes = append(result.Outcomes, dto.EnrollmentOutcome{EnrollmentID: enrollment.ID, Skipped: true})
		default:
			result.Failed++
			result.Outcomes = append(result.Outcomes, dto.EnrollmentOutcome{EnrollmentID: enrollment.ID, Error: err.Error()})
			s.logger.Warn("enrollment invoicing failed",
				zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
	}
	result.Duration = s.clock().Sub(started)

	if s.metrics != nil {
		s.metrics.InvoicesGenerated(result.Generated, result.Skipped, result.Failed)
	}
	s.logger.Info("invoice batch finished",
		zap.String("cycle", string(req.Cycle)),
		zap.Int("processed", result.Processed),
		zap.Int("generated", result.Generated),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Recalculate rebuilds a draft invoice against current lesson state:
// un-invoices its lessons, clears its lines, and re-runs selection and
// pricing. Only drafts may be recalculated.
func (s *InvoiceService) Recalculate(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only draft invoices can be recalculated")
	}
	if invoice.EnrollmentID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "invoice was not generated from an enrollment")
	}

	enrollment, student, tpl, err := s.loadBillingContext(ctx, *invoice.EnrollmentID)
	if err != nil {
		return nil, err
	}

	linked, err := s.lessons.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load linked lessons")
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

	if err = s.unlinkLessons(ctx, tx, linked); err != nil {
		return nil, err
	}
	if err = s.invoices.DeleteLines(ctx, tx, invoice.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear invoice lines")
		return nil, err
	}

	var studentFilter *string
	if !tpl.SharedOccurrence() {
		studentFilter = &enrollment.StudentID
	}
	// Selection must run on the same transaction as the un-invoicing above,
	// otherwise it cannot see invoiced = false yet and drops every lesson
	// that was already on the draft.
	lessons, lessonsErr := s.lessons.ListBillable(ctx, tx, enrollment.TemplateID, studentFilter, invoice.PeriodStart, invoice.PeriodEnd)
	if lessonsErr != nil {
		err = appErrors.Wrap(lessonsErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billable lessons")
		return nil, err
	}

	lines, priceErr := s.priceLessons(ctx, tpl, student, lessons)
	if priceErr != nil {
		err = priceErr
		return nil, err
	}
	for i := range lines {
		lines[i].InvoiceID = invoice.ID
	}
	if err = s.invoices.InsertLines(ctx, tx, lines); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert invoice lines")
		return nil, err
	}
	if !tpl.SharedOccurrence() && len(lessons) > 0 {
		ids := make([]string, len(lessons))
		for i, lesson := range lessons {
			ids[i] = lesson.ID
		}
		if err = s.lessons.SetInvoiced(ctx, tx, ids, true); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark lessons invoiced")
			return nil, err
		}
	}

	s.applyTotals(invoice, lines, enrollment.DiscountPercent)
	if err = s.invoices.UpdateTotals(ctx, tx, invoice); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice totals")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit recalculation")
		return nil, err
	}
	return invoice, nil
}

// Send issues a draft invoice: the status moves to SENT, its lines and
// pricing versions freeze, and the charge hits the student ledger in the
// same transaction.
func (s *InvoiceService) Send(ctx context.Context, invoiceID, issuedBy string) (*models.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only draft invoices can be sent")
	}
	if !invoice.Total.IsPositive() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "invoice total must be positive to send")
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

	if err = s.invoices.UpdateStatus(ctx, tx, invoice.ID, models.InvoiceStatusSent); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update invoice status")
		return nil, err
	}
	if err = s.ledger.RecordCharge(ctx, tx, invoice, issuedBy); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit send")
		return nil, err
	}

	invoice.Status = models.InvoiceStatusSent
	return invoice, nil
}

// Cancel voids a draft invoice: lessons are un-invoiced, lines removed, and
// totals zeroed. Any other status fails with InvalidState.
func (s *InvoiceService) Cancel(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only draft invoices can be cancelled")
	}

	linked, err := s.lessons.ListByInvoice(ctx, invoice.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load linked lessons")
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

	if err = s.unlinkLessons(ctx, tx, linked); err != nil {
		return nil, err
	}
	if err = s.invoices.DeleteLines(ctx, tx, invoice.ID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear invoice lines")
		return nil, err
	}
	invoice.Subtotal = decimal.Zero
	invoice.Tax = decimal.Zero
	invoice.Discount = decimal.Zero
	invoice.Total = decimal.Zero
	if err = s.invoices.UpdateTotals(ctx, tx, invoice); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to zero invoice totals")
		return nil, err
	}
	if err = s.invoices.UpdateStatus(ctx, tx, invoice.ID, models.InvoiceStatusCancelled); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel invoice")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit cancellation")
		return nil, err
	}

	invoice.Status = models.InvoiceStatusCancelled
	return invoice, nil
}

// Get returns an invoice with its lines.
func (s *InvoiceService) Get(ctx context.Context, invoiceID string) (*models.Invoice, []models.InvoiceLine, error) {
	invoice, err := s.loadInvoice(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.invoices.ListLines(ctx, invoiceID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice lines")
	}
	return invoice, lines, nil
}

func (s *InvoiceService) loadInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	invoice, err := s.invoices.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "invoice not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load invoice")
	}
	return invoice, nil
}

func (s *InvoiceService) loadBillingContext(ctx context.Context, enrollmentID string) (*models.Enrollment, *models.Student, *models.CourseTemplate, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, nil, nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is not active")
	}

	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	tpl, err := s.templates.FindByID(ctx, enrollment.TemplateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil, appErrors.Clone(appErrors.ErrNotFound, "course template not found")
		}
		return nil, nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course template")
	}
	return enrollment, student, tpl, nil
}

func (s *InvoiceService) unlinkLessons(ctx context.Context, exec sqlx.ExtContext, lessons []models.LessonOccurrence) error {
	if len(lessons) == 0 {
		return nil
	}
	ids := make([]string, len(lessons))
	for i, lesson := range lessons {
		ids[i] = lesson.ID
	}
	if err := s.lessons.SetInvoiced(ctx, exec, ids, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to un-invoice lessons")
	}
	return nil
}

func (s *InvoiceService) priceLessons(ctx context.Context, tpl *models.CourseTemplate, student *models.Student, lessons []models.LessonOccurrence) ([]models.InvoiceLine, error) {
	lines := make([]models.InvoiceLine, 0, len(lessons))
	for i := range lessons {
		lesson := lessons[i]
		version, err := s.pricing.PricingAt(ctx, tpl.CourseTypeID, lesson.Date)
		if err != nil {
			return nil, err
		}
		unit := version.PriceFor(student.AgeAt(lesson.Date), s.billing.ChildAgeCutoff)
		lines = append(lines, models.InvoiceLine{
			LessonID:         &lessons[i].ID,
			PricingVersionID: version.ID,
			Description:      fmt.Sprintf("%s on %s", tpl.Name, lesson.Date.Format("2006-01-02")),
			Quantity:         1,
			UnitPrice:        unit,
			TaxRate:          s.billing.TaxRate,
			Total:            unit,
		})
	}
	return lines, nil
}

func (s *InvoiceService) applyTotals(invoice *models.Invoice, lines []models.InvoiceLine, discountPercent decimal.Decimal) {
	subtotal, tax, _ := models.ComputeTotals(lines, decimal.Zero)
	discount := subtotal.Mul(discountPercent).Div(decimal.NewFromInt(100)).Round(2)
	invoice.Subtotal = subtotal
	invoice.Tax = tax.Round(2)
	invoice.Discount = discount
	invoice.Total = subtotal.Add(invoice.Tax).Sub(discount)
}
