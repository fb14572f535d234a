package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/internal/models"
	"github.com/klangwerk/lessonledger-api/pkg/config"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
)

type fakeBillingEnrollments struct {
	enrollments map[string]*models.Enrollment
}

func (f *fakeBillingEnrollments) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return e, nil
}

func (f *fakeBillingEnrollments) ListActiveByCycle(_ context.Context, cycle models.BillingCycle) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, e := range f.enrollments {
		if e.Status == models.EnrollmentStatusActive && e.BillingCycle == cycle {
			out = append(out, *e)
		}
	}
	return out, nil
}

type fakeStudents struct {
	students map[string]*models.Student
}

func (f *fakeStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	s, ok := f.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s, nil
}

type fakeBillableLessons struct {
	lessons []*models.LessonOccurrence
	byInv   map[string][]string

	// With txVisibility set, invoiced writes through a transaction stay in
	// pending and only reads through the same transaction see them, the way
	// a pool connection cannot see another connection's uncommitted rows.
	txVisibility bool
	pending      map[string]bool
}

func (f *fakeBillableLessons) invoicedState(l *models.LessonOccurrence, exec sqlx.ExtContext) bool {
	if f.txVisibility && exec != nil {
		if v, ok := f.pending[l.ID]; ok {
			return v
		}
	}
	return l.Invoiced
}

func (f *fakeBillableLessons) ListBillable(_ context.Context, exec sqlx.ExtContext, templateID string, studentID *string, from, to time.Time) ([]models.LessonOccurrence, error) {
	var out []models.LessonOccurrence
	for _, l := range f.lessons {
		if l.TemplateID != templateID || f.invoicedState(l, exec) || !l.Status.Billable() {
			continue
		}
		if l.Date.Before(from) || l.Date.After(to) {
			continue
		}
		if studentID == nil && l.StudentID != nil {
			continue
		}
		if studentID != nil && (l.StudentID == nil || *l.StudentID != *studentID) {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (f *fakeBillableLessons) ListByInvoice(_ context.Context, invoiceID string) ([]models.LessonOccurrence, error) {
	var out []models.LessonOccurrence
	for _, id := range f.byInv[invoiceID] {
		for _, l := range f.lessons {
			if l.ID == id {
				out = append(out, *l)
			}
		}
	}
	return out, nil
}

func (f *fakeBillableLessons) SetInvoiced(_ context.Context, exec sqlx.ExtContext, ids []string, invoiced bool) error {
	for _, id := range ids {
		if f.txVisibility && exec != nil {
			if f.pending == nil {
				f.pending = make(map[string]bool)
			}
			f.pending[id] = invoiced
			continue
		}
		for _, l := range f.lessons {
			if l.ID == id {
				l.Invoiced = invoiced
			}
		}
	}
	return nil
}

type fakeInvoices struct {
	mu       sync.Mutex
	invoices map[string]*models.Invoice
	lines    map[string][]models.InvoiceLine
	overlaps map[string]bool
	seq      int
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{
		invoices: make(map[string]*models.Invoice),
		lines:    make(map[string][]models.InvoiceLine),
		overlaps: make(map[string]bool),
	}
}

func (f *fakeInvoices) FindByID(_ context.Context, id string) (*models.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *inv
	return &copied, nil
}

func (f *fakeInvoices) ExistsForEnrollmentPeriod(_ context.Context, enrollmentID string, _, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlaps[enrollmentID], nil
}

func (f *fakeInvoices) Insert(_ context.Context, _ sqlx.ExtContext, invoice *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	prefix := "inv"
	if invoice.IsCreditNote() {
		prefix = "cn"
	}
	invoice.ID = fmt.Sprintf("%s-%d", prefix, f.seq)
	copied := *invoice
	f.invoices[invoice.ID] = &copied
	return nil
}

func (f *fakeInvoices) UpdateTotals(_ context.Context, _ sqlx.ExtContext, invoice *models.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.invoices[invoice.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Subtotal = invoice.Subtotal
	stored.Tax = invoice.Tax
	stored.Discount = invoice.Discount
	stored.Total = invoice.Total
	return nil
}

func (f *fakeInvoices) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id string, status models.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.invoices[id]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Status = status
	return nil
}

func (f *fakeInvoices) AddPayment(_ context.Context, _ sqlx.ExtContext, id string, amount decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.invoices[id]
	if !ok {
		return sql.ErrNoRows
	}
	stored.AmountPaid = stored.AmountPaid.Add(amount)
	return nil
}

func (f *fakeInvoices) ApplyCredits(_ context.Context, _ sqlx.ExtContext, id string, amount decimal.Decimal, expectedVersion int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.invoices[id]
	if !ok {
		return 0, nil
	}
	if stored.Version != expectedVersion {
		return 0, nil
	}
	stored.CreditsApplied = stored.CreditsApplied.Add(amount)
	stored.Version++
	return 1, nil
}

func (f *fakeInvoices) BumpVersion(_ context.Context, _ sqlx.ExtContext, id string, expectedVersion int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.invoices[id]
	if !ok {
		return 0, nil
	}
	if stored.Version != expectedVersion {
		return 0, nil
	}
	stored.Version++
	return 1, nil
}

func (f *fakeInvoices) InsertLines(_ context.Context, _ sqlx.ExtContext, lines []models.InvoiceLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, line := range lines {
		f.lines[line.InvoiceID] = append(f.lines[line.InvoiceID], line)
	}
	return nil
}

func (f *fakeInvoices) ListLines(_ context.Context, invoiceID string) ([]models.InvoiceLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[invoiceID], nil
}

func (f *fakeInvoices) DeleteLines(_ context.Context, _ sqlx.ExtContext, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lines, invoiceID)
	return nil
}

type stubPricingResolver struct {
	version *models.PricingVersion
	err     error
}

func (s *stubPricingResolver) PricingAt(_ context.Context, _ string, _ time.Time) (*models.PricingVersion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.version, nil
}

type recordingLedger struct {
	charges []models.Invoice
}

func (r *recordingLedger) RecordCharge(_ context.Context, _ sqlx.ExtContext, invoice *models.Invoice, _ string) error {
	r.charges = append(r.charges, *invoice)
	return nil
}

type invoiceFixture struct {
	svc     *InvoiceService
	lessons *fakeBillableLessons
	store   *fakeInvoices
	ledger  *recordingLedger
}

func newInvoiceFixture(t *testing.T, tpl *models.CourseTemplate, enrollment *models.Enrollment, student *models.Student, lessons []*models.LessonOccurrence) *invoiceFixture {
	t.Helper()
	db, mock := newMockTx(t)
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 8; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}

	store := newFakeInvoices()
	ledger := &recordingLedger{}
	billable := &fakeBillableLessons{lessons: lessons, byInv: make(map[string][]string)}
	svc := NewInvoiceService(
		&fakeBillingEnrollments{enrollments: map[string]*models.Enrollment{enrollment.ID: enrollment}},
		&fakeStudents{students: map[string]*models.Student{student.ID: student}},
		&fakeTemplateRepo{templates: map[string]*models.CourseTemplate{tpl.ID: tpl}},
		billable,
		store,
		&stubPricingResolver{version: &models.PricingVersion{
			ID: "pv-2", CourseTypeID: tpl.CourseTypeID,
			AdultPrice: money("45.00"), ChildPrice: money("33.00"),
			ValidFrom: date(2024, time.January, 1),
		}},
		ledger,
		db,
		nil,
		zap.NewNop(),
		nil,
		config.BillingConfig{TaxRate: decimal.Zero, ChildAgeCutoff: 18},
	)
	return &invoiceFixture{svc: svc, lessons: billable, store: store, ledger: ledger}
}

func adultStudent() *models.Student {
	return &models.Student{ID: "stu-1", FullName: "Ada Trent", BirthDate: date(1990, time.May, 4), Active: true}
}

func monthlyEnrollment(discount string) *models.Enrollment {
	return &models.Enrollment{
		ID: "en-1", StudentID: "stu-1", TemplateID: "tpl-1",
		DiscountPercent: money(discount),
		BillingCycle:    models.BillingMonthly,
		Status:          models.EnrollmentStatusActive,
	}
}

func individualLessons(n int) []*models.LessonOccurrence {
	studentID := "stu-1"
	out := make([]*models.LessonOccurrence, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.LessonOccurrence{
			ID:         fmt.Sprintf("lesson-%d", i+1),
			TemplateID: "tpl-1",
			StudentID:  &studentID,
			Date:       date(2024, time.March, 4+7*i),
			Status:     models.LessonStatusScheduled,
		})
	}
	return out
}

func TestGenerateInvoicePricesAndMarksLessons(t *testing.T) {
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("10"), adultStudent(), individualLessons(4))

	invoice, err := fix.svc.GenerateInvoice(context.Background(), "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)

	assert.Equal(t, models.InvoiceStatusDraft, invoice.Status)
	assert.True(t, invoice.Subtotal.Equal(money("180.00")), "subtotal %s", invoice.Subtotal)
	assert.True(t, invoice.Discount.Equal(money("18.00")), "discount %s", invoice.Discount)
	assert.True(t, invoice.Total.Equal(money("162.00")), "total %s", invoice.Total)

	lines := fix.store.lines[invoice.ID]
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.Equal(t, "pv-2", line.PricingVersionID)
		assert.True(t, line.UnitPrice.Equal(money("45.00")))
	}
	for _, lesson := range fix.lessons.lessons {
		assert.True(t, lesson.Invoiced)
	}
}

func TestGenerateInvoiceUsesChildPrice(t *testing.T) {
	student := adultStudent()
	student.BirthDate = date(2012, time.September, 1)
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), student, individualLessons(2))

	invoice, err := fix.svc.GenerateInvoice(context.Background(), "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	assert.True(t, invoice.Total.Equal(money("66.00")), "total %s", invoice.Total)
}

func TestGenerateInvoiceNoBillableLessons(t *testing.T) {
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), nil)

	_, err := fix.svc.GenerateInvoice(context.Background(), "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNoBillableLessons)
}

func TestGenerateInvoiceSkipsAlreadyInvoicedLessons(t *testing.T) {
	lessons := individualLessons(4)
	lessons[0].Invoiced = true
	lessons[1].Status = models.LessonStatusCancelled
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), lessons)

	invoice, err := fix.svc.GenerateInvoice(context.Background(), "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	require.Len(t, fix.store.lines[invoice.ID], 2)
	assert.True(t, invoice.Total.Equal(money("90.00")))
}

func TestGenerateInvoiceSharedPeriodGuard(t *testing.T) {
	tpl := weeklyTemplate("tpl-1", models.CategoryGroup)
	shared := []*models.LessonOccurrence{
		{ID: "lesson-1", TemplateID: "tpl-1", Date: date(2024, time.March, 4), Status: models.LessonStatusScheduled},
	}
	fix := newInvoiceFixture(t, tpl, monthlyEnrollment("0"), adultStudent(), shared)
	fix.store.overlaps["en-1"] = true

	_, err := fix.svc.GenerateInvoice(context.Background(), "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrConflict)
}

func TestGenerateInvoiceSharedDoesNotFlagLessons(t *testing.T) {
	tpl := weeklyTemplate("tpl-1", models.CategoryGroup)
	shared := []*models.LessonOccurrence{
		{ID: "lesson-1", TemplateID: "tpl-1", Date: date(2024, time.March, 4), Status: models.LessonStatusScheduled},
		{ID: "lesson-2", TemplateID: "tpl-1", Date: date(2024, time.March, 11), Status: models.LessonStatusScheduled},
	}
	fix := newInvoiceFixture(t, tpl, monthlyEnrollment("0"), adultStudent(), shared)

	invoice, err := fix.svc.GenerateInvoice(context.Background(), "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	assert.True(t, invoice.Total.Equal(money("90.00")))
	for _, lesson := range fix.lessons.lessons {
		assert.False(t, lesson.Invoiced, "shared occurrences keep no per-student invoiced flag")
	}
}

func TestGenerateBatchReportsOutcomes(t *testing.T) {
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), individualLessons(2))

	result, err := fix.svc.GenerateBatch(context.Background(), dto.BatchInvoiceRequest{
		Cycle:       models.BillingMonthly,
		PeriodStart: date(2024, time.March, 1),
		PeriodEnd:   date(2024, time.March, 31),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Generated)

	// A second run finds everything invoiced and skips.
	again, err := fix.svc.GenerateBatch(context.Background(), dto.BatchInvoiceRequest{
		Cycle:       models.BillingMonthly,
		PeriodStart: date(2024, time.March, 1),
		PeriodEnd:   date(2024, time.March, 31),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, 0, again.Generated)
}

func TestSendRecordsChargeAndFreezes(t *testing.T) {
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), individualLessons(2))
	ctx := context.Background()

	invoice, err := fix.svc.GenerateInvoice(ctx, "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)

	sent, err := fix.svc.Send(ctx, invoice.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusSent, sent.Status)
	require.Len(t, fix.ledger.charges, 1)
	assert.True(t, fix.ledger.charges[0].Total.Equal(invoice.Total))

	// Sending twice is refused.
	_, err = fix.svc.Send(ctx, invoice.ID, "admin")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestCancelDraftReleasesLessons(t *testing.T) {
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), individualLessons(2))
	ctx := context.Background()

	invoice, err := fix.svc.GenerateInvoice(ctx, "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	fix.lessons.byInv[invoice.ID] = []string{"lesson-1", "lesson-2"}

	cancelled, err := fix.svc.Cancel(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceStatusCancelled, cancelled.Status)
	assert.True(t, cancelled.Total.IsZero())
	for _, lesson := range fix.lessons.lessons {
		assert.False(t, lesson.Invoiced)
	}
	assert.Empty(t, fix.store.lines[invoice.ID])
}

func TestCancelSentInvoiceRefused(t *testing.T) {
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), individualLessons(2))
	ctx := context.Background()

	invoice, err := fix.svc.GenerateInvoice(ctx, "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	_, err = fix.svc.Send(ctx, invoice.ID, "admin")
	require.NoError(t, err)

	_, err = fix.svc.Cancel(ctx, invoice.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)
}

func TestRecalculatePicksUpCancelledLesson(t *testing.T) {
	lessons := individualLessons(3)
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), lessons)
	ctx := context.Background()

	invoice, err := fix.svc.GenerateInvoice(ctx, "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	require.True(t, invoice.Total.Equal(money("135.00")))
	fix.lessons.byInv[invoice.ID] = []string{"lesson-1", "lesson-2", "lesson-3"}

	// One lesson gets cancelled between generation and review.
	lessons[1].Status = models.LessonStatusCancelled

	recalced, err := fix.svc.Recalculate(ctx, invoice.ID)
	require.NoError(t, err)
	assert.True(t, recalced.Total.Equal(money("90.00")), "total %s", recalced.Total)
	require.Len(t, fix.store.lines[invoice.ID], 2)
}

func TestRecalculateSelectionSeesOwnUninvoicing(t *testing.T) {
	lessons := individualLessons(2)
	fix := newInvoiceFixture(t, weeklyTemplate("tpl-1", models.CategoryIndividual), monthlyEnrollment("0"), adultStudent(), lessons)
	ctx := context.Background()

	invoice, err := fix.svc.GenerateInvoice(ctx, "en-1", date(2024, time.March, 1), date(2024, time.March, 31))
	require.NoError(t, err)
	fix.lessons.byInv[invoice.ID] = []string{"lesson-1", "lesson-2"}

	// From here on the fake hides uncommitted invoiced writes from pool
	// reads. The un-invoicing happens inside the recalculation transaction,
	// so the billable selection only finds the draft's own lessons again if
	// it reads through that same transaction.
	fix.lessons.txVisibility = true
	fix.lessons.pending = make(map[string]bool)

	recalced, err := fix.svc.Recalculate(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, fix.store.lines[invoice.ID], 2)
	assert.True(t, recalced.Total.Equal(money("90.00")), "total %s", recalced.Total)
}
