package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// StudentRepository handles persistence of students.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by their ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, email, birth_date, active, created_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, template_id, discount_percent, billing_cycle, status, joined_at, left_at`

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListActiveByTemplate returns the active enrollments of a course template.
func (r *EnrollmentRepository) ListActiveByTemplate(ctx context.Context, templateID string) ([]models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
        WHERE template_id = $1 AND status = $2 ORDER BY joined_at`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, templateID, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// ListActiveByCycle returns active enrollments on a billing cycle, the
// population of an invoice batch run.
func (r *EnrollmentRepository) ListActiveByCycle(ctx context.Context, cycle models.BillingCycle) ([]models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
        WHERE billing_cycle = $1 AND status = $2 ORDER BY joined_at, id`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, cycle, models.EnrollmentStatusActive); err != nil {
		return nil, err
	}
	return enrollments, nil
}

// PaymentRepository handles persistence of payments.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Insert persists a payment inside the caller's transaction.
func (r *PaymentRepository) Insert(ctx context.Context, exec sqlx.ExtContext, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	if payment.ReceivedAt.IsZero() {
		payment.ReceivedAt = payment.CreatedAt
	}
	const query = `INSERT INTO payments (id, student_id, invoice_id, amount, method, received_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := exec.ExecContext(ctx, query,
		payment.ID, payment.StudentID, payment.InvoiceID, payment.Amount,
		payment.Method, payment.ReceivedAt, payment.CreatedAt)
	return err
}
