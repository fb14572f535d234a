package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// LessonRepository handles persistence of lesson occurrences.
type LessonRepository struct {
	db *sqlx.DB
}

// NewLessonRepository constructs the repository.
func NewLessonRepository(db *sqlx.DB) *LessonRepository {
	return &LessonRepository{db: db}
}

const lessonColumns = `id, template_id, student_id, date, start_time, end_time, status, invoiced, teacher_paid, created_at`

// Insert persists a new occurrence. The unique index on
// (template_id, date, student_id) makes repeated generation runs idempotent
// even when two runs race: the second insert is a no-op and Insert reports
// created = false.
func (r *LessonRepository) Insert(ctx context.Context, lesson *models.LessonOccurrence) (bool, error) {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	if lesson.Status == "" {
		lesson.Status = models.LessonStatusScheduled
	}
	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lesson_occurrences (id, template_id, student_id, date, start_time, end_time, status, invoiced, teacher_paid, created_at)
        VALUES (:id, :template_id, :student_id, :date, :start_time, :end_time, :status, :invoiced, :teacher_paid, :created_at)
        ON CONFLICT (template_id, date, student_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, lesson)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FindByID returns an occurrence by its ID.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.LessonOccurrence, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lesson_occurrences WHERE id = $1`
	var lesson models.LessonOccurrence
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// ListByTemplateRange returns occurrences of a template within a window.
func (r *LessonRepository) ListByTemplateRange(ctx context.Context, templateID string, from, to time.Time) ([]models.LessonOccurrence, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lesson_occurrences
        WHERE template_id = $1 AND date BETWEEN $2 AND $3 ORDER BY date, student_id`
	var lessons []models.LessonOccurrence
	if err := r.db.SelectContext(ctx, &lessons, query, templateID, from, to); err != nil {
		return nil, err
	}
	return lessons, nil
}

// ListBillable returns un-invoiced occurrences in billable statuses for a
// template within a period. For individual courses the caller passes the
// enrolled student; group occurrences carry no student and bill through the
// enrollment instead. Recalculation passes its open transaction as exec so
// the selection sees its own uncommitted un-invoicing; a nil exec reads
// from the pool.
func (r *LessonRepository) ListBillable(ctx context.Context, exec sqlx.ExtContext, templateID string, studentID *string, from, to time.Time) ([]models.LessonOccurrence, error) {
	if exec == nil {
		exec = r.db
	}
	query := `SELECT ` + lessonColumns + ` FROM lesson_occurrences
        WHERE template_id = $1 AND invoiced = FALSE AND status IN ($2, $3) AND date BETWEEN $4 AND $5`
	args := []interface{}{templateID, models.LessonStatusScheduled, models.LessonStatusCompleted, from, to}
	if studentID != nil {
		query += ` AND student_id = $6`
		args = append(args, *studentID)
	} else {
		query += ` AND student_id IS NULL`
	}
	query += ` ORDER BY date`

	var lessons []models.LessonOccurrence
	if err := sqlx.SelectContext(ctx, exec, &lessons, query, args...); err != nil {
		return nil, err
	}
	return lessons, nil
}

// UpdateStatus transitions an occurrence's status.
func (r *LessonRepository) UpdateStatus(ctx context.Context, id string, status models.LessonStatus) error {
	const query = `UPDATE lesson_occurrences SET status = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, status)
	return err
}

// SetInvoiced flags occurrences as invoiced (or clears the flag) inside the
// caller's transaction.
func (r *LessonRepository) SetInvoiced(ctx context.Context, exec sqlx.ExtContext, ids []string, invoiced bool) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE lesson_occurrences SET invoiced = ? WHERE id IN (?)`, invoiced, ids)
	if err != nil {
		return err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	_, err = exec.ExecContext(ctx, query, args...)
	return err
}

// ListByInvoice returns the occurrences linked to an invoice's lines.
func (r *LessonRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]models.LessonOccurrence, error) {
	const query = `SELECT l.id, l.template_id, l.student_id, l.date, l.start_time, l.end_time, l.status, l.invoiced, l.teacher_paid, l.created_at
        FROM lesson_occurrences l
        JOIN invoice_lines il ON il.lesson_id = l.id
        WHERE il.invoice_id = $1 ORDER BY l.date`
	var lessons []models.LessonOccurrence
	if err := r.db.SelectContext(ctx, &lessons, query, invoiceID); err != nil {
		return nil, err
	}
	return lessons, nil
}
