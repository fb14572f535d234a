package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/klangwerk/lessonledger-api/internal/models"
)

// CourseTemplateRepository handles persistence of course templates.
type CourseTemplateRepository struct {
	db *sqlx.DB
}

// NewCourseTemplateRepository constructs the repository.
func NewCourseTemplateRepository(db *sqlx.DB) *CourseTemplateRepository {
	return &CourseTemplateRepository{db: db}
}

const courseTemplateColumns = `id, course_type_id, teacher_id, name, weekday, start_time, end_time,
        frequency, parity, start_date, end_date, category, capacity, active, created_at`

// FindByID returns a course template by its ID.
func (r *CourseTemplateRepository) FindByID(ctx context.Context, id string) (*models.CourseTemplate, error) {
	const query = `SELECT ` + courseTemplateColumns + ` FROM course_templates WHERE id = $1`
	var tpl models.CourseTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// ListActiveOverlapping returns active templates whose own date range
// overlaps the given window.
func (r *CourseTemplateRepository) ListActiveOverlapping(ctx context.Context, windowStart, windowEnd time.Time) ([]models.CourseTemplate, error) {
	const query = `SELECT ` + courseTemplateColumns + ` FROM course_templates
        WHERE active = TRUE
          AND start_date <= $2
          AND (end_date IS NULL OR end_date >= $1)
        ORDER BY start_date, id`
	var templates []models.CourseTemplate
	if err := r.db.SelectContext(ctx, &templates, query, windowStart, windowEnd); err != nil {
		return nil, err
	}
	return templates, nil
}

// SetActive toggles the active flag.
func (r *CourseTemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE course_templates SET active = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, active)
	return err
}

// HolidayRepository handles persistence of holiday ranges.
type HolidayRepository struct {
	db *sqlx.DB
}

// NewHolidayRepository constructs the repository.
func NewHolidayRepository(db *sqlx.DB) *HolidayRepository {
	return &HolidayRepository{db: db}
}

// ListOverlapping returns holidays intersecting the given window.
func (r *HolidayRepository) ListOverlapping(ctx context.Context, windowStart, windowEnd time.Time) ([]models.Holiday, error) {
	const query = `SELECT id, name, start_date, end_date FROM holidays
        WHERE start_date <= $2 AND end_date >= $1 ORDER BY start_date`
	var holidays []models.Holiday
	if err := r.db.SelectContext(ctx, &holidays, query, windowStart, windowEnd); err != nil {
		return nil, err
	}
	return holidays, nil
}
