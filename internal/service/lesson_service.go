package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/klangwerk/lessonledger-api/internal/calendar"
	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/internal/models"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
)

type templateReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseTemplate, error)
	ListActiveOverlapping(ctx context.Context, windowStart, windowEnd time.Time) ([]models.CourseTemplate, error)
}

type lessonStore interface {
	Insert(ctx context.Context, lesson *models.LessonOccurrence) (bool, error)
	FindByID(ctx context.Context, id string) (*models.LessonOccurrence, error)
	ListByTemplateRange(ctx context.Context, templateID string, from, to time.Time) ([]models.LessonOccurrence, error)
	UpdateStatus(ctx context.Context, id string, status models.LessonStatus) error
}

type enrollmentLister interface {
	ListActiveByTemplate(ctx context.Context, templateID string) ([]models.Enrollment, error)
}

type holidayLister interface {
	ListOverlapping(ctx context.Context, windowStart, windowEnd time.Time) ([]models.Holiday, error)
}

type generationMetrics interface {
	LessonsGenerated(created, skipped int)
}

// LessonService expands course templates into persisted lesson occurrences
// and manages their status transitions.
type LessonService struct {
	templates   templateReader
	lessons     lessonStore
	enrollments enrollmentLister
	holidays    holidayLister
	metrics     generationMetrics
	logger      *zap.Logger
	clock       func() time.Time
}

// NewLessonService wires lesson generation dependencies.
func NewLessonService(
	templates templateReader,
	lessons lessonStore,
	enrollments enrollmentLister,
	holidays holidayLister,
	metrics generationMetrics,
	logger *zap.Logger,
) *LessonService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LessonService{
		templates:   templates,
		lessons:     lessons,
		enrollments: enrollments,
		holidays:    holidays,
		metrics:     metrics,
		logger:      logger,
		clock:       time.Now,
	}
}

// GenerateForCourse materializes lesson occurrences for one template inside
// the window. Re-running with the same arguments is idempotent: existing
// (template, date, student) combinations are reported as skipped, never
// recreated. Holiday-covered candidates count into both the skipped total
// and the holidays detail counter.
func (s *LessonService) GenerateForCourse(ctx context.Context, templateID string, windowStart, windowEnd time.Time, skipHolidays bool) (*dto.GenerationResult, error) {
	tpl, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course template")
	}
	if !tpl.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "course template is inactive")
	}

	return s.generate(ctx, tpl, windowStart, windowEnd, skipHolidays)
}

// GenerateBulk runs generation for every active template overlapping the
// window. A failing template is reported in its outcome without aborting the
// rest of the batch.
func (s *LessonService) GenerateBulk(ctx context.Context, windowStart, windowEnd time.Time, skipHolidays bool) (*dto.BulkGenerationResult, error) {
	started := s.clock()
	templates, err := s.templates.ListActiveOverlapping(ctx, windowStart, windowEnd)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active course templates")
	}

	result := &dto.BulkGenerationResult{Outcomes: make([]dto.TemplateOutcome, 0, len(templates))}
	for i := range templates {
		tpl := templates[i]
		result.Processed++
		one, err := s.generate(ctx, &tpl, windowStart, windowEnd, skipHolidays)
		if err != nil {
			result.Failed++
			result.Outcomes = append(result.Outcomes, dto.TemplateOutcome{TemplateID: tpl.ID, Error: err.Error()})
			s.logger.Warn("template generation failed",
				zap.String("template_id", tpl.ID), zap.Error(err))
			continue
		}
		result.Created += one.Created
		result.Skipped += one.Skipped
		result.Outcomes = append(result.Outcomes, dto.TemplateOutcome{TemplateID: tpl.ID, Result: one})
	}
	result.Duration = s.clock().Sub(started)

	s.logger.Info("bulk lesson generation finished",
		zap.Int("processed", result.Processed),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// UpdateStatus transitions a lesson occurrence. Occurrences are never
// deleted; cancellation and no-show are status changes so invoicing history
// stays intact.
func (s *LessonService) UpdateStatus(ctx context.Context, lessonID string, status models.LessonStatus) (*models.LessonOccurrence, error) {
	switch status {
	case models.LessonStatusScheduled, models.LessonStatusCompleted, models.LessonStatusCancelled, models.LessonStatusNoShow:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown lesson status %q", status))
	}

	lesson, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson")
	}
	if !models.ValidTransition(lesson.Status, status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot transition lesson from %s to %s", lesson.Status, status))
	}
	if lesson.Invoiced && status == models.LessonStatusCancelled {
		s.logger.Warn("cancelling an already invoiced lesson",
			zap.String("lesson_id", lesson.ID))
	}

	if err := s.lessons.UpdateStatus(ctx, lessonID, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson status")
	}
	lesson.Status = status
	return lesson, nil
}

func (s *LessonService) generate(ctx context.Context, tpl *models.CourseTemplate, windowStart, windowEnd time.Time, skipHolidays bool) (*dto.GenerationResult, error) {
	dates := calendar.NewSequence(*tpl, windowStart, windowEnd).Collect()
	result := &dto.GenerationResult{TemplateID: tpl.ID}
	if len(dates) == 0 {
		return result, nil
	}

	var holidays []models.Holiday
	if skipHolidays {
		var err error
		holidays, err = s.holidays.ListOverlapping(ctx, dates[0], dates[len(dates)-1])
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load holidays")
		}
	}

	existing, err := s.lessons.ListByTemplateRange(ctx, tpl.ID, dates[0], dates[len(dates)-1])
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing lessons")
	}
	seen := make(map[string]bool, len(existing))
	for _, lesson := range existing {
		seen[occurrenceKey(lesson.Date, lesson.StudentID)] = true
	}

	var students []*string
	if tpl.SharedOccurrence() {
		students = []*string{nil}
	} else {
		enrollments, err := s.enrollments.ListActiveByTemplate(ctx, tpl.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
		}
		for i := range enrollments {
			students = append(students, &enrollments[i].StudentID)
		}
	}

	for _, date := range dates {
		if skipHolidays && coveredByHoliday(holidays, date) {
			result.Holidays++
			result.Skipped += len(students)
			continue
		}
		for _, studentID := range students {
			if seen[occurrenceKey(date, studentID)] {
				result.Skipped++
				continue
			}
			created, err := s.lessons.Insert(ctx, &models.LessonOccurrence{
				TemplateID: tpl.ID,
				StudentID:  studentID,
				Date:       date,
				StartTime:  tpl.StartTime,
				EndTime:    tpl.EndTime,
				Status:     models.LessonStatusScheduled,
			})
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist lesson")
			}
			if created {
				result.Created++
			} else {
				// Lost a generation race; the occurrence exists, so this is
				// the same silent skip as the in-memory check.
				result.Skipped++
			}
		}
	}

	if s.metrics != nil {
		s.metrics.LessonsGenerated(result.Created, result.Skipped)
	}
	return result, nil
}

func coveredByHoliday(holidays []models.Holiday, date time.Time) bool {
	for _, h := range holidays {
		if h.Covers(date) {
			return true
		}
	}
	return false
}

func occurrenceKey(date time.Time, studentID *string) string {
	key := date.Format("2006-01-02")
	if studentID != nil {
		key += "|" + *studentID
	}
	return key
}
