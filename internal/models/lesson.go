package models

import "time"

// LessonStatus represents the lifecycle of a lesson occurrence.
type LessonStatus string

// Possible lesson statuses. Occurrences are never deleted; cancellations and
// no-shows are recorded as status transitions to preserve invoicing history.
const (
	LessonStatusScheduled LessonStatus = "SCHEDULED"
	LessonStatusCompleted LessonStatus = "COMPLETED"
	LessonStatusCancelled LessonStatus = "CANCELLED"
	LessonStatusNoShow    LessonStatus = "NO_SHOW"
)

// Billable reports whether the status qualifies a lesson for invoicing.
func (s LessonStatus) Billable() bool {
	return s == LessonStatusScheduled || s == LessonStatusCompleted
}

// LessonOccurrence is one concrete, dated instance of a course template.
// StudentID is set for individual courses and nil for group/workshop
// occurrences, where attendance is tracked through enrollments.
type LessonOccurrence struct {
	ID          string       `db:"id" json:"id"`
	TemplateID  string       `db:"template_id" json:"template_id"`
	StudentID   *string      `db:"student_id" json:"student_id,omitempty"`
	Date        time.Time    `db:"date" json:"date"`
	StartTime   string       `db:"start_time" json:"start_time"`
	EndTime     string       `db:"end_time" json:"end_time"`
	Status      LessonStatus `db:"status" json:"status"`
	Invoiced    bool         `db:"invoiced" json:"invoiced"`
	TeacherPaid bool         `db:"teacher_paid" json:"teacher_paid"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// ValidTransition reports whether a status change is allowed. Anything may
// leave SCHEDULED; terminal states only swap between each other to correct
// bookkeeping mistakes.
func ValidTransition(from, to LessonStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case LessonStatusScheduled:
		return true
	case LessonStatusCompleted, LessonStatusCancelled, LessonStatusNoShow:
		return to != LessonStatusScheduled
	}
	return false
}
