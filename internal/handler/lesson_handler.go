package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/internal/models"
	"github.com/klangwerk/lessonledger-api/internal/service"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
	"github.com/klangwerk/lessonledger-api/pkg/response"
)

// LessonHandler exposes lesson generation and status endpoints.
type LessonHandler struct {
	lessons   *service.LessonService
	scheduler *service.SchedulerService
}

// NewLessonHandler constructs LessonHandler. The scheduler is optional.
func NewLessonHandler(lessons *service.LessonService, scheduler *service.SchedulerService) *LessonHandler {
	return &LessonHandler{lessons: lessons, scheduler: scheduler}
}

// Generate godoc
// @Summary Generate lesson occurrences for a course template
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path string true "Course template ID"
// @Param payload body dto.GenerationRequest true "Generation window"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/lessons/generate [post]
func (h *LessonHandler) Generate(c *gin.Context) {
	var req dto.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if !req.WindowEnd.After(req.WindowStart) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "window_end must be after window_start"))
		return
	}
	result, err := h.lessons.GenerateForCourse(c.Request.Context(), c.Param("id"), req.WindowStart, req.WindowEnd, req.SkipHolidays)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// GenerateBulk godoc
// @Summary Generate lesson occurrences for all active course templates
// @Tags Lessons
// @Accept json
// @Produce json
// @Param payload body dto.GenerationRequest true "Generation window"
// @Success 200 {object} response.Envelope
// @Router /lessons/generate-bulk [post]
func (h *LessonHandler) GenerateBulk(c *gin.Context) {
	var req dto.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if !req.WindowEnd.After(req.WindowStart) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "window_end must be after window_start"))
		return
	}
	result, err := h.lessons.GenerateBulk(c.Request.Context(), req.WindowStart, req.WindowEnd, req.SkipHolidays)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

type updateLessonStatusRequest struct {
	Status models.LessonStatus `json:"status" binding:"required"`
}

// UpdateStatus godoc
// @Summary Transition a lesson occurrence's status
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path string true "Lesson occurrence ID"
// @Param payload body updateLessonStatusRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id}/status [patch]
func (h *LessonHandler) UpdateStatus(c *gin.Context) {
	var req updateLessonStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lesson, err := h.lessons.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lesson)
}

// TriggerScheduler godoc
// @Summary Enqueue an out-of-band generation run
// @Tags Lessons
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /lessons/scheduler/trigger [post]
func (h *LessonHandler) TriggerScheduler(c *gin.Context) {
	if h.scheduler == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidState, "scheduler is not enabled"))
		return
	}
	if err := h.scheduler.TriggerNow(); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidState.Code, http.StatusConflict, "scheduler is not running"))
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"enqueued": true})
}
