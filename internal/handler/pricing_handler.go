package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klangwerk/lessonledger-api/internal/service"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
	"github.com/klangwerk/lessonledger-api/pkg/response"
)

// PricingHandler exposes time-versioned pricing endpoints.
type PricingHandler struct {
	pricing *service.PricingService
}

// NewPricingHandler constructs PricingHandler.
func NewPricingHandler(pricing *service.PricingService) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

// Current godoc
// @Summary Get the current pricing version for a course type
// @Tags Pricing
// @Produce json
// @Param id path string true "Course type ID"
// @Success 200 {object} response.Envelope
// @Router /course-types/{id}/pricing [get]
func (h *PricingHandler) Current(c *gin.Context) {
	version, err := h.pricing.CurrentPricing(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version)
}

// At godoc
// @Summary Resolve the pricing version effective on a date
// @Tags Pricing
// @Produce json
// @Param id path string true "Course type ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /course-types/{id}/pricing/at [get]
func (h *PricingHandler) At(c *gin.Context) {
	raw := c.Query("date")
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be formatted YYYY-MM-DD"))
		return
	}
	version, err := h.pricing.PricingAt(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version)
}

// CreateVersion godoc
// @Summary Create a new pricing version, closing the current one
// @Tags Pricing
// @Accept json
// @Produce json
// @Param id path string true "Course type ID"
// @Param payload body service.CreatePricingVersionRequest true "New version payload"
// @Success 201 {object} response.Envelope
// @Router /course-types/{id}/pricing [post]
func (h *PricingHandler) CreateVersion(c *gin.Context) {
	var req service.CreatePricingVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.CourseTypeID = c.Param("id")
	version, err := h.pricing.CreateNewVersion(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, version)
}

// UpdateCurrent godoc
// @Summary Edit the current pricing version in place
// @Tags Pricing
// @Accept json
// @Produce json
// @Param id path string true "Course type ID"
// @Param payload body service.UpdatePricingRequest true "Price payload"
// @Success 200 {object} response.Envelope
// @Router /course-types/{id}/pricing [put]
func (h *PricingHandler) UpdateCurrent(c *gin.Context) {
	var req service.UpdatePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.CourseTypeID = c.Param("id")
	version, err := h.pricing.UpdateCurrentInPlace(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, version)
}

// ValidateHistory godoc
// @Summary Check a course type's pricing history for gaps and overlaps
// @Tags Pricing
// @Produce json
// @Param id path string true "Course type ID"
// @Success 200 {object} response.Envelope
// @Router /course-types/{id}/pricing/validate [get]
func (h *PricingHandler) ValidateHistory(c *gin.Context) {
	if err := h.pricing.ValidateHistory(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"valid": true})
}
