package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klangwerk/lessonledger-api/internal/service"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
	"github.com/klangwerk/lessonledger-api/pkg/response"
)

// CreditHandler exposes credit note endpoints.
type CreditHandler struct {
	credits *service.CreditService
}

// NewCreditHandler constructs CreditHandler.
func NewCreditHandler(credits *service.CreditService) *CreditHandler {
	return &CreditHandler{credits: credits}
}

// Create godoc
// @Summary Issue a credit note for a student
// @Tags Credits
// @Accept json
// @Produce json
// @Param payload body service.CreateCreditNoteRequest true "Credit note payload"
// @Success 201 {object} response.Envelope
// @Router /credit-notes [post]
func (h *CreditHandler) Create(c *gin.Context) {
	var req service.CreateCreditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if req.CreatedBy == "" {
		req.CreatedBy = actor(c)
	}
	note, err := h.credits.CreateCreditNote(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, note)
}

// Remaining godoc
// @Summary Get the unconsumed value of a credit note
// @Tags Credits
// @Produce json
// @Param id path string true "Credit note ID"
// @Success 200 {object} response.Envelope
// @Router /credit-notes/{id}/remaining [get]
func (h *CreditHandler) Remaining(c *gin.Context) {
	remaining, err := h.credits.RemainingCredit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"credit_note_id": c.Param("id"), "remaining": remaining})
}

// Apply godoc
// @Summary Apply credit from a credit note to an open invoice
// @Tags Credits
// @Accept json
// @Produce json
// @Param id path string true "Credit note ID"
// @Param payload body service.ApplyCreditRequest true "Application payload"
// @Success 204 "No Content"
// @Router /credit-notes/{id}/apply [post]
func (h *CreditHandler) Apply(c *gin.Context) {
	var req service.ApplyCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.CreditNoteID = c.Param("id")
	if req.AppliedBy == "" {
		req.AppliedBy = actor(c)
	}
	if err := h.credits.ApplyCredit(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
