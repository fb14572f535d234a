package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/klangwerk/lessonledger-api/internal/service"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
	"github.com/klangwerk/lessonledger-api/pkg/response"
)

// LedgerHandler exposes payment and student-ledger endpoints.
type LedgerHandler struct {
	ledger *service.LedgerService
}

// NewLedgerHandler constructs LedgerHandler.
func NewLedgerHandler(ledger *service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// RecordPayment godoc
// @Summary Record a payment received from a student
// @Tags Ledger
// @Accept json
// @Produce json
// @Param payload body service.RecordPaymentRequest true "Payment payload"
// @Success 201 {object} response.Envelope
// @Router /payments [post]
func (h *LedgerHandler) RecordPayment(c *gin.Context) {
	var req service.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if req.ReceivedBy == "" {
		req.ReceivedBy = actor(c)
	}
	payment, err := h.ledger.RecordPayment(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, payment)
}

// Balance godoc
// @Summary Get a student's balance derived from the ledger
// @Tags Ledger
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/balance [get]
func (h *LedgerHandler) Balance(c *gin.Context) {
	balance, err := h.ledger.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"student_id": c.Param("id"), "balance": balance})
}

// Statement godoc
// @Summary List a student's ledger entries in chronological order
// @Tags Ledger
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/ledger [get]
func (h *LedgerHandler) Statement(c *gin.Context) {
	entries, err := h.ledger.Statement(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries)
}
