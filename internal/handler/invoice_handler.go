package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klangwerk/lessonledger-api/internal/dto"
	"github.com/klangwerk/lessonledger-api/internal/service"
	appErrors "github.com/klangwerk/lessonledger-api/pkg/errors"
	"github.com/klangwerk/lessonledger-api/pkg/response"
)

// InvoiceHandler exposes invoice lifecycle endpoints.
type InvoiceHandler struct {
	invoices *service.InvoiceService
}

// NewInvoiceHandler constructs InvoiceHandler.
func NewInvoiceHandler(invoices *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices}
}

// actor identifies who performed a financial operation for ledger
// attribution. Falls back to "system" until authentication lands.
func actor(c *gin.Context) string {
	if v := c.GetHeader("X-Actor"); v != "" {
		return v
	}
	return "system"
}

type generateInvoiceRequest struct {
	PeriodStart time.Time `json:"period_start" binding:"required"`
	PeriodEnd   time.Time `json:"period_end" binding:"required"`
}

// Generate godoc
// @Summary Generate a draft invoice for an enrollment's billing period
// @Tags Invoices
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body generateInvoiceRequest true "Billing period"
// @Success 201 {object} response.Envelope
// @Router /enrollments/{id}/invoices [post]
func (h *InvoiceHandler) Generate(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if !req.PeriodEnd.After(req.PeriodStart) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "period_end must be after period_start"))
		return
	}
	invoice, err := h.invoices.GenerateInvoice(c.Request.Context(), c.Param("id"), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, invoice)
}

// GenerateBatch godoc
// @Summary Generate invoices for every active enrollment on a billing cycle
// @Tags Invoices
// @Accept json
// @Produce json
// @Param payload body dto.BatchInvoiceRequest true "Cycle and period"
// @Success 200 {object} response.Envelope
// @Router /invoices/generate-batch [post]
func (h *InvoiceHandler) GenerateBatch(c *gin.Context) {
	var req dto.BatchInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.invoices.GenerateBatch(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Get godoc
// @Summary Get an invoice with its lines
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id} [get]
func (h *InvoiceHandler) Get(c *gin.Context) {
	invoice, lines, err := h.invoices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"invoice": invoice, "lines": lines})
}

// Recalculate godoc
// @Summary Rebuild a draft invoice against current lesson state
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/recalculate [post]
func (h *InvoiceHandler) Recalculate(c *gin.Context) {
	invoice, err := h.invoices.Recalculate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice)
}

// Send godoc
// @Summary Issue a draft invoice and charge the student ledger
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/send [post]
func (h *InvoiceHandler) Send(c *gin.Context) {
	invoice, err := h.invoices.Send(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice)
}

// Cancel godoc
// @Summary Cancel a draft invoice, releasing its lessons
// @Tags Invoices
// @Produce json
// @Param id path string true "Invoice ID"
// @Success 200 {object} response.Envelope
// @Router /invoices/{id}/cancel [post]
func (h *InvoiceHandler) Cancel(c *gin.Context) {
	invoice, err := h.invoices.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, invoice)
}
