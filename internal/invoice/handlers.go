package invoice

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/logging"
	"github.com/mbd888/billflow/internal/validation"
)

// Handler provides HTTP endpoints for invoices and payments.
type Handler struct {
	service *Service
	sweeper *Sweeper
}

// NewHandler creates a new invoice handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithSweeper enables the admin sweep endpoint.
func (h *Handler) WithSweeper(s *Sweeper) *Handler {
	h.sweeper = s
	return h
}

// RegisterRoutes sets up authenticated invoice and payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/invoices", h.CreateInvoice)
	r.GET("/invoices", h.ListInvoices)

	byID := r.Group("/invoices/:id", validation.IDParamMiddleware())
	byID.GET("", h.GetInvoice)
	byID.PUT("", h.UpdateInvoice)
	byID.POST("/request-approval", h.RequestApproval)
	byID.POST("/approve", h.Approve)
	byID.POST("/reject", h.Reject)
	byID.POST("/send", h.MarkSent)
	byID.POST("/cancel", h.Cancel)
	byID.POST("/payments", h.RecordPayment)
	byID.GET("/payments", h.ListPayments)

	r.DELETE("/payments/:id", validation.IDParamMiddleware(), h.DeletePayment)
}

// RegisterAdminRoutes sets up routes that require the admin capability.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	if h.sweeper != nil {
		r.POST("/admin/sweep", h.Sweep)
	}
}

// CreateInvoice handles POST /v1/invoices
func (h *Handler) CreateInvoice(c *gin.Context) {
	var req InvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.service.Create(c.Request.Context(), principal(c), req)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": inv})
}

// ListInvoices handles GET /v1/invoices?limit=&cursor=
func (h *Handler) ListInvoices(c *gin.Context) {
	limit := DefaultListLimit
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	invoices, next, err := h.service.List(c.Request.Context(), principal(c), c.Query("cursor"), limit)
	if err != nil {
		WriteError(c, err)
		return
	}
	if invoices == nil {
		invoices = []*Invoice{}
	}
	c.JSON(http.StatusOK, gin.H{
		"invoices":   invoices,
		"count":      len(invoices),
		"nextCursor": next,
		"hasMore":    next != "",
	})
}

// GetInvoice handles GET /v1/invoices/:id
func (h *Handler) GetInvoice(c *gin.Context) {
	inv, err := h.service.Get(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// UpdateInvoice handles PUT /v1/invoices/:id
func (h *Handler) UpdateInvoice(c *gin.Context) {
	var req InvoiceRequest
	if !bindJSON(c, &req) {
		return
	}

	inv, err := h.service.Update(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// RequestApproval handles POST /v1/invoices/:id/request-approval
func (h *Handler) RequestApproval(c *gin.Context) {
	h.transition(c, ActionRequestApproval, "")
}

// Approve handles POST /v1/invoices/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, ActionApprove, "")
}

// Reject handles POST /v1/invoices/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	var req RejectRequest
	if !bindJSON(c, &req) {
		return
	}
	h.transition(c, ActionReject, req.Reason)
}

// MarkSent handles POST /v1/invoices/:id/send
func (h *Handler) MarkSent(c *gin.Context) {
	h.transition(c, ActionMarkSent, "")
}

func (h *Handler) transition(c *gin.Context, action Action, reason string) {
	inv, err := h.service.Transition(c.Request.Context(), principal(c), c.Param("id"), action, reason)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// Cancel handles POST /v1/invoices/:id/cancel
func (h *Handler) Cancel(c *gin.Context) {
	inv, err := h.service.Cancel(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// RecordPayment handles POST /v1/invoices/:id/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	var req RecordPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	rec, inv, err := h.service.RecordPayment(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": rec, "invoice": inv})
}

// ListPayments handles GET /v1/invoices/:id/payments
func (h *Handler) ListPayments(c *gin.Context) {
	payments, err := h.service.ListPayments(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "count": len(payments)})
}

// DeletePayment handles DELETE /v1/payments/:id
func (h *Handler) DeletePayment(c *gin.Context) {
	inv, err := h.service.DeletePayment(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": inv})
}

// Sweep handles POST /v1/admin/sweep
func (h *Handler) Sweep(c *gin.Context) {
	report, err := h.sweeper.Sweep(c.Request.Context(), h.service.Now())
	if err != nil {
		logging.L(c.Request.Context()).Error("overdue sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Overdue sweep failed",
			"report":  report,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.GetPrincipal(c)
	return p
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	return true
}

// WriteError maps an invoice error to its HTTP response.
func WriteError(c *gin.Context, err error) {
	var transition *TransitionError
	switch {
	case validation.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
			"details": validation.Fields(err),
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
			"from":    transition.From,
			"action":  transition.Action,
		})
	case IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("invoice request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
