package paylink

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/billflow/internal/auth"
	"github.com/mbd888/billflow/internal/invoice"
	"github.com/mbd888/billflow/internal/providers"
	"github.com/mbd888/billflow/internal/validation"
)

// Handler exposes on-demand link generation.
type Handler struct {
	generator *Generator
}

// NewHandler creates a payment link handler.
func NewHandler(g *Generator) *Handler {
	return &Handler{generator: g}
}

// RegisterRoutes sets up authenticated payment link routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/invoices/:id/payment-link", validation.IDParamMiddleware(), h.CreateLink)
}

// CreateLinkRequest selects the payment network. An empty provider uses the
// account default.
type CreateLinkRequest struct {
	Provider providers.Provider `json:"provider" validate:"omitempty,oneof=paystack paypal stripe"`
}

// CreateLink handles POST /v1/invoices/:id/payment-link
func (h *Handler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}
	if err := validation.Struct(req); err != nil {
		invoice.WriteError(c, err)
		return
	}

	caller, _ := auth.GetPrincipal(c)
	res, err := h.generator.Generate(c.Request.Context(), caller, c.Param("id"), req.Provider)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"paymentLink": res})
}

func writeError(c *gin.Context, err error) {
	var pe *ProviderError
	var te *TransientError
	switch {
	case errors.As(err, &pe):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "provider_error",
			"message":  pe.Error(),
			"provider": pe.Provider,
		})
	case errors.As(err, &te):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":     "provider_unavailable",
			"message":   te.Error(),
			"provider":  te.Provider,
			"retryable": true,
		})
	case errors.Is(err, ErrUnavailable):
		// Details stay in the logs; they may describe credential state.
		c.JSON(http.StatusConflict, gin.H{
			"error":   "payment_link_unavailable",
			"message": "No usable payment credentials for this provider",
		})
	case errors.Is(err, ErrNotEligible):
		c.JSON(http.StatusConflict, gin.H{"error": "not_eligible", "message": err.Error()})
	case errors.Is(err, ErrUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_provider", "message": err.Error()})
	default:
		invoice.WriteError(c, err)
	}
}
