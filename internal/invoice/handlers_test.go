package invoice

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/billflow/internal/auth"
)

func setupTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)

	handler := NewHandler(f.svc).WithSweeper(NewSweeper(f.svc, f.store, time.Minute, quietLogger()))

	r := gin.New()
	v1 := r.Group("/v1")
	// Stand-in for the API key middleware.
	v1.Use(func(c *gin.Context) {
		if acct := c.GetHeader("X-Test-Account"); acct != "" {
			c.Set(auth.ContextKeyPrincipal, auth.Principal{
				AccountID: acct,
				Admin:     c.GetHeader("X-Test-Admin") == "true",
			})
		}
		c.Next()
	})
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1.Group("", auth.RequireAdmin()))
	return r
}

func do(t *testing.T, r http.Handler, method, path string, caller auth.Principal, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caller.AccountID != "" {
		req.Header.Set("X-Test-Account", caller.AccountID)
	}
	if caller.Admin {
		req.Header.Set("X-Test-Admin", "true")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type invoiceResponse struct {
	Invoice *Invoice `json:"invoice"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func TestHandler_CreateAndGetInvoice(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)

	body := map[string]interface{}{
		"currency": "USD",
		"client":   map[string]string{"name": "Acme"},
		"lineItems": []map[string]interface{}{
			{"description": "Design", "quantity": 2, "rate": "49.995"},
		},
		"taxRate": 10,
		"dueDate": f.clock.Now().Add(7 * 24 * time.Hour),
	}
	w := do(t, r, "POST", "/v1/invoices", owner, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created invoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Invoice.Subtotal.Equal(d("99.99")), "subtotal %s", created.Invoice.Subtotal)
	assert.True(t, created.Invoice.Total.Equal(d("109.99")), "total %s", created.Invoice.Total)

	w = do(t, r, "GET", "/v1/invoices/"+created.Invoice.ID, owner, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, "GET", "/v1/invoices/"+created.Invoice.ID, stranger, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, "GET", "/v1/invoices", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), `"hasMore":false`)

	w = do(t, r, "GET", "/v1/invoices?cursor=%21%21", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateValidationError(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)

	w := do(t, r, "POST", "/v1/invoices", owner, map[string]interface{}{
		"currency":  "US",
		"client":    map[string]string{"name": ""},
		"lineItems": []interface{}{},
	})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error)

	w = do(t, r, "POST", "/v1/invoices", owner, "not an object")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ApprovalFlowAndErrors(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)
	inv := f.create(t, "100")
	base := "/v1/invoices/" + inv.ID

	w := do(t, r, "POST", base+"/approve", admin, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_transition", resp.Error)

	w = do(t, r, "POST", base+"/request-approval", owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, "POST", base+"/approve", owner, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, "POST", base+"/reject", admin, map[string]string{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, "POST", base+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, "POST", base+"/send", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sent invoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sent))
	assert.Equal(t, ApprovalSent, sent.Invoice.ApprovalStatus)
}

func TestHandler_PaymentsLifecycle(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)
	inv := f.create(t, "100")

	w := do(t, r, "POST", "/v1/invoices/"+inv.ID+"/payments", owner, map[string]string{"amount": "100.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var recorded struct {
		Payment *PaymentRecord `json:"payment"`
		Invoice *Invoice       `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recorded))
	assert.Equal(t, PaymentPaid, recorded.Invoice.PaymentStatus)

	w = do(t, r, "GET", "/v1/invoices/"+inv.ID+"/payments", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), recorded.Payment.ID)

	w = do(t, r, "DELETE", "/v1/payments/"+recorded.Payment.ID, owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var after invoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &after))
	assert.True(t, after.Invoice.PaidAmount.IsZero())
	assert.Equal(t, PaymentPending, after.Invoice.PaymentStatus)

	w = do(t, r, "DELETE", "/v1/payments/"+recorded.Payment.ID, owner, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, "POST", "/v1/invoices/"+inv.ID+"/payments", owner, map[string]string{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CancelConflict(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)
	inv := f.create(t, "100")

	w := do(t, r, "POST", "/v1/invoices/"+inv.ID+"/cancel", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, "POST", "/v1/invoices/"+inv.ID+"/cancel", owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandler_RejectsMalformedID(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)

	w := do(t, r, "GET", "/v1/invoices/bad%20id", owner, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AdminSweep(t *testing.T) {
	f := newFixture()
	r := setupTestRouter(f)
	f.create(t, "100")
	f.clock.Advance(30 * 24 * time.Hour)

	w := do(t, r, "POST", "/v1/admin/sweep", owner, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, "POST", "/v1/admin/sweep", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Report SweepReport `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Report.Scanned)
	assert.Equal(t, 1, resp.Report.Updated)
}
