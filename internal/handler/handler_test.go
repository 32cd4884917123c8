package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techshop/storefront/internal/domain/category"
	"github.com/techshop/storefront/internal/domain/coupon"
	"github.com/techshop/storefront/internal/domain/order"
	"github.com/techshop/storefront/internal/domain/product"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestWriteError_Taxonomy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty items", order.ErrEmptyItems, http.StatusBadRequest, codeValidation},
		{"self parent", category.ErrSelfParent, http.StatusBadRequest, codeValidation},
		{"product missing", &order.ProductNotFoundError{ProductID: "p1"}, http.StatusNotFound, codeNotFound},
		{"coupon missing", coupon.ErrNotFound, http.StatusNotFound, codeNotFound},
		{"order missing", order.ErrNotFound, http.StatusNotFound, codeNotFound},
		{"not owner", order.ErrNotOwner, http.StatusForbidden, codeForbidden},
		{"out of stock", &order.OutOfStockError{ProductID: "p1", VariantID: "v1"}, http.StatusBadRequest, codeOutOfStock},
		{
			"insufficient stock",
			&order.InsufficientStockError{ProductID: "p1", VariantID: "v1", Requested: 5, Available: 2},
			http.StatusBadRequest, codeInsufficient,
		},
		{
			"coupon invalid",
			&coupon.InvalidCouponError{Code: "SUMMER20", Reason: coupon.ReasonExpired},
			http.StatusBadRequest, codeCouponInvalid,
		},
		{"not implemented", coupon.ErrDiscountNotImplemented, http.StatusBadRequest, codeNotImplemented},
		{"code exists", coupon.ErrCodeExists, http.StatusConflict, codeConflict},
		{"slug exists", category.ErrSlugExists, http.StatusConflict, codeConflict},
		{"has children", category.ErrHasChildren, http.StatusConflict, codeConflict},
		{"not cancellable", order.ErrNotCancellable, http.StatusConflict, codeConflict},
		{"payment ref in use", order.ErrPaymentRefInUse, http.StatusConflict, codeConflict},
		{
			"illegal transition",
			&order.IllegalTransitionError{From: "DELIVERED", To: "PENDING"},
			http.StatusConflict, codeConflict,
		},
		{"duplicate variant", product.ErrDuplicateVariant, http.StatusBadRequest, codeValidation},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, codeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

			writeError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, "error", env.Status)
			assert.Equal(t, tt.wantCode, env.Code)
			assert.NotEmpty(t, env.Message)
		})
	}
}

func TestWriteError_WrappedErrorStillMaps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.Wrap(order.ErrNotFound, "load order"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, codeNotFound, decodeEnvelope(t, w).Code)
}

func TestWriteError_InternalHidesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	writeError(c, errors.New("pq: connection reset"))

	env := decodeEnvelope(t, w)
	assert.Equal(t, "internal server error", env.Message)
	assert.NotContains(t, env.Message, "connection reset")
}

func TestCreateCoupon_RequiresPositiveValue(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		body string
	}{
		{
			"zero percentage",
			`{"code":"ZERO10","type":"PERCENTAGE_DISCOUNT","value":"0",` +
				`"startDate":"2025-06-01T00:00:00Z","endDate":"2025-07-01T00:00:00Z","isActive":true}`,
		},
		{
			"negative fixed amount",
			`{"code":"NEG10","type":"FIXED_AMOUNT_DISCOUNT","value":"-10000",` +
				`"startDate":"2025-06-01T00:00:00Z","endDate":"2025-07-01T00:00:00Z","isActive":true}`,
		},
	}

	h := &Handler{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			h.createCoupon(c)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			env := decodeEnvelope(t, w)
			assert.Equal(t, codeValidation, env.Code)
			assert.Contains(t, env.Message, "value must be greater than 0")
		})
	}
}

func authRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", a.Require(), func(c *gin.Context) {
		respond(c, http.StatusOK, gin.H{"user": userID(c), "admin": isAdmin(c)})
	})
	r.GET("/admin", a.Require(), a.RequireAdmin(), func(c *gin.Context) {
		respond(c, http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestAuth_MissingToken(t *testing.T) {
	r := authRouter(NewAuthenticator("secret"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, codeUnauthorized, decodeEnvelope(t, w).Code)
}

func TestAuth_InvalidToken(t *testing.T) {
	r := authRouter(NewAuthenticator("secret"))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_WrongSecret(t *testing.T) {
	a := NewAuthenticator("secret")
	other := NewAuthenticator("other")
	token, err := other.SignToken("u1", "", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter(a).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ExpiredToken(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := a.SignToken("u1", "", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter(a).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_ValidToken(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := a.SignToken("u1", "", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	authRouter(a).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	data := env.Data.(map[string]any)
	assert.Equal(t, "u1", data["user"])
	assert.Equal(t, false, data["admin"])
}

func TestAuth_AdminGate(t *testing.T) {
	a := NewAuthenticator("secret")

	userToken, err := a.SignToken("u1", "", time.Minute)
	require.NoError(t, err)
	adminToken, err := a.SignToken("staff-1", RoleAdmin, time.Minute)
	require.NoError(t, err)

	r := authRouter(a)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req2.Header.Set("Authorization", "Bearer "+adminToken)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}
