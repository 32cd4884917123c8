// Package handler exposes the REST API. Handlers bind and validate
// input, delegate to the domain services, and map domain errors onto the
// wire taxonomy in one place.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/techshop/storefront/internal/domain/category"
	"github.com/techshop/storefront/internal/domain/coupon"
	"github.com/techshop/storefront/internal/domain/order"
	"github.com/techshop/storefront/internal/domain/product"
	"github.com/techshop/storefront/internal/imagehost"
	"github.com/techshop/storefront/internal/payment"
)

// Config holds non-dependency handler configuration.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product
	// responses. When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler wires the HTTP surface to the domain services.
type Handler struct {
	products   product.Repository
	coupons    coupon.Repository
	resolver   *coupon.Resolver
	orders     *order.Service
	categories *category.Service
	payments   *payment.Client
	images     *imagehost.Client
	auth       *Authenticator

	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
// images may be nil when no image host is configured.
func NewHandler(
	cfg Config,
	products product.Repository,
	coupons coupon.Repository,
	resolver *coupon.Resolver,
	orders *order.Service,
	categories *category.Service,
	payments *payment.Client,
	images *imagehost.Client,
	auth *Authenticator,
) *Handler {
	return &Handler{
		products:     products,
		coupons:      coupons,
		resolver:     resolver,
		orders:       orders,
		categories:   categories,
		payments:     payments,
		images:       images,
		auth:         auth,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Register mounts all API routes on the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")

	api.GET("/products", h.listProducts)
	api.GET("/products/:id", h.getProduct)
	api.GET("/categories/tree", h.categoryTree)
	api.GET("/categories/:slug", h.getCategory)

	// Gateway callback carries its own HMAC authentication.
	api.GET("/payments/callback", h.paymentCallback)

	user := api.Group("", h.auth.Require())
	user.POST("/orders", h.placeOrder)
	user.GET("/orders", h.listMyOrders)
	user.GET("/orders/:id", h.getOrder)
	user.POST("/orders/:id/cancel", h.cancelOrder)
	user.POST("/orders/:id/payment", h.requestPayment)
	user.POST("/coupons/preview", h.previewCoupon)

	admin := api.Group("/admin", h.auth.Require(), h.auth.RequireAdmin())
	admin.POST("/products", h.createProduct)
	admin.PUT("/products/:id", h.updateProduct)
	admin.DELETE("/products/:id", h.deleteProduct)
	admin.POST("/products/:id/images", h.uploadProductImages)
	admin.POST("/categories", h.createCategory)
	admin.PUT("/categories/:id", h.updateCategory)
	admin.DELETE("/categories/:id", h.deleteCategory)
	admin.POST("/coupons", h.createCoupon)
	admin.GET("/coupons", h.listCoupons)
	admin.GET("/orders", h.listAllOrders)
	admin.PATCH("/orders/:id/status", h.updateOrderStatus)
}

// Wire codes carried in the response envelope.
const (
	codeValidation     = "VALIDATION"
	codeNotFound       = "NOT_FOUND"
	codeUnauthorized   = "UNAUTHORIZED"
	codeForbidden      = "FORBIDDEN"
	codeConflict       = "CONFLICT"
	codeOutOfStock     = "OUT_OF_STOCK"
	codeInsufficient   = "INSUFFICIENT_STOCK"
	codeCouponInvalid  = "COUPON_INVALID"
	codeNotImplemented = "NOT_IMPLEMENTED"
	codeInternal       = "INTERNAL"
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Status: "success", Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, codeValidation, message)
}

// writeError maps domain errors onto the wire taxonomy. Every handler
// funnels failures through here so a given domain error always has one
// wire shape.
func writeError(c *gin.Context, err error) {
	var (
		couponErr       *coupon.InvalidCouponError
		productMissing  *order.ProductNotFoundError
		variantMissing  *order.VariantNotFoundError
		outOfStock      *order.OutOfStockError
		insufficient    *order.InsufficientStockError
		illegalTransfer *order.IllegalTransitionError
	)

	switch {
	case errors.As(err, &couponErr):
		fail(c, http.StatusBadRequest, codeCouponInvalid, couponErr.Error())
	case errors.As(err, &outOfStock):
		fail(c, http.StatusBadRequest, codeOutOfStock, outOfStock.Error())
	case errors.As(err, &insufficient):
		fail(c, http.StatusBadRequest, codeInsufficient, insufficient.Error())
	case errors.As(err, &productMissing):
		fail(c, http.StatusNotFound, codeNotFound, productMissing.Error())
	case errors.As(err, &variantMissing):
		fail(c, http.StatusNotFound, codeNotFound, variantMissing.Error())
	case errors.As(err, &illegalTransfer):
		fail(c, http.StatusConflict, codeConflict, illegalTransfer.Error())

	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, category.ErrSelfParent),
		errors.Is(err, category.ErrCyclicParent),
		errors.Is(err, product.ErrDuplicateVariant):
		fail(c, http.StatusBadRequest, codeValidation, err.Error())

	case errors.Is(err, coupon.ErrDiscountNotImplemented):
		fail(c, http.StatusBadRequest, codeNotImplemented, err.Error())

	case errors.Is(err, product.ErrNotFound),
		errors.Is(err, product.ErrVariantNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, category.ErrNotFound):
		fail(c, http.StatusNotFound, codeNotFound, err.Error())

	case errors.Is(err, order.ErrNotOwner):
		fail(c, http.StatusForbidden, codeForbidden, err.Error())

	case errors.Is(err, coupon.ErrCodeExists),
		errors.Is(err, category.ErrSlugExists),
		errors.Is(err, category.ErrHasChildren),
		errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, order.ErrPaymentRefInUse):
		fail(c, http.StatusConflict, codeConflict, err.Error())

	case errors.Is(err, product.ErrStockConflict):
		fail(c, http.StatusBadRequest, codeOutOfStock, err.Error())

	default:
		zctx.From(c.Request.Context()).Error("request failed", zap.Error(err))
		fail(c, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
