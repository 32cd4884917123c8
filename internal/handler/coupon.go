package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/techshop/storefront/internal/domain/coupon"
)

type couponRequest struct {
	Code              string          `json:"code" binding:"required"`
	Type              string          `json:"type" binding:"required"`
	Value             decimal.Decimal `json:"value"`
	MinOrderValue     decimal.Decimal `json:"minOrderValue"`
	MaxDiscountValue  decimal.Decimal `json:"maxDiscountValue"`
	UsageLimit        int             `json:"usageLimit" binding:"min=0"`
	UsageLimitPerUser int             `json:"usageLimitPerUser" binding:"min=0"`
	StartDate         time.Time       `json:"startDate" binding:"required"`
	EndDate           time.Time       `json:"endDate" binding:"required"`
	IsActive          bool            `json:"isActive"`
	BuyQuantity       int             `json:"buyQuantity"`
	GetQuantity       int             `json:"getQuantity"`
	GiftProductID     string          `json:"giftProductId"`
}

type couponResponse struct {
	ID                string          `json:"id"`
	Code              string          `json:"code"`
	Type              string          `json:"type"`
	Value             decimal.Decimal `json:"value"`
	MinOrderValue     decimal.Decimal `json:"minOrderValue"`
	MaxDiscountValue  decimal.Decimal `json:"maxDiscountValue"`
	UsageLimit        int             `json:"usageLimit"`
	TimesUsed         int             `json:"timesUsed"`
	UsageLimitPerUser int             `json:"usageLimitPerUser"`
	StartDate         time.Time       `json:"startDate"`
	EndDate           time.Time       `json:"endDate"`
	IsActive          bool            `json:"isActive"`
}

func toCouponResponse(c *coupon.Coupon) couponResponse {
	return couponResponse{
		ID:                c.ID,
		Code:              c.Code,
		Type:              string(c.Type),
		Value:             c.Value,
		MinOrderValue:     c.MinOrderValue,
		MaxDiscountValue:  c.MaxDiscountValue,
		UsageLimit:        c.UsageLimit,
		TimesUsed:         c.TimesUsed,
		UsageLimitPerUser: c.UsageLimitPerUser,
		StartDate:         c.StartDate,
		EndDate:           c.EndDate,
		IsActive:          c.IsActive,
	}
}

func (h *Handler) createCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	typ := coupon.Type(strings.ToUpper(req.Type))
	if !typ.Valid() {
		badRequest(c, "unknown coupon type "+req.Type)
		return
	}
	if (typ == coupon.TypePercentage || typ == coupon.TypeFixedAmount) && !req.Value.IsPositive() {
		badRequest(c, "value must be greater than 0 for type "+string(typ))
		return
	}
	if !req.EndDate.After(req.StartDate) {
		badRequest(c, "endDate must be after startDate")
		return
	}

	cp := &coupon.Coupon{
		ID:                uuid.New().String(),
		Code:              coupon.Normalize(req.Code),
		Type:              typ,
		Value:             req.Value,
		MinOrderValue:     req.MinOrderValue,
		MaxDiscountValue:  req.MaxDiscountValue,
		UsageLimit:        req.UsageLimit,
		UsageLimitPerUser: req.UsageLimitPerUser,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		IsActive:          req.IsActive,
		BuyQuantity:       req.BuyQuantity,
		GetQuantity:       req.GetQuantity,
		GiftProductID:     req.GiftProductID,
		CreatedAt:         time.Now(),
	}

	if err := h.coupons.Create(c.Request.Context(), cp); err != nil {
		writeError(c, err)
		return
	}
	h.resolver.Remember(cp.Code)
	respond(c, http.StatusCreated, toCouponResponse(cp))
}

func (h *Handler) listCoupons(c *gin.Context) {
	coupons, err := h.coupons.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]couponResponse, len(coupons))
	for i := range coupons {
		out[i] = toCouponResponse(&coupons[i])
	}
	respond(c, http.StatusOK, out)
}

type previewRequest struct {
	Code     string          `json:"code" binding:"required"`
	Subtotal decimal.Decimal `json:"subtotal" binding:"required"`
}

type previewResponse struct {
	Code         string          `json:"code"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"freeShipping"`
}

// previewCoupon resolves a coupon against a subtotal without consuming a
// use, so carts can show the discount before checkout.
func (h *Handler) previewCoupon(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	code := coupon.Normalize(req.Code)
	d, err := h.resolver.Resolve(c.Request.Context(), code, userID(c), req.Subtotal)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, previewResponse{
		Code:         code,
		Discount:     d.Amount,
		FreeShipping: d.FreeShipping,
	})
}
