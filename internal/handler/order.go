package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techshop/storefront/internal/domain/order"
	"github.com/techshop/storefront/internal/payment"
	"github.com/techshop/storefront/pkg/httpmiddleware"
)

type orderItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	VariantID string `json:"variantId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type addressRequest struct {
	Recipient string `json:"recipient" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
	Line1     string `json:"line1" binding:"required"`
	Ward      string `json:"ward"`
	District  string `json:"district"`
	City      string `json:"city" binding:"required"`
}

type placeOrderRequest struct {
	Items           []orderItemRequest `json:"items" binding:"required"`
	ShippingAddress addressRequest     `json:"shippingAddress" binding:"required"`
	PaymentMethod   string             `json:"paymentMethod" binding:"required"`
	CouponCode      string             `json:"couponCode"`
	ShippingFee     decimal.Decimal    `json:"shippingFee"`
}

type orderItemResponse struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type orderResponse struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	Items          []orderItemResponse `json:"items"`
	PaymentMethod  string              `json:"paymentMethod"`
	PaymentStatus  string              `json:"paymentStatus"`
	Status         string              `json:"status"`
	TotalAmount    decimal.Decimal     `json:"totalAmount"`
	ShippingFee    decimal.Decimal     `json:"shippingFee"`
	FreeShipping   bool                `json:"freeShipping"`
	CouponCode     string              `json:"couponCode,omitempty"`
	DiscountAmount decimal.Decimal     `json:"discountAmount"`
	FinalAmount    decimal.Decimal     `json:"finalAmount"`
	CreatedAt      time.Time           `json:"createdAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		UserID:         o.UserID,
		Items:          make([]orderItemResponse, len(o.Items)),
		PaymentMethod:  string(o.PaymentMethod),
		PaymentStatus:  string(o.PaymentStatus),
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		ShippingFee:    o.ShippingFee,
		FreeShipping:   o.FreeShipping,
		CouponCode:     o.CouponCode,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		CreatedAt:      o.CreatedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		}
	}
	return resp
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	method := order.PaymentMethod(req.PaymentMethod)
	if !method.Valid() {
		badRequest(c, "unknown payment method "+req.PaymentMethod)
		return
	}

	items := make([]order.PlaceItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.PlaceItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		}
	}

	o, err := h.orders.Place(c.Request.Context(), order.PlaceRequest{
		UserID: userID(c),
		Items:  items,
		ShippingAddress: order.Address{
			Recipient: req.ShippingAddress.Recipient,
			Phone:     req.ShippingAddress.Phone,
			Line1:     req.ShippingAddress.Line1,
			Ward:      req.ShippingAddress.Ward,
			District:  req.ShippingAddress.District,
			City:      req.ShippingAddress.City,
		},
		PaymentMethod: method,
		CouponCode:    req.CouponCode,
		ShippingFee:   req.ShippingFee,
	})
	httpmiddleware.RecordOrderOperation("place", err == nil)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"), userID(c), isAdmin(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listMyOrders(c *gin.Context) {
	orders, err := h.orders.ListByUser(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toOrderResponses(orders))
}

func (h *Handler) listAllOrders(c *gin.Context) {
	f := order.Filter{UserID: c.Query("user")}
	if st := c.Query("status"); st != "" {
		status := order.Status(st)
		if !status.Valid() {
			badRequest(c, "unknown order status "+st)
			return
		}
		f.Status = status
	}

	orders, err := h.orders.ListAll(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toOrderResponses(orders))
}

func toOrderResponses(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

func (h *Handler) cancelOrder(c *gin.Context) {
	o, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), userID(c), isAdmin(c))
	httpmiddleware.RecordOrderOperation("cancel", err == nil)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toOrderResponse(o))
}

type statusUpdateRequest struct {
	Status        string  `json:"status" binding:"required"`
	PaymentStatus *string `json:"paymentStatus"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	st := order.Status(req.Status)
	if !st.Valid() {
		badRequest(c, "unknown order status "+req.Status)
		return
	}
	upd := order.StatusUpdate{Status: &st}
	if req.PaymentStatus != nil {
		ps := order.PaymentStatus(*req.PaymentStatus)
		if !ps.Valid() {
			badRequest(c, "unknown payment status "+*req.PaymentStatus)
			return
		}
		upd.PaymentStatus = &ps
	}

	o, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), upd)
	httpmiddleware.RecordOrderOperation("update_status", err == nil)
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, toOrderResponse(o))
}

type paymentResponse struct {
	PaymentURL string `json:"paymentUrl"`
	Ref        string `json:"ref"`
}

// requestPayment attaches a fresh correlation ref to the order and hands
// back the signed checkout URL the customer is redirected to.
func (h *Handler) requestPayment(c *gin.Context) {
	o, err := h.orders.Get(c.Request.Context(), c.Param("id"), userID(c), isAdmin(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if o.PaymentMethod != order.MethodGateway {
		badRequest(c, "order is not payable through the gateway")
		return
	}
	if o.PaymentStatus != order.PaymentPending {
		fail(c, http.StatusConflict, codeConflict, "order payment already settled")
		return
	}

	ref := uuid.New().String()
	if o, err = h.orders.AttachPaymentRef(c.Request.Context(), o.ID, userID(c), isAdmin(c), ref); err != nil {
		writeError(c, err)
		return
	}

	checkout, err := h.payments.CheckoutURL(c.Request.Context(), payment.Request{
		Ref:       ref,
		Amount:    o.FinalAmount,
		OrderInfo: "order " + o.ID,
		ClientIP:  c.ClientIP(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	respond(c, http.StatusOK, paymentResponse{PaymentURL: checkout, Ref: ref})
}

// paymentCallback handles the gateway's server-to-server result push. The
// gateway retries anything but an ACK, so the response is always 200; the
// real outcome goes to the log and the order record.
func (h *Handler) paymentCallback(c *gin.Context) {
	lg := zctx.From(c.Request.Context())

	cb, err := h.payments.VerifyCallback(c.Request.URL.Query())
	if err != nil {
		lg.Warn("Payment callback rejected", zap.Error(err))
		respond(c, http.StatusOK, gin.H{"acknowledged": true})
		return
	}

	err = h.orders.ConfirmPayment(c.Request.Context(), cb.Ref, cb.TxnID, cb.Success)
	httpmiddleware.RecordOrderOperation("confirm_payment", err == nil)
	if err != nil {
		lg.Warn("Payment confirmation failed",
			zap.String("ref", cb.Ref),
			zap.String("txn_id", cb.TxnID),
			zap.Error(err),
		)
	} else {
		lg.Info("Payment confirmed",
			zap.String("ref", cb.Ref),
			zap.Bool("paid", cb.Success),
		)
	}
	respond(c, http.StatusOK, gin.H{"acknowledged": true})
}
