package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/techshop/storefront/internal/domain/coupon"
	"github.com/techshop/storefront/internal/domain/product"
	"github.com/techshop/storefront/internal/notify"
)

// PlaceItem is a requested order line.
type PlaceItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// PlaceRequest holds the input for placing an order.
type PlaceRequest struct {
	UserID          string
	Items           []PlaceItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	CouponCode      string
	ShippingFee     decimal.Decimal
}

// Service encapsulates order placement, cancellation, status transitions,
// and payment correlation.
type Service struct {
	products   product.Repository
	coupons    coupon.Redeemer
	orders     Repository
	dispatcher notify.Dispatcher
}

// NewService creates an order Service with the required dependencies.
// dispatcher may be nil; notifications are then skipped entirely.
func NewService(
	products product.Repository,
	coupons coupon.Redeemer,
	orders Repository,
	dispatcher notify.Dispatcher,
) *Service {
	return &Service{
		products:   products,
		coupons:    coupons,
		orders:     orders,
		dispatcher: dispatcher,
	}
}

// reservation tracks a stock decrement so it can be compensated if a later
// step of placement fails.
type reservation struct {
	productID string
	variantID string
	qty       int
}

// Place validates every requested line against live stock, reserves stock
// with conditional decrements, redeems the coupon when one is supplied,
// computes the final amount, and persists the order as PENDING/PENDING.
//
// All lines are validated before any stock is touched, and every reserved
// line is released again when a later reservation, the coupon, or the
// persist step fails. A confirmation notification is fired best-effort.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !req.PaymentMethod.Valid() {
		return nil, errors.Errorf("unknown payment method %q", req.PaymentMethod)
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, errors.Wrapf(ErrInvalidQuantity, "product %s", item.ProductID)
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		productMap[fetched[i].ID] = &fetched[i]
	}

	// Validate every line before mutating anything.
	orderItems := make([]OrderItem, len(req.Items))
	subtotal := decimal.Zero
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		v := p.Variant(item.VariantID)
		if v == nil {
			return nil, &VariantNotFoundError{ProductID: item.ProductID, VariantID: item.VariantID}
		}
		if v.Stock == 0 {
			return nil, &OutOfStockError{ProductID: item.ProductID, VariantID: item.VariantID}
		}
		if v.Stock < item.Quantity {
			return nil, &InsufficientStockError{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Available: v.Stock,
			}
		}

		orderItems[i] = OrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitPrice: v.Price,
		}
		subtotal = subtotal.Add(v.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	// Reserve stock per line. The conditional decrement can still lose a
	// race the validation pass did not see; compensate and report.
	reserved := make([]reservation, 0, len(req.Items))
	for _, item := range req.Items {
		if err := s.products.ReserveStock(ctx, item.ProductID, item.VariantID, item.Quantity); err != nil {
			s.release(ctx, reserved)
			if errors.Is(err, product.ErrStockConflict) {
				return nil, s.stockConflictError(ctx, item)
			}
			return nil, errors.Wrapf(err, "reserve stock for variant %s", item.VariantID)
		}
		reserved = append(reserved, reservation{item.ProductID, item.VariantID, item.Quantity})
	}

	// Redeem the coupon after reservation; release stock on rejection. The
	// code is canonicalized first so placement accepts exactly the codes
	// preview accepts.
	discountAmount := decimal.Zero
	freeShipping := false
	couponCode := coupon.Normalize(req.CouponCode)
	if couponCode != "" {
		d, err := s.coupons.Redeem(ctx, couponCode, req.UserID, subtotal)
		if err != nil {
			s.release(ctx, reserved)
			return nil, errors.Wrap(err, "redeem coupon")
		}
		discountAmount = d.Amount
		freeShipping = d.FreeShipping
	}

	now := time.Now()
	o := &Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Items:           orderItems,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		TotalAmount:     subtotal.Round(2),
		ShippingFee:     req.ShippingFee,
		FreeShipping:    freeShipping,
		CouponCode:      couponCode,
		DiscountAmount:  discountAmount.Round(2),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.ComputeFinalAmount()

	if err := s.orders.Create(ctx, o); err != nil {
		s.release(ctx, reserved)
		return nil, errors.Wrap(err, "create order")
	}

	notify.BestEffort(ctx, s.dispatcher, o.UserID,
		"Order confirmed",
		fmt.Sprintf("Your order %s has been placed.", o.ID),
		map[string]string{"order_id": o.ID},
	)
	return o, nil
}

// release returns reserved stock. Restore failures are logged, not
// propagated: the caller is already unwinding a worse error.
func (s *Service) release(ctx context.Context, reserved []reservation) {
	for _, r := range reserved {
		if err := s.products.RestoreStock(ctx, r.productID, r.variantID, r.qty); err != nil {
			zctx.From(ctx).Error("stock release failed",
				zap.String("product", r.productID),
				zap.String("variant", r.variantID),
				zap.Int("qty", r.qty),
				zap.Error(err),
			)
		}
	}
}

// stockConflictError re-reads the variant to report requested vs available
// after a lost reservation race.
func (s *Service) stockConflictError(ctx context.Context, item PlaceItem) error {
	available := 0
	if p, err := s.products.GetByID(ctx, item.ProductID); err == nil {
		if v := p.Variant(item.VariantID); v != nil {
			available = v.Stock
		}
	}
	if available == 0 {
		return &OutOfStockError{ProductID: item.ProductID, VariantID: item.VariantID}
	}
	return &InsufficientStockError{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Requested: item.Quantity,
		Available: available,
	}
}

// Get returns the order when the requester owns it or is an admin.
func (s *Service) Get(ctx context.Context, id, requesterID string, isAdmin bool) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != requesterID {
		return nil, ErrNotOwner
	}
	return o, nil
}

// ListByUser returns the user's own orders.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	return s.orders.List(ctx, Filter{UserID: userID})
}

// ListAll returns orders matching the filter; admin only, gated upstream.
func (s *Service) ListAll(ctx context.Context, f Filter) ([]Order, error) {
	return s.orders.List(ctx, f)
}

// Cancel cancels an order still in PENDING or PROCESSING, restores each
// item's variant stock, and fires a best-effort cancellation notification.
// Only the order's owner or an admin may cancel.
func (s *Service) Cancel(ctx context.Context, id, requesterID string, isAdmin bool) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && o.UserID != requesterID {
		return nil, ErrNotOwner
	}
	if o.Status != StatusPending && o.Status != StatusProcessing {
		return nil, errors.Wrapf(ErrNotCancellable, "status %s", o.Status)
	}

	// The guarded write loses when a concurrent transition beat this one;
	// stock is restored only by the writer that actually cancelled.
	if err := s.orders.SetStatus(ctx, id, o.Status, StatusCancelled); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, errors.Wrap(ErrNotCancellable, "order changed concurrently")
		}
		return nil, errors.Wrap(err, "set status")
	}
	s.restoreItems(ctx, o)
	o.Status = StatusCancelled

	notify.BestEffort(ctx, s.dispatcher, o.UserID,
		"Order cancelled",
		fmt.Sprintf("Your order %s has been cancelled.", o.ID),
		map[string]string{"order_id": o.ID},
	)
	return o, nil
}

func (s *Service) restoreItems(ctx context.Context, o *Order) {
	for _, item := range o.Items {
		if err := s.products.RestoreStock(ctx, item.ProductID, item.VariantID, item.Quantity); err != nil {
			zctx.From(ctx).Error("stock restore failed",
				zap.String("order", o.ID),
				zap.String("variant", item.VariantID),
				zap.Error(err),
			)
		}
	}
}

// StatusUpdate carries an admin status change; either field may be nil.
type StatusUpdate struct {
	Status        *Status
	PaymentStatus *PaymentStatus
}

// UpdateStatus applies an admin status transition. Transitions not present
// in the allowed-transitions table are rejected with IllegalTransitionError.
// A transition to CANCELLED restores stock like Cancel does; SHIPPED,
// DELIVERED, CANCELLED, and payment FAILED fire best-effort notifications.
func (s *Service) UpdateStatus(ctx context.Context, id string, upd StatusUpdate) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Status != nil {
		to := *upd.Status
		if !to.Valid() {
			return nil, errors.Errorf("unknown order status %q", to)
		}
		if !o.Status.CanTransition(to) {
			return nil, &IllegalTransitionError{From: string(o.Status), To: string(to)}
		}
		if err := s.orders.SetStatus(ctx, id, o.Status, to); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return nil, s.transitionConflict(ctx, id, string(o.Status), string(to))
			}
			return nil, errors.Wrap(err, "set status")
		}
		if to == StatusCancelled {
			s.restoreItems(ctx, o)
		}
		o.Status = to
		s.notifyStatus(ctx, o, to)
	}

	if upd.PaymentStatus != nil {
		to := *upd.PaymentStatus
		if !to.Valid() {
			return nil, errors.Errorf("unknown payment status %q", to)
		}
		if !o.PaymentStatus.CanTransition(to) {
			return nil, &IllegalTransitionError{From: string(o.PaymentStatus), To: string(to)}
		}
		if err := s.orders.SetPaymentStatus(ctx, id, o.PaymentStatus, to); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return nil, s.paymentConflict(ctx, id, string(o.PaymentStatus), string(to))
			}
			return nil, errors.Wrap(err, "set payment status")
		}
		o.PaymentStatus = to
		if to == PaymentFailed {
			notify.BestEffort(ctx, s.dispatcher, o.UserID,
				"Payment failed",
				fmt.Sprintf("Payment for order %s failed.", o.ID),
				map[string]string{"order_id": o.ID},
			)
		}
	}

	return o, nil
}

func (s *Service) notifyStatus(ctx context.Context, o *Order, to Status) {
	var title, body string
	switch to {
	case StatusShipped:
		title, body = "Order shipped", fmt.Sprintf("Your order %s is on its way.", o.ID)
	case StatusDelivered:
		title, body = "Order delivered", fmt.Sprintf("Your order %s has been delivered.", o.ID)
	case StatusCancelled:
		title, body = "Order cancelled", fmt.Sprintf("Your order %s has been cancelled.", o.ID)
	default:
		return
	}
	notify.BestEffort(ctx, s.dispatcher, o.UserID, title, body, map[string]string{"order_id": o.ID})
}

// transitionConflict rebuilds an IllegalTransitionError after a lost guarded
// write, re-reading the order so the error names the status that actually won.
func (s *Service) transitionConflict(ctx context.Context, id, staleFrom, to string) error {
	from := staleFrom
	if cur, err := s.orders.GetByID(ctx, id); err == nil {
		from = string(cur.Status)
	}
	return &IllegalTransitionError{From: from, To: to}
}

func (s *Service) paymentConflict(ctx context.Context, id, staleFrom, to string) error {
	from := staleFrom
	if cur, err := s.orders.GetByID(ctx, id); err == nil {
		from = string(cur.PaymentStatus)
	}
	return &IllegalTransitionError{From: from, To: to}
}

// AttachPaymentRef stores the gateway correlation id on the order before the
// payment request is sent, so the callback can look it up by exact match.
func (s *Service) AttachPaymentRef(ctx context.Context, id, requesterID string, isAdmin bool, ref string) (*Order, error) {
	o, err := s.Get(ctx, id, requesterID, isAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.orders.SetPaymentRef(ctx, id, ref); err != nil {
		return nil, err
	}
	o.PaymentRef = ref
	return o, nil
}

// ConfirmPayment records the gateway callback outcome for the order carrying
// the given correlation ref.
func (s *Service) ConfirmPayment(ctx context.Context, ref, txnID string, paid bool) error {
	o, err := s.orders.FindByPaymentRef(ctx, ref)
	if err != nil {
		return err
	}

	st := PaymentPaid
	if !paid {
		st = PaymentFailed
	}
	if !o.PaymentStatus.CanTransition(st) {
		// Duplicate or late callback; the stored outcome wins.
		return &IllegalTransitionError{From: string(o.PaymentStatus), To: string(st)}
	}
	if err := s.orders.SetPaymentResult(ctx, o.ID, txnID, o.PaymentStatus, st); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			// Two callbacks raced past the pre-check; the first write wins.
			return s.paymentConflict(ctx, o.ID, string(o.PaymentStatus), string(st))
		}
		return errors.Wrap(err, "set payment result")
	}

	if st == PaymentFailed {
		notify.BestEffort(ctx, s.dispatcher, o.UserID,
			"Payment failed",
			fmt.Sprintf("Payment for order %s failed.", o.ID),
			map[string]string{"order_id": o.ID},
		)
	}
	return nil
}
