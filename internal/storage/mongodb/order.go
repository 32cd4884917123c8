package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/techshop/storefront/internal/domain/order"
)

// OrderRepository implements order.Repository on the orders collection.
type OrderRepository struct {
	col *mongo.Collection
}

var _ order.Repository = (*OrderRepository)(nil)

type orderItemDoc struct {
	ProductID string `bson:"product_id"`
	VariantID string `bson:"variant_id"`
	Name      string `bson:"name"`
	Quantity  int    `bson:"quantity"`
	UnitPrice string `bson:"unit_price"`
}

type addressDoc struct {
	Recipient string `bson:"recipient"`
	Phone     string `bson:"phone"`
	Line1     string `bson:"line1"`
	Ward      string `bson:"ward,omitempty"`
	District  string `bson:"district,omitempty"`
	City      string `bson:"city"`
}

type orderDoc struct {
	ID              string         `bson:"_id"`
	UserID          string         `bson:"user_id"`
	Items           []orderItemDoc `bson:"items"`
	ShippingAddress addressDoc     `bson:"shipping_address"`
	PaymentMethod   string         `bson:"payment_method"`
	PaymentStatus   string         `bson:"payment_status"`
	Status          string         `bson:"status"`
	TotalAmount     string         `bson:"total_amount"`
	ShippingFee     string         `bson:"shipping_fee"`
	FreeShipping    bool           `bson:"free_shipping"`
	CouponCode      string         `bson:"coupon_code,omitempty"`
	DiscountAmount  string         `bson:"discount_amount"`
	FinalAmount     string         `bson:"final_amount"`
	PaymentRef      *string        `bson:"payment_ref,omitempty"`
	PaymentTxnID    string         `bson:"payment_txn_id,omitempty"`
	CreatedAt       time.Time      `bson:"created_at"`
	UpdatedAt       time.Time      `bson:"updated_at"`
}

func toOrderDoc(o *order.Order) orderDoc {
	doc := orderDoc{
		ID:     o.ID,
		UserID: o.UserID,
		Items:  make([]orderItemDoc, len(o.Items)),
		ShippingAddress: addressDoc{
			Recipient: o.ShippingAddress.Recipient,
			Phone:     o.ShippingAddress.Phone,
			Line1:     o.ShippingAddress.Line1,
			Ward:      o.ShippingAddress.Ward,
			District:  o.ShippingAddress.District,
			City:      o.ShippingAddress.City,
		},
		PaymentMethod:  string(o.PaymentMethod),
		PaymentStatus:  string(o.PaymentStatus),
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount.String(),
		ShippingFee:    o.ShippingFee.String(),
		FreeShipping:   o.FreeShipping,
		CouponCode:     o.CouponCode,
		DiscountAmount: o.DiscountAmount.String(),
		FinalAmount:    o.FinalAmount.String(),
		PaymentTxnID:   o.PaymentTxnID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.PaymentRef != "" {
		ref := o.PaymentRef
		doc.PaymentRef = &ref
	}
	for i, it := range o.Items {
		doc.Items[i] = orderItemDoc{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.String(),
		}
	}
	return doc
}

func (d orderDoc) toDomain() (order.Order, error) {
	money := func(field, raw string) (decimal.Decimal, error) {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, errors.Wrapf(err, "order %s %s", d.ID, field)
		}
		return v, nil
	}

	total, err := money("total", d.TotalAmount)
	if err != nil {
		return order.Order{}, err
	}
	shipping, err := money("shipping fee", d.ShippingFee)
	if err != nil {
		return order.Order{}, err
	}
	discount, err := money("discount", d.DiscountAmount)
	if err != nil {
		return order.Order{}, err
	}
	final, err := money("final", d.FinalAmount)
	if err != nil {
		return order.Order{}, err
	}

	o := order.Order{
		ID:     d.ID,
		UserID: d.UserID,
		Items:  make([]order.OrderItem, len(d.Items)),
		ShippingAddress: order.Address{
			Recipient: d.ShippingAddress.Recipient,
			Phone:     d.ShippingAddress.Phone,
			Line1:     d.ShippingAddress.Line1,
			Ward:      d.ShippingAddress.Ward,
			District:  d.ShippingAddress.District,
			City:      d.ShippingAddress.City,
		},
		PaymentMethod:  order.PaymentMethod(d.PaymentMethod),
		PaymentStatus:  order.PaymentStatus(d.PaymentStatus),
		Status:         order.Status(d.Status),
		TotalAmount:    total,
		ShippingFee:    shipping,
		FreeShipping:   d.FreeShipping,
		CouponCode:     d.CouponCode,
		DiscountAmount: discount,
		FinalAmount:    final,
		PaymentTxnID:   d.PaymentTxnID,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.PaymentRef != nil {
		o.PaymentRef = *d.PaymentRef
	}
	for i, it := range d.Items {
		price, err := money("item price", it.UnitPrice)
		if err != nil {
			return order.Order{}, err
		}
		o.Items[i] = order.OrderItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: price,
		}
	}
	return o, nil
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := r.col.InsertOne(ctx, toOrderDoc(o)); err != nil {
		return errors.Wrap(err, "insert order")
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *OrderRepository) FindByPaymentRef(ctx context.Context, ref string) (*order.Order, error) {
	return r.findOne(ctx, bson.M{"payment_ref": ref})
}

func (r *OrderRepository) findOne(ctx context.Context, filter bson.M) (*order.Order, error) {
	var doc orderDoc
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	o, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}

	cursor, err := r.col.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	out := make([]order.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// SetStatus transitions the order status with the expected current status
// in the filter. A concurrent transition makes the filter match nothing,
// so the losing writer gets ErrStatusConflict instead of overwriting.
func (r *OrderRepository) SetStatus(ctx context.Context, id string, from, to order.Status) error {
	return r.setGuarded(ctx, id,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"status": string(to)},
	)
}

func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, from, to order.PaymentStatus) error {
	return r.setGuarded(ctx, id,
		bson.M{"_id": id, "payment_status": string(from)},
		bson.M{"payment_status": string(to)},
	)
}

// SetPaymentRef attaches the gateway correlation id. The filter requires
// the field to be absent, so a second attachment attempt never overwrites
// an in-flight payment.
func (r *OrderRepository) SetPaymentRef(ctx context.Context, id, ref string) error {
	filter := bson.M{"_id": id, "payment_ref": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"payment_ref": ref, "updated_at": time.Now()}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return errors.Wrap(err, "set payment ref")
	}
	if res.MatchedCount == 0 {
		// Distinguish a missing order from one that already has a ref.
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return order.ErrPaymentRefInUse
	}
	return nil
}

func (r *OrderRepository) SetPaymentResult(ctx context.Context, id, txnID string, from, to order.PaymentStatus) error {
	return r.setGuarded(ctx, id,
		bson.M{"_id": id, "payment_status": string(from)},
		bson.M{
			"payment_status": string(to),
			"payment_txn_id": txnID,
		},
	)
}

// setGuarded applies a conditional update and distinguishes the two ways
// it can match nothing: the order is gone, or its guarded field moved.
func (r *OrderRepository) setGuarded(ctx context.Context, id string, filter, fields bson.M) error {
	fields["updated_at"] = time.Now()
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": fields})
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if res.MatchedCount == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return order.ErrStatusConflict
	}
	return nil
}
