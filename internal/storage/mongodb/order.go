package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by MongoDB.
type OrderRepository struct {
	coll *mongo.Collection
}

// NewOrderRepository returns an OrderRepository over db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{coll: db.Collection(ordersCollection)}
}

type orderDoc struct {
	ID                 string         `bson:"_id"`
	UserID             string         `bson:"userId"`
	Items              []orderItemDoc `bson:"items"`
	Address            addressDoc     `bson:"address"`
	Amounts            amountsDoc     `bson:"amounts"`
	Status             order.Status   `bson:"status"`
	Payment            paymentDoc     `bson:"payment"`
	Coupon             *appliedCoupon `bson:"coupon"`
	CouponUsageTracked bool           `bson:"couponUsageTracked"`
	OrderDate          time.Time      `bson:"orderDate"`
	EstimatedDate      time.Time      `bson:"estimatedDate"`
	ShippedDate        *time.Time     `bson:"shippedDate"`
	DeliveredDate      *time.Time     `bson:"deliveredDate"`
	CancelledDate      *time.Time     `bson:"cancelledDate"`
	UpdatedAt          time.Time      `bson:"updatedAt"`
}

type orderItemDoc struct {
	ProductID string          `bson:"productId"`
	Name      string          `bson:"name"`
	UnitPrice decimal.Decimal `bson:"unitPrice"`
	Quantity  int             `bson:"quantity"`
	TaxRate   decimal.Decimal `bson:"taxRate"`
}

type addressDoc struct {
	FullName   string `bson:"fullName"`
	Phone      string `bson:"phone"`
	Email      string `bson:"email"`
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city"`
	State      string `bson:"state"`
	PostalCode string `bson:"postalCode"`
}

type amountsDoc struct {
	ItemTotal      decimal.Decimal `bson:"itemTotal"`
	ShippingCharge decimal.Decimal `bson:"shippingCharge"`
	SalesTax       decimal.Decimal `bson:"salesTax"`
	CouponDiscount decimal.Decimal `bson:"couponDiscount"`
	Total          decimal.Decimal `bson:"total"`
}

type paymentDoc struct {
	Method         order.PaymentMethod `bson:"method"`
	Confirmed      bool                `bson:"confirmed"`
	GatewayOrderID string              `bson:"gatewayOrderId"`
}

type appliedCoupon struct {
	Code           string          `bson:"code"`
	DiscountAmount decimal.Decimal `bson:"discountAmount"`
	DiscountType   string          `bson:"discountType"`
}

// dateFields maps the stamped date of a status to its document field.
var dateFields = map[order.DateField]string{
	order.DateShipped:   "shippedDate",
	order.DateDelivered: "deliveredDate",
	order.DateCancelled: "cancelledDate",
}

func toOrderDoc(o *order.Order) orderDoc {
	items := make([]orderItemDoc, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemDoc(it)
	}
	return orderDoc{
		ID:                 o.ID,
		UserID:             o.UserID,
		Items:              items,
		Address:            addressDoc(o.Address),
		Amounts:            amountsDoc(o.Amounts),
		Status:             o.Status,
		Payment:            paymentDoc(o.Payment),
		Coupon:             (*appliedCoupon)(o.Coupon),
		CouponUsageTracked: o.CouponUsageTracked,
		OrderDate:          o.OrderDate,
		EstimatedDate:      o.EstimatedDate,
		ShippedDate:        o.ShippedDate,
		DeliveredDate:      o.DeliveredDate,
		CancelledDate:      o.CancelledDate,
		UpdatedAt:          o.UpdatedAt,
	}
}

func (d *orderDoc) order() *order.Order {
	items := make([]order.Item, len(d.Items))
	for i, it := range d.Items {
		items[i] = order.Item(it)
	}
	return &order.Order{
		ID:                 d.ID,
		UserID:             d.UserID,
		Items:              items,
		Address:            order.Address(d.Address),
		Amounts:            order.Amounts(d.Amounts),
		Status:             d.Status,
		Payment:            order.Payment(d.Payment),
		Coupon:             (*order.AppliedCoupon)(d.Coupon),
		CouponUsageTracked: d.CouponUsageTracked,
		OrderDate:          d.OrderDate,
		EstimatedDate:      d.EstimatedDate,
		ShippedDate:        d.ShippedDate,
		DeliveredDate:      d.DeliveredDate,
		CancelledDate:      d.CancelledDate,
		UpdatedAt:          d.UpdatedAt,
	}
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if _, err := r.coll.InsertOne(ctx, toOrderDoc(o)); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var doc orderDoc
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return doc.order(), nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	return r.find(ctx,
		bson.M{"userId": userID},
		bson.D{{Key: "orderDate", Value: -1}},
	)
}

// ListByStatusBetween returns orders in status placed within [from, to].
func (r *OrderRepository) ListByStatusBetween(ctx context.Context, status order.Status, from, to time.Time) ([]order.Order, error) {
	return r.find(ctx,
		bson.M{"status": status, "orderDate": bson.M{"$gte": from, "$lte": to}},
		bson.D{{Key: "orderDate", Value: 1}},
	)
}

// SetGatewayOrderID records the payment gateway order id.
func (r *OrderRepository) SetGatewayOrderID(ctx context.Context, id, gatewayOrderID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"payment.gatewayOrderId": gatewayOrderID}},
	)
	if err != nil {
		return fmt.Errorf("setting gateway order id: %w", err)
	}
	if res.MatchedCount == 0 {
		return order.ErrNotFound
	}
	return nil
}

// Confirm moves a Pending order to Confirmed.
func (r *OrderRepository) Confirm(ctx context.Context, id string, paymentConfirmed bool, at time.Time) (*order.Order, error) {
	return r.guarded(ctx, id,
		bson.M{"_id": id, "status": order.StatusPending},
		bson.M{"$set": bson.M{
			"status":            order.StatusConfirmed,
			"payment.confirmed": paymentConfirmed,
			"updatedAt":         at,
		}},
	)
}

// UpdateStatus applies u while the order is still in u.From.
func (r *OrderRepository) UpdateStatus(ctx context.Context, u order.StatusUpdate) (*order.Order, error) {
	set := bson.M{"status": u.To, "updatedAt": u.At}
	if u.Field != "" {
		field, ok := dateFields[u.Field]
		if !ok {
			return nil, errors.Errorf("unknown date field %q", u.Field)
		}
		set[field] = u.At
	}
	return r.guarded(ctx, u.OrderID,
		bson.M{"_id": u.OrderID, "status": u.From},
		bson.M{"$set": set},
	)
}

// ClaimCouponUsage sets the coupon tracking flag and reports whether this
// call set it.
func (r *OrderRepository) ClaimCouponUsage(ctx context.Context, id string) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id, "couponUsageTracked": false},
		bson.M{"$set": bson.M{"couponUsageTracked": true}},
	)
	if err != nil {
		return false, fmt.Errorf("claiming coupon usage: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	if err := r.mustExist(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseCouponUsage clears the coupon tracking flag.
func (r *OrderRepository) ReleaseCouponUsage(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"couponUsageTracked": false}},
	)
	if err != nil {
		return fmt.Errorf("releasing coupon usage: %w", err)
	}
	return nil
}

// guarded runs a conditional update and returns the updated order. A miss
// means either a missing order or a failed guard.
func (r *OrderRepository) guarded(ctx context.Context, id string, filter, update bson.M) (*order.Order, error) {
	var doc orderDoc
	err := r.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("updating order %q: %w", id, err)
		}
		if err := r.mustExist(ctx, id); err != nil {
			return nil, err
		}
		return nil, order.ErrConflict
	}
	return doc.order(), nil
}

func (r *OrderRepository) mustExist(ctx context.Context, id string) error {
	ok, err := exists(ctx, r.coll, id)
	if err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !ok {
		return order.ErrNotFound
	}
	return nil
}

func (r *OrderRepository) find(ctx context.Context, filter bson.M, sort bson.D) ([]order.Order, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	var docs []orderDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("reading orders: %w", err)
	}
	out := make([]order.Order, len(docs))
	for i := range docs {
		out[i] = *docs[i].order()
	}
	return out, nil
}
