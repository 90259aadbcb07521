package order

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusShipped   Status = "Shipped"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
)

var statuses = []Status{StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled}

// ParseStatus returns the Status named by s, ignoring case. Unrecognized
// values yield ErrUnknownStatus.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range statuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownStatus, "%q", s)
}

// transitions lists the allowed edges of the order state machine.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered, StatusCancelled},
}

// adminTargets are the statuses reachable through the admin entry point.
// Confirmed is reached only through payment confirmation.
var adminTargets = map[Status]bool{
	StatusShipped:   true,
	StatusDelivered: true,
	StatusCancelled: true,
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DateField names the timestamp stamped when an order enters a status.
type DateField string

const (
	DateShipped   DateField = "shipped_date"
	DateDelivered DateField = "delivered_date"
	DateCancelled DateField = "cancelled_date"
)

// DateFieldFor returns the date field stamped when entering status. The
// boolean is false for statuses that stamp no field.
func DateFieldFor(status Status) (DateField, bool) {
	switch status {
	case StatusShipped:
		return DateShipped, true
	case StatusDelivered:
		return DateDelivered, true
	case StatusCancelled:
		return DateCancelled, true
	default:
		return "", false
	}
}

// stamp writes at into the field of o named by f.
func (o *Order) stamp(f DateField, at time.Time) {
	t := at
	switch f {
	case DateShipped:
		o.ShippedDate = &t
	case DateDelivered:
		o.DeliveredDate = &t
	case DateCancelled:
		o.CancelledDate = &t
	}
}

// StatusUpdate is a guarded status change: it applies only while the order
// is still in From.
type StatusUpdate struct {
	OrderID string
	From    Status
	To      Status
	Field   DateField
	At      time.Time
}

// Apply performs the update on an in-memory order. Repositories without
// column-level updates use it to build the new document.
func (u StatusUpdate) Apply(o *Order) {
	o.Status = u.To
	if u.Field != "" {
		o.stamp(u.Field, u.At)
	}
	o.UpdatedAt = u.At
}
