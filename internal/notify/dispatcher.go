// Package notify delivers order notifications asynchronously.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

var (
	// ErrQueueFull is returned by Send when the queue has no free slot.
	ErrQueueFull = errors.New("notification queue is full")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("notification dispatcher is closed")
	// ErrNoRecipient is returned for notifications without an address.
	ErrNoRecipient = errors.New("notification has no recipient")
	// ErrRejected is returned by senders when the server refuses the message
	// permanently.
	ErrRejected = errors.New("message rejected")
)

var _ order.Notifier = (*Dispatcher)(nil)

// Message is a rendered notification.
type Message struct {
	To      string
	Subject string
	Body    string
	Kind    order.NotificationKind
	OrderID string
}

// Sender delivers a single message.
type Sender interface {
	Deliver(ctx context.Context, m Message) error
}

// Config configures a Dispatcher. Zero values take defaults.
type Config struct {
	QueueSize      int
	Workers        int
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// DeliveryTimeout bounds each delivery attempt.
	DeliveryTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 15 * time.Second
	}
}

// Dispatcher queues notifications and delivers them from a worker group
// with retries. Send never blocks on delivery.
type Dispatcher struct {
	sender    Sender
	templates *Templates
	cfg       Config

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	group  *errgroup.Group

	deliveries metric.Int64Counter
}

// NewDispatcher creates a Dispatcher. mp may be nil.
func NewDispatcher(sender Sender, templates *Templates, cfg Config, mp metric.MeterProvider) (*Dispatcher, error) {
	cfg.setDefaults()
	if templates == nil {
		templates = DefaultTemplates()
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	deliveries, err := mp.Meter("kart-checkout/notify").Int64Counter("notify.deliveries",
		metric.WithDescription("Notification deliveries by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create deliveries counter")
	}
	return &Dispatcher{
		sender:     sender,
		templates:  templates,
		cfg:        cfg,
		queue:      make(chan Message, cfg.QueueSize),
		deliveries: deliveries,
	}, nil
}

// Start launches the workers. Deliveries run detached from ctx cancellation
// so that Close can drain the queue; ctx supplies the logger.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	g := &errgroup.Group{}
	for range d.cfg.Workers {
		g.Go(func() error {
			for m := range d.queue {
				d.deliver(base, m)
			}
			return nil
		})
	}
	d.mu.Lock()
	d.group = g
	d.mu.Unlock()
}

// Send renders n and enqueues it.
func (d *Dispatcher) Send(ctx context.Context, n order.Notification) error {
	m, err := d.templates.Render(n)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- m:
		return nil
	default:
		d.record(ctx, m, "dropped")
		return ErrQueueFull
	}
}

// Saturation returns the filled fraction of the queue.
func (d *Dispatcher) Saturation() float64 {
	return float64(len(d.queue)) / float64(cap(d.queue))
}

// Close stops accepting notifications and waits until queued ones are
// delivered or given up.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	g := d.group
	d.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	lg := zctx.From(ctx).With(
		zap.String("order_id", m.OrderID),
		zap.String("kind", string(m.Kind)),
	)

	b := &backoff.ExponentialBackOff{
		InitialInterval:     d.cfg.InitialBackoff,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         d.cfg.MaxBackoff,
	}
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()

		err := d.sender.Deliver(actx, m)
		if errors.Is(err, ErrNoRecipient) || errors.Is(err, ErrRejected) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			lg.Warn("Notification delivery failed, retrying",
				zap.Error(err),
				zap.Duration("retry_in", next),
			)
		}),
	)
	if err != nil {
		lg.Error("Notification not delivered", zap.Error(err), zap.Int("attempts", attempts))
		d.record(ctx, m, "failed")
		return
	}
	lg.Debug("Notification delivered", zap.Int("attempts", attempts))
	d.record(ctx, m, "sent")
}

func (d *Dispatcher) record(ctx context.Context, m Message, outcome string) {
	d.deliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(m.Kind)),
		attribute.String("outcome", outcome),
	))
}
