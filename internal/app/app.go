package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/shipping"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/geo/mapbox"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/payment"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// service is the assembled API: its handler, health probes and the
// resources to release on shutdown.
type service struct {
	handler http.Handler
	health  *health.Health
	stores  *Stores
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("payment", cfg.Payment.Provider),
		zap.Bool("shipping", cfg.Shipping.Enabled),
		zap.Bool("notify", cfg.Notify.Enabled),
	)

	svc, err := newService(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newService opens storage and builds every component behind the API. On
// error, everything acquired so far is released.
func newService(ctx context.Context, lg *zap.Logger, t httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	tp, mp := t.TracerProvider(), t.MeterProvider()
	svc := &service{}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	stores, err := OpenStores(zctx.Base(ctx, lg), cfg.Storage)
	if err != nil {
		return nil, err
	}
	svc.stores = stores
	svc.closers = append(svc.closers, func() { stores.Close(context.WithoutCancel(ctx)) })

	svc.health = health.New(lg.Named("health"))
	svc.health.Register(health.Readiness, cfg.Storage.Driver,
		health.PingCheck(cfg.Storage.Driver, stores.Ping),
		health.CheckOptions{Timeout: 5 * time.Second},
	)
	svc.health.Register(health.Liveness, "goroutines",
		health.GoroutineCountCheck(10000),
		health.CheckOptions{Timeout: time.Second},
	)

	notifier, closeNotifier, err := newNotifier(zctx.Base(ctx, lg), cfg.Notify, mp, svc.health)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, closeNotifier)

	publisher, closePublisher, err := newPublisher(cfg.Events, svc.health)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, closePublisher)

	var (
		gateway  order.PaymentGateway
		verifier handler.SignatureVerifier
	)
	if cfg.Payment.Provider == "razorpay" {
		rp := payment.NewRazorpay(cfg.Payment.KeyID, cfg.Payment.KeySecret, tp)
		gateway, verifier = rp, rp
	}

	var (
		quoter    order.ShippingQuoter
		estimator handler.ShippingEstimator
	)
	if cfg.Shipping.Enabled {
		est, err := newEstimator(cfg.Shipping, tp)
		if err != nil {
			return nil, err
		}
		quoter, estimator = shippingQuoter{est: est}, est
	}

	tokens, err := auth.NewTokenService(stores.Sessions, auth.TokenConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Issuer:     "kart-checkout",
	})
	if err != nil {
		return nil, errors.Wrap(err, "create token service")
	}
	keys := auth.NewAPIKeyAuthenticator(stores.APIKeys, []byte(cfg.Auth.APIKeyPepper))

	// Domain services.
	carts := cart.NewService(stores.Carts, stores.Products)
	ledger := coupon.NewLedger(stores.Coupons)
	redeemer, err := newCountedRedeemer(ledger, mp)
	if err != nil {
		return nil, err
	}
	manager := order.NewManager(stores.Orders, gateway, notifier, publisher, order.ManagerConfig{
		EstimateWindow: cfg.Order.EstimateWindow,
		Currency:       cfg.Payment.Currency,
	})
	checkout := order.NewCheckout(manager, stores.Products, carts, ledger, quoter, tp)
	confirmer, err := newCountedConfirmer(
		order.NewCoordinator(stores.Orders, carts, redeemer, notifier, publisher, tp),
		mp,
	)
	if err != nil {
		return nil, err
	}

	h := handler.NewHandler(handler.HandlerConfig{ImageBaseURL: cfg.ImageBaseURL}, handler.Deps{
		Tokens:    tokens,
		Keys:      keys,
		Products:  stores.Products,
		Carts:     carts,
		Coupons:   ledger,
		Checkout:  checkout,
		Orders:    manager,
		Confirmer: confirmer,
		Shipping:  estimator,
		Payments:  verifier,
	})

	r := chi.NewRouter()
	r.Get("/livez", svc.health.LiveEndpoint)
	r.Get("/readyz", svc.health.ReadyEndpoint)
	h.Register(r)

	svc.handler = httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.CredentialKey,
			Skip:    httpmiddleware.SkipPaths("/livez", "/readyz"),
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("kart-api", httpmiddleware.ChiRoute, t),
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
	)
	return svc, nil
}

// newNotifier starts the notification dispatcher. It returns a nil Notifier
// when notifications are disabled. The returned func drains the queue.
func newNotifier(ctx context.Context, cfg NotifyConfig, mp metric.MeterProvider, hs *health.Health) (order.Notifier, func(), error) {
	lg := zctx.From(ctx)
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.SMTPHost != "" {
		s, err := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "create smtp sender")
		}
		sender = s
	}

	d, err := notify.NewDispatcher(sender, nil, notify.Config{
		QueueSize:      cfg.QueueSize,
		Workers:        cfg.Workers,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}, mp)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create dispatcher")
	}
	d.Start(ctx)
	hs.Register(health.Liveness, "notify_queue",
		health.SaturationCheck(d.Saturation, 0.9),
		health.CheckOptions{Timeout: time.Second, FailureThreshold: 6},
	)

	return d, func() {
		if err := d.Close(); err != nil {
			lg.Warn("Notification queue drain failed", zap.Error(err))
		}
	}, nil
}

// newPublisher returns a Kafka publisher, or events.Nop without brokers.
func newPublisher(cfg EventsConfig, hs *health.Health) (order.EventPublisher, func(), error) {
	if len(cfg.Brokers) == 0 {
		return events.Nop{}, func() {}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create kafka publisher")
	}
	hs.Register(health.Readiness, "kafka",
		health.PingCheck("kafka", p.Ping),
		health.CheckOptions{Timeout: 5 * time.Second},
	)
	return p, p.Close, nil
}

func newEstimator(cfg ShippingConfig, tp trace.TracerProvider) (*shipping.Estimator, error) {
	ecfg, err := cfg.estimatorConfig()
	if err != nil {
		return nil, errors.Wrap(err, "shipping config")
	}
	var opts []mapbox.Option
	if cfg.MapboxBaseURL != "" {
		opts = append(opts, mapbox.WithBaseURL(cfg.MapboxBaseURL))
	}
	client := mapbox.New(cfg.MapboxToken, tp, opts...)
	est, err := shipping.NewEstimator(client, client, ecfg, tp)
	if err != nil {
		return nil, errors.Wrap(err, "create estimator")
	}
	return est, nil
}

// shippingQuoter prices checkout addresses with the estimator.
type shippingQuoter struct {
	est *shipping.Estimator
}

func (q shippingQuoter) Quote(ctx context.Context, addr order.Address) (decimal.Decimal, error) {
	est, err := q.est.Estimate(ctx, shipping.Destination{Text: addr.Text(), PostalCode: addr.PostalCode})
	if err != nil {
		return decimal.Zero, err
	}
	return est.Charge, nil
}
