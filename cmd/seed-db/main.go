package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/app"
	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

type productJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Price       decimal.Decimal  `json:"price"`
	Category    string           `json:"category"`
	TaxRate     *decimal.Decimal `json:"taxRate"`
	Image       struct {
		Thumbnail string `json:"thumbnail"`
		Mobile    string `json:"mobile"`
		Tablet    string `json:"tablet"`
		Desktop   string `json:"desktop"`
	} `json:"image"`
}

type options struct {
	storage      app.StorageConfig
	productsFile string
	apiKey       string
	apiKeyPepper string
	jwtSecret    string
	tokenFor     string
	admin        bool
}

func main() {
	var opts options

	flag.StringVar(&opts.storage.Driver, "driver", "postgres", "storage driver: postgres or mongo")
	flag.StringVar(&opts.storage.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.storage.MongoURI, "mongo-uri", "", "MongoDB connection URI (or MONGODB_URI env)")
	flag.StringVar(&opts.storage.MongoDatabase, "mongo-database", "kart", "MongoDB database name")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_AUTH_API_KEY_PEPPER env)")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "HMAC secret for issued tokens (or KART_AUTH_JWT_SECRET env)")
	flag.StringVar(&opts.tokenFor, "issue-token-for", "", "issue a session for this user id and print it")
	flag.BoolVar(&opts.admin, "admin", false, "mark the issued session as admin")
	flag.Parse()

	opts.fillFromEnv()
	if err := opts.validate(); err != nil {
		slog.Error("invalid options", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func (o *options) fillFromEnv() {
	envDefault := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	envDefault(&o.storage.DatabaseURL, "DATABASE_URL")
	envDefault(&o.storage.MongoURI, "MONGODB_URI")
	envDefault(&o.apiKey, "KART_SEED_API_KEY")
	envDefault(&o.apiKeyPepper, "KART_AUTH_API_KEY_PEPPER")
	envDefault(&o.jwtSecret, "KART_AUTH_JWT_SECRET")
}

func (o *options) validate() error {
	switch o.storage.Driver {
	case "postgres":
		if o.storage.DatabaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
	case "mongo":
		if o.storage.MongoURI == "" {
			return errors.New("mongo URI is required: set --mongo-uri or MONGODB_URI")
		}
	default:
		return errors.Errorf("unknown storage driver %q", o.storage.Driver)
	}
	if o.apiKey == "" {
		return errors.New("API key is required: set --api-key or KART_SEED_API_KEY")
	}
	if o.tokenFor != "" && o.jwtSecret == "" {
		return errors.New("JWT secret is required to issue a token: set --jwt-secret or KART_AUTH_JWT_SECRET")
	}
	return nil
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to storage", slog.String("driver", opts.storage.Driver))

	stores, err := app.OpenStores(ctx, opts.storage)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}
	defer stores.Close(context.WithoutCancel(ctx))

	if err := seedProducts(ctx, stores.Products, opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedCoupons(ctx, stores.Coupons, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, stores.APIKeys, opts.apiKey, opts.apiKeyPepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	if opts.tokenFor != "" {
		if err := issueToken(ctx, stores.Sessions, opts); err != nil {
			return errors.Wrap(err, "issue token")
		}
	}

	return nil
}

func seedProducts(ctx context.Context, repo product.Repository, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		taxRate := product.TaxRateFor(p.Category)
		if p.TaxRate != nil {
			taxRate = *p.TaxRate
		}
		if err := repo.Upsert(ctx, &product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       p.Price,
			Category:    p.Category,
			TaxRate:     taxRate,
			Image: product.Image{
				Thumbnail: p.Image.Thumbnail,
				Mobile:    p.Image.Mobile,
				Tablet:    p.Image.Tablet,
				Desktop:   p.Image.Desktop,
			},
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func intPtr(v int) *int { return &v }

func decimalPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// demoCoupons are the coupons a fresh environment starts with.
func demoCoupons(now time.Time) []coupon.Coupon {
	expiry := now.AddDate(1, 0, 0)
	out := []coupon.Coupon{
		{
			Code:          "SAVE10",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(10),
			MaxDiscount:   decimalPtr(200),
			PerUserLimit:  intPtr(1),
		},
		{
			Code:          "FLAT1000",
			DiscountType:  coupon.DiscountFixed,
			DiscountValue: decimal.NewFromInt(1000),
			MinPurchase:   decimal.NewFromInt(5000),
		},
		{
			Code:          "GREEN25",
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: decimal.NewFromInt(25),
			MinPurchase:   decimal.NewFromInt(1000),
			MaxDiscount:   decimalPtr(500),
			UsageLimit:    intPtr(100),
			PerUserLimit:  intPtr(2),
		},
	}
	for i := range out {
		out[i].ID = uuid.NewString()
		out[i].IsActive = true
		out[i].ExpiryDate = expiry
		out[i].CreatedBy = "seed"
		out[i].CreatedAt = now
		out[i].UpdatedAt = now
	}
	return out
}

func seedCoupons(ctx context.Context, repo coupon.Repository, now time.Time) error {
	slog.Info("seeding demo coupons")

	for _, c := range demoCoupons(now) {
		if err := c.Validate(); err != nil {
			return errors.Wrapf(err, "coupon %s", c.Code)
		}
		if err := repo.Upsert(ctx, &c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon",
			slog.String("code", c.Code),
			slog.String("type", string(c.DiscountType)),
			slog.String("value", c.DiscountValue.String()),
		)
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo auth.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	if err := repo.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Default test key",
		Scopes:  []string{"create_order"},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default test key"))

	return nil
}

// issueToken opens a session and prints its token pair as JSON on stdout.
func issueToken(ctx context.Context, sessions auth.SessionRepository, opts options) error {
	tokens, err := auth.NewTokenService(sessions, auth.TokenConfig{
		Secret:     []byte(opts.jwtSecret),
		AccessTTL:  24 * time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
		Issuer:     "kart-checkout",
	})
	if err != nil {
		return err
	}

	pair, err := tokens.Issue(ctx, opts.tokenFor, opts.admin)
	if err != nil {
		return err
	}

	slog.Info("issued session",
		slog.String("user_id", opts.tokenFor),
		slog.Bool("admin", opts.admin),
		slog.String("session_id", pair.SessionID),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"accessToken":      pair.AccessToken,
		"accessExpiresAt":  pair.AccessExpiresAt,
		"refreshToken":     pair.RefreshToken,
		"refreshExpiresAt": pair.RefreshExpiresAt,
	})
}
