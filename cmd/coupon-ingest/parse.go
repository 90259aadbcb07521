package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
)

// columns of a coupon definition row.
var columns = []string{
	"code", "type", "value", "minPurchase", "maxDiscount", "expiry", "usageLimit", "perUserLimit",
}

// fileResult holds the definitions read from a single file.
type fileResult struct {
	path     string
	coupons  []coupon.Coupon
	rejected []rowError
}

// rowError describes a row that could not be turned into a coupon.
type rowError struct {
	line int
	err  error
}

// readFiles parses every file concurrently. Results keep the file order.
func readFiles(ctx context.Context, files []string, now time.Time) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrapf(err, "open %s", path)
			}
			defer func() { _ = f.Close() }()

			gz, err := pgzip.NewReader(f)
			if err != nil {
				return errors.Wrapf(err, "create gzip reader for %s", path)
			}
			defer func() { _ = gz.Close() }()

			res, err := parseCoupons(ctx, gz, now)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			res.path = path
			for _, re := range res.rejected {
				slog.Warn("rejected coupon row",
					slog.String("file", path),
					slog.Int("line", re.line),
					slog.String("error", re.err.Error()),
				)
			}
			slog.Info("file parsed",
				slog.String("file", path),
				slog.Int("coupons", len(res.coupons)),
				slog.Int("rejected", len(res.rejected)),
			)
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseCoupons reads CSV coupon definitions. A leading header row is
// skipped. Malformed rows are collected, not fatal.
func parseCoupons(ctx context.Context, r io.Reader, now time.Time) (fileResult, error) {
	var res fileResult

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(columns)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
			res.rejected = append(res.rejected, rowError{line: line, err: err})
			continue
		}
		if err != nil {
			return res, err
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), columns[0]) {
			continue
		}

		c, err := parseRecord(record, now)
		if err != nil {
			res.rejected = append(res.rejected, rowError{line: line, err: err})
			continue
		}
		res.coupons = append(res.coupons, *c)
	}
}

// parseRecord builds a validated coupon from one CSV row. Empty optional
// columns leave the corresponding limit unset.
func parseRecord(record []string, now time.Time) (*coupon.Coupon, error) {
	field := func(i int) string { return strings.TrimSpace(record[i]) }

	discountType, err := coupon.ParseDiscountType(field(1))
	if err != nil {
		return nil, err
	}
	value, err := parseDecimal("value", field(2), true)
	if err != nil {
		return nil, err
	}
	minPurchase, err := parseDecimal("minPurchase", field(3), false)
	if err != nil {
		return nil, err
	}
	c := &coupon.Coupon{
		ID:            uuid.NewString(),
		Code:          coupon.NormalizeCode(field(0)),
		DiscountType:  discountType,
		DiscountValue: value,
		MinPurchase:   minPurchase,
		IsActive:      true,
		CreatedBy:     "coupon-ingest",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if s := field(4); s != "" {
		d, err := parseDecimal("maxDiscount", s, true)
		if err != nil {
			return nil, err
		}
		c.MaxDiscount = &d
	}
	if c.ExpiryDate, err = parseExpiry(field(5)); err != nil {
		return nil, err
	}
	if c.UsageLimit, err = parseLimit("usageLimit", field(6)); err != nil {
		return nil, err
	}
	if c.PerUserLimit, err = parseLimit("perUserLimit", field(7)); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseDecimal(name, s string, required bool) (decimal.Decimal, error) {
	if s == "" {
		if required {
			return decimal.Zero, &coupon.ValidationError{Field: name, Reason: "required"}
		}
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &coupon.ValidationError{Field: name, Reason: "must be a number"}
	}
	return d, nil
}

// parseExpiry accepts RFC 3339 timestamps or plain dates. A plain date
// expires at the end of that day, UTC.
func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Add(24*time.Hour - time.Second), nil
	}
	return time.Time{}, &coupon.ValidationError{Field: "expiry", Reason: "must be a date or RFC 3339 timestamp"}
}

func parseLimit(name, s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, &coupon.ValidationError{Field: name, Reason: "must be an integer"}
	}
	return &n, nil
}

// dedupe merges the parsed files, keeping the first definition of each
// code in file order. The bloom filter answers most lookups; positives are
// confirmed against the exact set.
func dedupe(results []fileResult) ([]coupon.Coupon, int) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]struct{})

	var (
		out  []coupon.Coupon
		dups int
	)
	for _, r := range results {
		for _, c := range r.coupons {
			if filter.TestString(c.Code) {
				if _, ok := seen[c.Code]; ok {
					dups++
					continue
				}
			}
			filter.AddString(c.Code)
			seen[c.Code] = struct{}{}
			out = append(out, c)
		}
	}
	return out, dups
}

// forEachLimit runs fn for every index in [0, n) with at most limit
// concurrent calls, stopping at the first error.
func forEachLimit(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) error) error {
	if limit < 1 {
		limit = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range n {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error { return fn(ctx, i) })
	}
	return g.Wait()
}
