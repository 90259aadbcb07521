package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}

// PingCheck adapts a store or broker ping to a CheckFunc.
func PingCheck(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// SaturationCheck fails when load reports a fill ratio at or above limit.
// It guards bounded queues whose producers would otherwise start dropping
// work.
func SaturationCheck(load func() float64, limit float64) CheckFunc {
	return func(context.Context) error {
		if v := load(); v >= limit {
			return errors.Errorf("queue %.0f%% full, limit %.0f%%", v*100, limit*100)
		}
		return nil
	}
}
