package txretry

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/sanosuguru/go-class-booking/internal/domain/store"
)

// Policy は楽観的トランザクションの再試行ポリシー
type Policy struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultPolicy は既定の再試行ポリシー
var DefaultPolicy = Policy{
	Attempts: 25,
	Delay:    2 * time.Millisecond,
	MaxDelay: 100 * time.Millisecond,
}

// Do は attempt を store.ErrTxConflict が返る間だけ再試行する。
// onConflict は競合のたびに呼ばれる（nil 可）
func Do(ctx context.Context, p Policy, attempt func() error, onConflict func()) error {
	if p.Attempts == 0 {
		p = DefaultPolicy
	}
	return retry.Do(
		attempt,
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.Delay(p.Delay),
		retry.MaxDelay(p.MaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, store.ErrTxConflict)
		}),
		retry.OnRetry(func(uint, error) {
			if onConflict != nil {
				onConflict()
			}
		}),
	)
}
