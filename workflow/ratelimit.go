package workflow

import (
	"context"

	"github.com/BaSui01/rheo/types"
)

// BlockingRateLimiter blocks until a call is permitted. *rate.Limiter
// satisfies it.
type BlockingRateLimiter interface {
	Wait(ctx context.Context) error
}

// LimitInvoker waits on limiter before every call to inv. A wait that cannot
// finish before ctx ends fails with RATE_LIMITED and inv is not called.
func LimitInvoker(inv Invoker, limiter BlockingRateLimiter) Invoker {
	return InvokerFunc(func(ctx context.Context, prompt string, history []Message) (string, error) {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", types.NewError(types.ErrRateLimited, "invoker rate limit wait exceeds deadline").
				WithCause(err).
				WithRetryable(true)
		}
		return inv.Invoke(ctx, prompt, history)
	})
}
