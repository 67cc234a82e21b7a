package supervisor

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff computes retry delays: exponential growth with jitter, bounded by
// Cap. Delays are non-decreasing across consecutive failures and the caller
// resets to Base by passing failures=1 after a success.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64

	mu  sync.Mutex
	rng *rand.Rand
}

// jitterFrac bounds the random extension added to each delay. Keeping it
// under Factor-1 preserves monotonicity between consecutive attempts.
const jitterFrac = 0.2

func NewBackoff(base, cap time.Duration, factor float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = base
	}
	if factor < 1.5 {
		factor = 2
	}
	return &Backoff{
		Base:   base,
		Cap:    cap,
		Factor: factor,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before retry number `failures` (1-based).
func (b *Backoff) Next(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}

	raw := float64(b.Base) * math.Pow(b.Factor, float64(failures-1))
	if raw > float64(b.Cap) {
		raw = float64(b.Cap)
	}

	b.mu.Lock()
	raw *= 1 + jitterFrac*b.rng.Float64()
	b.mu.Unlock()

	d := time.Duration(raw)
	if d > b.Cap {
		d = b.Cap
	}
	return d
}
