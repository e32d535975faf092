package fetch

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiters hands out one token bucket per host so concurrent rows that
// point at the same site do not hammer it.
type hostLimiters struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

func newHostLimiters(rps float64, burst int) *hostLimiters {
	if burst < 1 {
		burst = 1
	}
	return &hostLimiters{
		m:     make(map[string]*rate.Limiter),
		limit: rate.Limit(rps),
		burst: burst,
	}
}

func (h *hostLimiters) wait(ctx context.Context, host string) error {
	if h.limit <= 0 {
		return ctx.Err()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")

	h.mu.Lock()
	l, ok := h.m[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.m[host] = l
	}
	h.mu.Unlock()

	return l.Wait(ctx)
}
