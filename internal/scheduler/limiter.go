package scheduler

import (
	"context"
	"sync"
)

// limiter enforces the two admission caps with buffered channels: a send
// acquires a slot, a receive releases it. Per-provider channels are created
// lazily on first use.
type limiter struct {
	global chan struct{}
	perMax int

	mu          sync.Mutex
	perProvider map[string]chan struct{}
}

func newLimiter(globalMax, perProviderMax int) *limiter {
	return &limiter{
		global:      make(chan struct{}, globalMax),
		perMax:      perProviderMax,
		perProvider: map[string]chan struct{}{},
	}
}

func (l *limiter) providerSlots(provider string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.perProvider[provider]
	if !ok {
		ch = make(chan struct{}, l.perMax)
		l.perProvider[provider] = ch
	}
	return ch
}

func (l *limiter) acquireGlobal(ctx context.Context) error {
	select {
	case l.global <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limiter) releaseGlobal() {
	<-l.global
}

func (l *limiter) acquireProvider(ctx context.Context, provider string) error {
	select {
	case l.providerSlots(provider) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limiter) releaseProvider(provider string) {
	<-l.providerSlots(provider)
}
