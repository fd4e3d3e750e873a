package infra

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateGate throttles calls to one upstream. Every Wait sleeps a random
// jitter in [sleepMin, sleepMax] so request timing never looks mechanical,
// and an optional per-minute token bucket enforces hard API quotas on top.
type RateGate struct {
	sleepMin time.Duration
	sleepMax time.Duration
	limiter  *rate.Limiter

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRateGate builds a gate with the given jitter bounds. perMinute <= 0
// disables the quota bucket and leaves only the jitter.
func NewRateGate(sleepMin, sleepMax time.Duration, perMinute int) *RateGate {
	g := &RateGate{
		sleepMin: sleepMin,
		sleepMax: sleepMax,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if g.sleepMax < g.sleepMin {
		g.sleepMax = g.sleepMin
	}
	if perMinute > 0 {
		// Burst 1 spaces calls evenly at minute/perMinute, so any rolling
		// 60-second window carries at most perMinute calls. A burst-sized
		// bucket would admit up to twice the quota inside one window.
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return g
}

// Wait blocks until the caller may issue a request, or ctx is cancelled.
func (g *RateGate) Wait(ctx context.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	d := g.jitter()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *RateGate) jitter() time.Duration {
	if g.sleepMax <= g.sleepMin {
		return g.sleepMin
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sleepMin + time.Duration(g.rng.Int63n(int64(g.sleepMax-g.sleepMin)))
}
