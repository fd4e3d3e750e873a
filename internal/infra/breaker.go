package infra

import (
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// banMarkers are substrings that indicate an upstream has started refusing
// us rather than merely failing. A ban-class failure burns two failure
// tokens so the breaker opens faster.
var banMarkers = []string{
	"banned", "blocked", "forbidden", "403", "429",
	"rate limit", "too many requests", "頻率", "访问频繁", "限流",
}

// IsBanError reports whether err looks like an upstream refusal or ban.
func IsBanError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range banMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// BreakerSet keeps one circuit breaker per data source. A source trips
// after three consecutive failures and stays open for the cooldown, then
// lets a single probe through.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	cooldown time.Duration
}

// NewBreakerSet creates a set with the given open-state cooldown.
func NewBreakerSet(cooldown time.Duration) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		cooldown: cooldown,
	}
}

func (s *BreakerSet) breaker(source string) *gobreaker.TwoStepCircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[source]; ok {
		return cb
	}
	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Timeout:     s.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	s.breakers[source] = cb
	return cb
}

// Allow asks whether source may be called. The returned report callback
// must be invoked with the call's outcome; it is safe to call once.
// When the breaker is open, Allow returns gobreaker.ErrOpenState.
func (s *BreakerSet) Allow(source string) (report func(err error), allowErr error) {
	cb := s.breaker(source)
	done, err := cb.Allow()
	if err != nil {
		return nil, err
	}
	return func(callErr error) {
		if callErr == nil {
			done(true)
			return
		}
		done(false)
		if IsBanError(callErr) {
			// Spend a second failure token so refusals trip the
			// breaker ahead of ordinary flakiness.
			if extra, err := cb.Allow(); err == nil {
				extra(false)
			}
		}
	}, nil
}

// State returns the current breaker state for source, for status reporting.
func (s *BreakerSet) State(source string) gobreaker.State {
	return s.breaker(source).State()
}
