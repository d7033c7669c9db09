package pool

import (
	"sync"
	"time"
)

const (
	// DefaultAuthFailureThreshold is the number of consecutive authentication
	// failures after which passes stop retrying a device.
	DefaultAuthFailureThreshold = 3

	authInitialBlock = 5 * time.Minute
	authMaxBlock     = time.Hour
)

// authGuard keeps reconcile passes from hammering a device with credentials
// it keeps rejecting. After threshold consecutive failures the hostname is
// blocked for an escalating cooldown (doubling, capped). Any success or an
// operator AddOrUpdate/Remove clears the state.
type authGuard struct {
	threshold int

	mu     sync.Mutex
	states map[string]*authState
}

type authState struct {
	consecutiveFailures int
	blockedUntil        time.Time
	blockDuration       time.Duration
}

func newAuthGuard(threshold int) *authGuard {
	return &authGuard{threshold: threshold, states: make(map[string]*authState)}
}

// blocked returns how long host stays blocked at now, and the failure count.
func (g *authGuard) blocked(host string, now time.Time) (time.Duration, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[host]
	if !ok || st.blockedUntil.IsZero() || !now.Before(st.blockedUntil) {
		return 0, 0
	}
	return st.blockedUntil.Sub(now), st.consecutiveFailures
}

// until returns the end of host's current block, or the zero time.
func (g *authGuard) until(host string, now time.Time) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[host]
	if !ok || !now.Before(st.blockedUntil) {
		return time.Time{}
	}
	return st.blockedUntil
}

// recordFailure counts an authentication failure and returns the new block
// duration, or zero when the threshold has not been reached.
func (g *authGuard) recordFailure(host string, now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[host]
	if !ok {
		st = &authState{}
		g.states[host] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures < g.threshold {
		return 0
	}

	if st.blockDuration == 0 {
		st.blockDuration = authInitialBlock
	} else {
		st.blockDuration *= 2
		if st.blockDuration > authMaxBlock {
			st.blockDuration = authMaxBlock
		}
	}
	st.blockedUntil = now.Add(st.blockDuration)
	return st.blockDuration
}

func (g *authGuard) reset(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, host)
}
