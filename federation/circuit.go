package federation

import (
	"sync"
	"time"

	"github.com/NebulousLabs/fastrand"
)

// circuitState tracks one peer's rolling failure count and open/closed
// status, per spec §4.7. It is held in memory for the lifetime of the
// Fetcher. When the Fetcher has a database, it also records each outcome
// in db.FederationPeer's consecutive_failures column; it never writes the
// is_enabled column, and the breaker never reads either column.
type circuitState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// circuitBreaker tracks circuitState per peer endpoint.
type circuitBreaker struct {
	mu       sync.Mutex
	cfg      Config
	states   map[string]*circuitState
	nowFn    func() time.Time
	tripHook func(endpoint string)
}

func newCircuitBreaker(cfg Config) *circuitBreaker {
	return &circuitBreaker{
		cfg:    cfg,
		states: make(map[string]*circuitState),
		nowFn:  time.Now,
	}
}

// Allowed reports whether endpoint's circuit is currently closed (or its
// cooldown has elapsed).
func (cb *circuitBreaker) Allowed(endpoint string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st, ok := cb.states[endpoint]
	if !ok {
		return true
	}
	return !cb.nowFn().Before(st.openUntil)
}

// RecordSuccess closes the circuit and resets the counter. A single
// success is enough, per spec §4.7 ("A single success closes the circuit
// and resets counters").
func (cb *circuitBreaker) RecordSuccess(endpoint string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.states, endpoint)
}

// RecordFailure increments endpoint's consecutive-failure counter, opening
// the circuit with a jittered cooldown once circuit_threshold is reached.
// Returns true if this failure is the one that tripped the breaker open.
func (cb *circuitBreaker) RecordFailure(endpoint string) (tripped bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st, ok := cb.states[endpoint]
	if !ok {
		st = &circuitState{}
		cb.states[endpoint] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures < cb.cfg.CircuitThreshold {
		return false
	}
	st.openUntil = cb.nowFn().Add(jitteredCooldown(cb.cfg.CircuitCooldown, cb.cfg.JitterFactor))
	if cb.tripHook != nil {
		cb.tripHook(endpoint)
	}
	return true
}

// jitteredCooldown returns base ± jitterFactor*base, e.g. 30s ±50% yields
// a draw uniformly in [15s, 45s]. Jitter prevents every client whose
// breaker tripped at the same instant from re-probing the peer at the same
// instant, the thundering-herd scenario spec §4.7 calls out.
func jitteredCooldown(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	spread := int(float64(base) * jitterFactor)
	if spread <= 0 {
		return base
	}
	// fastrand.Intn(2*spread+1) draws uniformly from [0, 2*spread], shifted
	// to [-spread, +spread] so the result lands in base ± jitterFactor*base.
	offset := fastrand.Intn(2*spread+1) - spread
	d := base + time.Duration(offset)
	if d < 0 {
		return 0
	}
	return d
}
