package go_netdbreq

import (
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// BreakerState represents the current state of the transport breaker.
type BreakerState string

const (
	// BreakerClosed means lookups are handed to the transport normally.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen means sends fail fast because the transport kept failing.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen means one send is let through to test the transport.
	BreakerHalfOpen BreakerState = "half-open"
)

// transportBreaker stops handing lookups to a transport that keeps failing.
// After maxFailures consecutive send errors every send fails fast with
// ErrTransportUnavailable until resetTimeout has passed; then a single send
// is let through and its result decides whether the breaker closes again.
//
// A failed-fast send still spends the attempt, so a lookup behind an open
// breaker moves on to the next floodfill at the usual pace.
type transportBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	clock        clock.Clock

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       BreakerState
	probing     bool
}

// newTransportBreaker returns a closed breaker. maxFailures <= 0 never opens.
func newTransportBreaker(maxFailures int, resetTimeout time.Duration, clk clock.Clock) *transportBreaker {
	return &transportBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		clock:        clk,
		state:        BreakerClosed,
	}
}

// Execute runs send if the breaker allows it and records the result.
func (b *transportBreaker) Execute(send func() error) error {
	if err := b.beforeSend(); err != nil {
		return err
	}
	err := send()
	b.afterSend(err)
	return err
}

func (b *transportBreaker) beforeSend() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		since := b.clock.Now().Sub(b.lastFailure)
		if since < b.resetTimeout {
			return fmt.Errorf("%w: breaker open (last failure %v ago)", ErrTransportUnavailable, since.Round(time.Second))
		}
		b.state = BreakerHalfOpen
		b.probing = true
		log.WithField("at", "(transportBreaker) beforeSend").Debug("transport breaker half-open")
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return fmt.Errorf("%w: breaker probing", ErrTransportUnavailable)
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *transportBreaker) afterSend(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		if b.state == BreakerHalfOpen {
			log.WithField("at", "(transportBreaker) afterSend").Info("transport breaker closed")
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.clock.Now()
	switch b.state {
	case BreakerClosed:
		if b.maxFailures > 0 && b.failures >= b.maxFailures {
			b.state = BreakerOpen
			log.WithField("failures", b.failures).Warn("transport breaker opened")
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		log.WithField("at", "(transportBreaker) afterSend").Debug("transport breaker re-opened")
	}
}

// State returns the current breaker state.
func (b *transportBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *transportBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset closes the breaker and clears its failure count.
func (b *transportBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

func (b *transportBreaker) setClock(clk clock.Clock) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock = clk
}
