package go_netdbreq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

// RequestManager tracks every NetDB lookup in flight and guarantees at most
// one lookup per destination.
//
// The active map has its own lock; each LookupRequest locks its exclusion
// set independently, so a slow lookup never blocks bookkeeping for others.
// A lookup ends exactly once: whichever path removes it from the map under
// the lock runs its callbacks, outside the lock.
type RequestManager struct {
	config Config
	clock  clock.Clock
	self   IdentityHash

	selector   PeerSelector
	builder    MessageBuilder
	transport  Transport
	replyPaths ReplyPathProvider

	mu          sync.RWMutex
	active      map[IdentityHash]*LookupRequest
	lastCleanup time.Time
	stopped     bool

	pool     *exclusionPool
	breaker  *transportBreaker
	dispatch atomic.Pointer[dispatcher]
	metrics  atomic.Pointer[Metrics]
	outcomes *outcomeCache
	counters requestCounters

	lifecycleMu sync.Mutex
	newTicker   func(time.Duration) ticker.Ticker
	running     bool
	cancel      context.CancelFunc
	maintWg     sync.WaitGroup
}

// NewRequestManager creates a manager that selects floodfills with selector,
// builds lookups with builder and sends them with transport.
func NewRequestManager(cfg Config, selector PeerSelector, builder MessageBuilder, transport Transport) (*RequestManager, error) {
	if selector == nil || builder == nil || transport == nil {
		return nil, ErrInvalidArgument
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics := NopMetrics()
	if cfg.MetricsNamespace != "" {
		var err error
		if metrics, err = PrometheusMetricsWith(cfg.MetricsRegisterer, cfg.MetricsNamespace); err != nil {
			return nil, err
		}
	}
	clk := clock.NewDefaultClock()
	m := &RequestManager{
		config:      cfg,
		clock:       clk,
		self:        cfg.localIdentity(),
		selector:    selector,
		builder:     builder,
		transport:   transport,
		active:      make(map[IdentityHash]*LookupRequest),
		lastCleanup: clk.Now(),
		pool:        newExclusionPool(0),
		breaker:     newTransportBreaker(cfg.TransportFailures, cfg.TransportResetTimeout, clk),
		outcomes:    newOutcomeCache(cfg.RecentOutcomes, cfg.RecentOutcomeTTL),
		newTicker:   newManageTicker,
	}
	m.pool.SetEnabled(!cfg.DisablePooling)
	m.dispatch.Store(newDispatcher(cfg.DispatchWorkers))
	m.metrics.Store(metrics)
	return m, nil
}

func newManageTicker(interval time.Duration) ticker.Ticker {
	return ticker.New(interval)
}

// SetReplyPathProvider sets where non-direct lookups get their reply tunnels.
// Without one every non-direct attempt fails with ErrReplyPathUnavailable.
func (m *RequestManager) SetReplyPathProvider(provider ReplyPathProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyPaths = provider
}

// SetMetrics replaces the metrics sink. nil restores NopMetrics.
func (m *RequestManager) SetMetrics(metrics *Metrics) {
	if metrics == nil {
		metrics = NopMetrics()
	}
	m.metrics.Store(metrics)
}

// SetClock replaces the time source. Must be called before any lookup is created.
func (m *RequestManager) SetClock(clk clock.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clk
	m.lastCleanup = clk.Now()
	m.breaker.setClock(clk)
}

// SetLocalIdentity sets the local router hash, which is never queried or excluded.
// Must be called before any lookup is created.
func (m *RequestManager) SetLocalIdentity(self IdentityHash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = self
}

// CreateRequest returns the lookup for destination, creating it if none is
// in flight. created is false when an existing lookup was returned; its
// onComplete is then added to the lookup's subscribers so every caller is
// notified. After Stop the returned lookup has already failed.
func (m *RequestManager) CreateRequest(destination IdentityHash, isExploratory, isDirect bool, onComplete RequestCompleteFunc) (req *LookupRequest, created bool) {
	m.mu.Lock()
	if existing, ok := m.active[destination]; ok {
		m.mu.Unlock()
		existing.Subscribe(onComplete)
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) CreateRequest",
			"destination": shortHash(destination),
			"reason":      "lookup already in flight",
		}).Debug("joined existing lookup")
		return existing, false
	}

	req = newLookupRequest(destination, isExploratory, isDirect, m.clock, m.self)
	req.SetRequestComplete(onComplete)

	var refuse error
	switch {
	case m.stopped:
		refuse = ErrManagerStopped
	case isZeroHash(destination):
		refuse = ErrInvalidArgument
	}
	if refuse != nil {
		m.mu.Unlock()
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) CreateRequest",
			"destination": shortHash(destination),
			"reason":      refuse.Error(),
		}).Warn("refusing lookup")
		m.finishRequest(req, nil, LookupFailed, refuse)
		return req, false
	}

	m.active[destination] = req
	req.managed.Store(true)
	n := len(m.active)
	m.mu.Unlock()

	atomic.AddUint64(&m.counters.created, 1)
	metrics := m.metrics.Load()
	metrics.CreatedRequests.Add(1)
	metrics.ActiveRequests.Set(float64(n))
	log.WithFields(logger.Fields{
		"at":          "(RequestManager) CreateRequest",
		"destination": shortHash(destination),
		"exploratory": isExploratory,
		"direct":      isDirect,
		"active":      n,
	}).Debug("created lookup")
	return req, true
}

// RequestDestination creates a lookup and, if it is new, sends the first
// query right away instead of waiting for the next maintenance pass.
func (m *RequestManager) RequestDestination(destination IdentityHash, isExploratory, isDirect bool, onComplete RequestCompleteFunc) *LookupRequest {
	req, created := m.CreateRequest(destination, isExploratory, isDirect, onComplete)
	if created {
		m.SendNextRequest(req)
	}
	return req
}

// RequestComplete ends the lookup for destination with record, or as failed
// when record is nil. A response for a destination not in flight is ignored.
func (m *RequestManager) RequestComplete(destination IdentityHash, record *RouterRecord) {
	m.mu.Lock()
	req, ok := m.active[destination]
	if ok {
		delete(m.active, destination)
	}
	n := len(m.active)
	m.mu.Unlock()

	if !ok {
		atomic.AddUint64(&m.counters.lateResponses, 1)
		m.metrics.Load().LateResponses.Add(1)
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) RequestComplete",
			"destination": shortHash(destination),
			"reason":      "no lookup in flight",
		}).Debug("ignoring late response")
		return
	}
	m.metrics.Load().ActiveRequests.Set(float64(n))

	if record != nil {
		m.finishRequest(req, record, LookupResolved, nil)
		return
	}
	m.finishRequest(req, nil, LookupFailed, nil)
}

// FindRequest returns the lookup in flight for destination.
func (m *RequestManager) FindRequest(destination IdentityHash) (*LookupRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.active[destination]
	return req, ok
}

// ActiveCount returns the number of lookups in flight.
func (m *RequestManager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// HandleSearchReply handles a floodfill answering that it does not know
// destination. The floodfill is excluded and, if attempts remain, the next
// one is queried at once; otherwise the lookup fails.
func (m *RequestManager) HandleSearchReply(destination, from IdentityHash) bool {
	req, ok := m.FindRequest(destination)
	if !ok {
		atomic.AddUint64(&m.counters.lateResponses, 1)
		m.metrics.Load().LateResponses.Add(1)
		return false
	}
	req.ExcludePeer(from)
	if req.ExcludedPeerCount() < m.config.MaxAttempts {
		return m.SendNextRequest(req)
	}
	m.completeIfActive(req, nil, LookupFailed, ErrAttemptTimeout)
	return false
}

// SendNextRequest queries the next floodfill for req. It returns whether a
// query was handed to the transport. When no floodfill is left the lookup
// fails immediately; a missing reply path or a build error only spends the
// attempt.
func (m *RequestManager) SendNextRequest(req *LookupRequest) bool {
	if req == nil || req.State().IsTerminal() {
		return false
	}
	metrics := m.metrics.Load()

	peer, err := m.selectFloodfill(req)
	if err != nil {
		atomic.AddUint64(&m.counters.noPeer, 1)
		metrics.NoPeerAvailable.Add(1)
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) SendNextRequest",
			"destination": shortHash(req.Destination()),
			"excluded":    req.ExcludedPeerCount(),
			"reason":      "floodfills exhausted",
		}).Warn("no floodfill available for lookup")
		m.completeIfActive(req, nil, LookupFailed, err)
		return false
	}

	var msg *LookupMessage
	if req.IsDirect() {
		msg, err = req.BuildDirectQueryMessage(m.builder, peer)
	} else {
		path, pathErr := m.replyPath(req.Destination(), peer)
		if pathErr != nil {
			log.WithError(pathErr).Debug("no reply path for lookup")
		}
		msg, err = req.BuildQueryMessage(m.builder, peer, path)
	}
	if err != nil {
		if errors.Is(err, ErrReplyPathUnavailable) {
			atomic.AddUint64(&m.counters.replyPathFailures, 1)
			metrics.ReplyPathFailures.Add(1)
		} else {
			atomic.AddUint64(&m.counters.buildFailures, 1)
			metrics.BuildFailures.Add(1)
		}
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) SendNextRequest",
			"destination": shortHash(req.Destination()),
			"peer":        shortHash(peer),
			"error":       err.Error(),
			"reason":      "attempt spent without sending",
		}).Warn("could not build lookup")
		return false
	}

	transport, breaker := m.transport, m.breaker
	err = m.dispatch.Load().Submit(func() {
		sendErr := breaker.Execute(func() error {
			return transport.Send(peer, msg)
		})
		if sendErr != nil {
			atomic.AddUint64(&m.counters.sendErrors, 1)
			m.metrics.Load().SendErrors.Add(1)
			log.WithError(wrapCollaboratorError(sendErr, ErrSendFailed, req.Destination(), peer, "send lookup")).
				Warn("failed to send lookup")
		}
	})
	if err != nil {
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) SendNextRequest",
			"destination": shortHash(req.Destination()),
			"reason":      "dispatcher stopped",
		}).Debug("dropping lookup")
		return false
	}

	atomic.AddUint64(&m.counters.attempts, 1)
	metrics.Attempts.Add(1)
	log.WithFields(logger.Fields{
		"at":          "(RequestManager) SendNextRequest",
		"destination": shortHash(req.Destination()),
		"peer":        shortHash(peer),
		"attempt":     req.ExcludedPeerCount(),
		"direct":      req.IsDirect(),
	}).Debug("sent lookup")
	return true
}

// selectFloodfill asks the selector for a floodfill not yet excluded for req.
// Results that are already excluded or name the local router are skipped.
func (m *RequestManager) selectFloodfill(req *LookupRequest) (IdentityHash, error) {
	excluded := m.pool.Get()
	defer m.pool.Put(excluded)
	req.snapshotExcluded(excluded)
	if !isZeroHash(m.self) {
		excluded[m.self] = struct{}{}
	}

	for round := 0; round < maxSelectRounds; round++ {
		peer, ok := m.selector.SelectNextFloodfill(req.Destination(), excluded)
		if !ok || isZeroHash(peer) {
			break
		}
		if !excluded.Contains(peer) && !req.IsExcluded(peer) {
			return peer, nil
		}
		excluded[peer] = struct{}{}
		log.WithFields(logger.Fields{
			"at":          "(RequestManager) selectFloodfill",
			"destination": shortHash(req.Destination()),
			"peer":        shortHash(peer),
			"round":       round + 1,
		}).Debug("selector returned excluded floodfill")
	}
	return IdentityHash{}, NewLookupError(req.Destination(), "select floodfill", ErrNoPeerAvailable)
}

func (m *RequestManager) replyPath(destination, peer IdentityHash) (*ReplyPath, error) {
	m.mu.RLock()
	provider := m.replyPaths
	m.mu.RUnlock()
	if provider == nil {
		return nil, ErrReplyPathUnavailable
	}
	path, err := provider.ReplyPath()
	if err != nil {
		return nil, wrapCollaboratorError(err, ErrReplyPathUnavailable, destination, peer, "reply path")
	}
	if path == nil {
		return nil, ErrReplyPathUnavailable
	}
	return path, nil
}

// completeIfActive removes req from the active map and ends it. A lookup
// that was in the map but has already been removed is left to whichever
// path removed it.
func (m *RequestManager) completeIfActive(req *LookupRequest, record *RouterRecord, state LookupState, reason error) {
	m.mu.Lock()
	removed := m.active[req.Destination()] == req
	if removed {
		delete(m.active, req.Destination())
	}
	n := len(m.active)
	m.mu.Unlock()

	if !removed && req.managed.Load() {
		return
	}
	m.metrics.Load().ActiveRequests.Set(float64(n))
	m.finishRequest(req, record, state, reason)
}

// finishRequest runs req's completion for state and records the outcome.
func (m *RequestManager) finishRequest(req *LookupRequest, record *RouterRecord, state LookupState, reason error) {
	var won bool
	switch state {
	case LookupResolved:
		won = req.Succeed(record)
	case LookupExpired:
		won = req.expire()
	default:
		won = req.Fail()
	}
	if !won {
		return
	}

	now := m.clock.Now()
	m.counters.completed(state)
	m.metrics.Load().observeCompletion(state, now.Sub(req.CreationTime()).Seconds())
	m.outcomes.record(LookupOutcome{
		Destination: req.Destination(),
		State:       state,
		Exploratory: req.IsExploratory(),
		Attempts:    req.ExcludedPeerCount(),
		Started:     req.CreationTime(),
		Finished:    now,
	})

	fields := logger.Fields{
		"at":          "(RequestManager) finishRequest",
		"destination": shortHash(req.Destination()),
		"state":       state.String(),
		"attempts":    req.ExcludedPeerCount(),
		"age":         now.Sub(req.CreationTime()),
	}
	if reason != nil {
		fields["reason"] = reason.Error()
	}
	if state == LookupResolved {
		log.WithFields(fields).Debug("lookup resolved")
		return
	}
	log.WithFields(fields).Info("lookup ended without a record")
}

// RecentOutcome returns how the latest finished lookup for destination
// ended, if it finished within RecentOutcomeTTL.
func (m *RequestManager) RecentOutcome(destination IdentityHash) (LookupOutcome, bool) {
	return m.outcomes.get(destination, m.clock.Now())
}

// Stats returns a snapshot of manager counters.
func (m *RequestManager) Stats() ManagerStats {
	var s ManagerStats
	m.mu.RLock()
	s.Active = len(m.active)
	for _, req := range m.active {
		if req.State() == LookupPending {
			s.Pending++
		}
	}
	s.LastCleanup = m.lastCleanup
	m.mu.RUnlock()
	m.counters.fill(&s)
	s.RecentOutcomes = m.outcomes.len()
	s.Pool = m.pool.Stats()
	s.Transport = m.breaker.State()
	s.TransportFailures = m.breaker.Failures()
	s.Dispatched, s.Sent = m.dispatch.Load().Counts()
	return s
}

// Flush blocks until every lookup dispatched so far has been handed to the transport.
func (m *RequestManager) Flush() {
	m.dispatch.Load().Flush()
}
