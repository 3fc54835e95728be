package go_netdbreq

import (
	"context"

	"github.com/go-i2p/logger"
)

// ManageRequests advances every lookup in flight. It is meant to run every
// ManageInterval from a single goroutine:
//   - a lookup older than its lifetime ceiling expires,
//   - a lookup whose last attempt is AttemptTimeout old is sent to the next
//     floodfill, or fails once MaxAttempts floodfills have been tried,
//   - anything else is left alone.
//
// Pooled exclusion snapshots are released every PoolCleanupInterval.
func (m *RequestManager) ManageRequests() {
	now := m.clock.Now()

	var expired, exhausted, due []*LookupRequest
	m.mu.Lock()
	for dest, req := range m.active {
		if now.Sub(req.CreationTime()) >= m.config.lifetime(req.IsExploratory()) {
			expired = append(expired, req)
			delete(m.active, dest)
			continue
		}
		if now.Sub(req.LastRequestTime()) < m.config.AttemptTimeout {
			continue
		}
		if req.ExcludedPeerCount() < m.config.MaxAttempts {
			due = append(due, req)
			continue
		}
		exhausted = append(exhausted, req)
		delete(m.active, dest)
	}
	cleanupDue := now.Sub(m.lastCleanup) >= m.config.PoolCleanupInterval
	if cleanupDue {
		m.lastCleanup = now
	}
	n := len(m.active)
	m.mu.Unlock()

	if len(expired) > 0 || len(exhausted) > 0 {
		m.metrics.Load().ActiveRequests.Set(float64(n))
	}
	for _, req := range expired {
		m.finishRequest(req, nil, LookupExpired, ErrLifetimeExceeded)
	}
	for _, req := range exhausted {
		m.finishRequest(req, nil, LookupFailed, ErrAttemptTimeout)
	}
	for _, req := range due {
		m.SendNextRequest(req)
	}

	if cleanupDue {
		released := m.pool.CleanUp()
		log.WithFields(logger.Fields{
			"at":       "(RequestManager) ManageRequests",
			"reason":   "pool cleanup interval elapsed",
			"released": released,
		}).Debug("released pooled exclusion snapshots")
	}

	if len(expired)+len(exhausted)+len(due) > 0 {
		log.WithFields(logger.Fields{
			"at":        "(RequestManager) ManageRequests",
			"expired":   len(expired),
			"exhausted": len(exhausted),
			"retried":   len(due),
			"active":    n,
		}).Debug("managed lookups")
	}
}

// Start begins running ManageRequests every ManageInterval. Calling Start
// on a running manager does nothing; a stopped manager accepts lookups again
// with a closed transport breaker.
func (m *RequestManager) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.running {
		return
	}

	if m.dispatch.Load().Stopped() {
		m.dispatch.Store(newDispatcher(m.config.DispatchWorkers))
		m.breaker.Reset()
	}
	m.mu.Lock()
	m.stopped = false
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.maintWg.Add(1)
	go m.maintenanceLoop(ctx)

	log.WithFields(logger.Fields{
		"at":              "(RequestManager) Start",
		"manage_interval": m.config.ManageInterval,
		"attempt_timeout": m.config.AttemptTimeout,
		"max_attempts":    m.config.MaxAttempts,
	}).Info("started netdb request manager")
}

// Stop ends maintenance, fails every lookup still in flight and waits for
// queued sends. Lookups created afterwards fail immediately until Start is
// called again.
func (m *RequestManager) Stop() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.running {
		m.cancel()
		m.maintWg.Wait()
		m.running = false
	}

	m.mu.Lock()
	pending := m.active
	m.active = make(map[IdentityHash]*LookupRequest)
	m.stopped = true
	m.mu.Unlock()

	m.metrics.Load().ActiveRequests.Set(0)
	for _, req := range pending {
		m.finishRequest(req, nil, LookupFailed, ErrManagerStopped)
	}
	m.dispatch.Load().Stop()

	log.WithFields(logger.Fields{
		"at":      "(RequestManager) Stop",
		"reason":  "shutdown requested",
		"pending": len(pending),
	}).Info("stopped netdb request manager")
}

// Running reports whether the maintenance loop is active.
func (m *RequestManager) Running() bool {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	return m.running
}

func (m *RequestManager) maintenanceLoop(ctx context.Context) {
	defer m.maintWg.Done()

	t := m.newTicker(m.config.ManageInterval)
	t.Resume()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.WithFields(logger.Fields{
				"at":     "(RequestManager) maintenanceLoop",
				"reason": "received shutdown signal",
			}).Debug("maintenance loop stopped")
			return
		case <-t.Ticks():
			m.ManageRequests()
		}
	}
}
