package go_netdbreq

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LookupOutcome describes how a finished lookup ended.
type LookupOutcome struct {
	Destination IdentityHash
	State       LookupState
	Exploratory bool
	Attempts    int // Floodfills tried or excluded
	Started     time.Time
	Finished    time.Time
}

// Duration returns how long the lookup was in flight.
func (o LookupOutcome) Duration() time.Duration {
	return o.Finished.Sub(o.Started)
}

func (o LookupOutcome) String() string {
	return fmt.Sprintf("%s %s after %d attempts in %v", shortHash(o.Destination), o.State, o.Attempts, o.Duration())
}

// outcomeCache remembers the latest outcome per destination for a bounded
// number of destinations and a bounded time.
type outcomeCache struct {
	cache *lru.Cache[IdentityHash, LookupOutcome]
	ttl   time.Duration
}

func newOutcomeCache(size int, ttl time.Duration) *outcomeCache {
	if size <= 0 {
		return &outcomeCache{}
	}
	cache, err := lru.New[IdentityHash, LookupOutcome](size)
	if err != nil {
		log.WithError(err).Warn("recent lookup outcomes disabled")
		return &outcomeCache{}
	}
	return &outcomeCache{cache: cache, ttl: ttl}
}

func (c *outcomeCache) record(o LookupOutcome) {
	if c.cache == nil {
		return
	}
	c.cache.Add(o.Destination, o)
}

func (c *outcomeCache) get(dest IdentityHash, now time.Time) (LookupOutcome, bool) {
	if c.cache == nil {
		return LookupOutcome{}, false
	}
	o, ok := c.cache.Get(dest)
	if !ok {
		return LookupOutcome{}, false
	}
	if c.ttl > 0 && now.Sub(o.Finished) > c.ttl {
		c.cache.Remove(dest)
		return LookupOutcome{}, false
	}
	return o, true
}

func (c *outcomeCache) len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// requestCounters tracks lifetime totals for Stats.
type requestCounters struct {
	created           uint64
	resolved          uint64
	failed            uint64
	expired           uint64
	attempts          uint64
	noPeer            uint64
	replyPathFailures uint64
	buildFailures     uint64
	sendErrors        uint64
	lateResponses     uint64
}

func (c *requestCounters) completed(state LookupState) {
	switch state {
	case LookupResolved:
		atomic.AddUint64(&c.resolved, 1)
	case LookupExpired:
		atomic.AddUint64(&c.expired, 1)
	default:
		atomic.AddUint64(&c.failed, 1)
	}
}

// ManagerStats is a point-in-time view of the request manager.
type ManagerStats struct {
	Active            int
	Pending           int // Active lookups with no query sent yet
	Created           uint64
	Resolved          uint64
	Failed            uint64
	Expired           uint64
	Attempts          uint64
	NoPeerAvailable   uint64
	ReplyPathFailures uint64
	BuildFailures     uint64
	SendErrors        uint64
	LateResponses     uint64
	RecentOutcomes    int
	LastCleanup       time.Time
	Pool              PoolStats
	Transport         BreakerState
	TransportFailures int    // Consecutive send errors seen by the breaker
	Dispatched        uint64 // Sends queued since the last Start
	Sent              uint64 // Queued sends that have run
}

func (c *requestCounters) fill(s *ManagerStats) {
	s.Created = atomic.LoadUint64(&c.created)
	s.Resolved = atomic.LoadUint64(&c.resolved)
	s.Failed = atomic.LoadUint64(&c.failed)
	s.Expired = atomic.LoadUint64(&c.expired)
	s.Attempts = atomic.LoadUint64(&c.attempts)
	s.NoPeerAvailable = atomic.LoadUint64(&c.noPeer)
	s.ReplyPathFailures = atomic.LoadUint64(&c.replyPathFailures)
	s.BuildFailures = atomic.LoadUint64(&c.buildFailures)
	s.SendErrors = atomic.LoadUint64(&c.sendErrors)
	s.LateResponses = atomic.LoadUint64(&c.lateResponses)
}

// String returns a one-line summary for log output.
func (s ManagerStats) String() string {
	return fmt.Sprintf(
		"NetDB Requests: active=%d pending=%d created=%d resolved=%d failed=%d expired=%d attempts=%d no_peer=%d reply_path_failures=%d build_failures=%d send_errors=%d late=%d pooled=%d transport=%s transport_failures=%d dispatched=%d sent=%d",
		s.Active, s.Pending, s.Created, s.Resolved, s.Failed, s.Expired, s.Attempts,
		s.NoPeerAvailable, s.ReplyPathFailures, s.BuildFailures, s.SendErrors, s.LateResponses, s.Pool.Pooled, s.Transport,
		s.TransportFailures, s.Dispatched, s.Sent,
	)
}
