package go_netdbreq

import (
	"bytes"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/logger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/samber/lo"
)

// LookupState is the progress of a lookup as seen by the request manager.
type LookupState int32

const (
	LookupPending  LookupState = iota // Created, no query sent yet
	LookupActive                      // At least one query sent
	LookupResolved                    // Record received
	LookupFailed                      // Attempts or floodfills exhausted
	LookupExpired                     // Lifetime ceiling reached
)

func (s LookupState) String() string {
	switch s {
	case LookupPending:
		return "pending"
	case LookupActive:
		return "active"
	case LookupResolved:
		return "resolved"
	case LookupFailed:
		return "failed"
	case LookupExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the lookup has ended.
func (s LookupState) IsTerminal() bool {
	return s >= LookupResolved
}

// LookupRequest is one in-flight resolution of an identity hash.
//
// The exclusion set has its own lock so response handlers can report
// failed peers while the maintenance pass reads it. Completion is decided
// by a single compare-and-swap; callbacks run at most once.
type LookupRequest struct {
	destination   IdentityHash
	self          IdentityHash // local router, never excluded
	isExploratory bool
	isDirect      bool
	clock         clock.Clock

	isActive atomic.Bool
	managed  atomic.Bool // inserted into a RequestManager's active map

	excludedMu    sync.RWMutex
	excluded      map[IdentityHash]struct{}
	excludedCount atomic.Int64

	creationTime time.Time
	// lastRequestOffset is lastRequestTime minus creationTime, in nanoseconds.
	lastRequestOffset atomic.Int64

	finished atomic.Bool
	state    atomic.Int32 // terminal state once finished

	cbMu      sync.Mutex
	callbacks []RequestCompleteFunc
	closed    bool
	result    *RouterRecord
	done      chan struct{}
}

// NewLookupRequest creates a pending lookup for destination using the wall clock.
func NewLookupRequest(destination IdentityHash, isExploratory, isDirect bool) *LookupRequest {
	return newLookupRequest(destination, isExploratory, isDirect, clock.NewDefaultClock(), IdentityHash{})
}

func newLookupRequest(destination IdentityHash, isExploratory, isDirect bool, clk clock.Clock, self IdentityHash) *LookupRequest {
	return &LookupRequest{
		destination:   destination,
		self:          self,
		isExploratory: isExploratory,
		isDirect:      isDirect,
		clock:         clk,
		excluded:      make(map[IdentityHash]struct{}),
		creationTime:  clk.Now(),
		done:          make(chan struct{}),
	}
}

// Destination returns the key being resolved.
func (r *LookupRequest) Destination() IdentityHash { return r.destination }

// IsExploratory reports whether this is a random-walk discovery lookup.
func (r *LookupRequest) IsExploratory() bool { return r.isExploratory }

// IsDirect reports whether replies come straight to the local router
// instead of through a reply tunnel.
func (r *LookupRequest) IsDirect() bool { return r.isDirect }

// IsActive reports whether at least one query has been built for this lookup.
func (r *LookupRequest) IsActive() bool { return r.isActive.Load() }

// CreationTime returns when the lookup was created.
func (r *LookupRequest) CreationTime() time.Time { return r.creationTime }

// LastRequestTime returns when the latest attempt was made, or the
// creation time if none was.
func (r *LookupRequest) LastRequestTime() time.Time {
	return r.creationTime.Add(time.Duration(r.lastRequestOffset.Load()))
}

// State returns the current lookup state.
func (r *LookupRequest) State() LookupState {
	if s := LookupState(r.state.Load()); s.IsTerminal() {
		return s
	}
	if r.isActive.Load() {
		return LookupActive
	}
	return LookupPending
}

func (r *LookupRequest) touch(now time.Time) {
	offset := now.Sub(r.creationTime)
	if offset < 0 {
		offset = 0
	}
	r.lastRequestOffset.Store(int64(offset))
}

// ExcludedPeerCount returns the size of the exclusion set without locking.
func (r *LookupRequest) ExcludedPeerCount() int {
	return int(r.excludedCount.Load())
}

// ExcludedPeers returns a sorted copy of the exclusion set.
func (r *LookupRequest) ExcludedPeers() []IdentityHash {
	r.excludedMu.RLock()
	peers := lo.Keys(r.excluded)
	r.excludedMu.RUnlock()
	slices.SortFunc(peers, func(a, b IdentityHash) int {
		return bytes.Compare(a[:], b[:])
	})
	return peers
}

// ClearExcludedPeers empties the exclusion set so the lookup can start over
// from the closest floodfills.
func (r *LookupRequest) ClearExcludedPeers() {
	r.excludedMu.Lock()
	clear(r.excluded)
	r.excludedCount.Store(0)
	r.excludedMu.Unlock()
}

// IsExcluded reports whether peer has already been tried or reported unusable.
func (r *LookupRequest) IsExcluded(peer IdentityHash) bool {
	r.excludedMu.RLock()
	defer r.excludedMu.RUnlock()
	_, ok := r.excluded[peer]
	return ok
}

// ExcludePeer adds peer to the exclusion set. The local router and the zero
// hash are never added. Returns true if the set grew.
func (r *LookupRequest) ExcludePeer(peer IdentityHash) bool {
	if isZeroHash(peer) || peer == r.self {
		return false
	}
	r.excludedMu.Lock()
	defer r.excludedMu.Unlock()
	if _, ok := r.excluded[peer]; ok {
		return false
	}
	r.excluded[peer] = struct{}{}
	r.excludedCount.Add(1)
	return true
}

// snapshotExcluded copies the exclusion set into dst.
func (r *LookupRequest) snapshotExcluded(dst ExclusionSet) {
	r.excludedMu.RLock()
	for peer := range r.excluded {
		dst[peer] = struct{}{}
	}
	r.excludedMu.RUnlock()
}

// BuildQueryMessage builds a lookup addressed to target whose answer comes
// back through replyPath. The attempt is recorded (target excluded, last
// request time stamped) even when building fails, so a floodfill that
// cannot be queried is not picked again.
func (r *LookupRequest) BuildQueryMessage(builder MessageBuilder, target IdentityHash, replyPath *ReplyPath) (*LookupMessage, error) {
	if builder == nil {
		return nil, ErrInvalidArgument
	}
	now := r.clock.Now()
	if replyPath == nil || replyPath.Expired(now) {
		r.recordAttempt(target, now)
		return nil, NewLookupError(r.destination, "build query", ErrReplyPathUnavailable)
	}
	return r.buildQuery(builder, target, replyPath, now)
}

// BuildDirectQueryMessage builds a lookup addressed to target that the
// floodfill answers directly.
func (r *LookupRequest) BuildDirectQueryMessage(builder MessageBuilder, target IdentityHash) (*LookupMessage, error) {
	if builder == nil {
		return nil, ErrInvalidArgument
	}
	return r.buildQuery(builder, target, nil, r.clock.Now())
}

func (r *LookupRequest) recordAttempt(target IdentityHash, now time.Time) {
	r.ExcludePeer(target)
	r.touch(now)
}

func (r *LookupRequest) buildQuery(builder MessageBuilder, target IdentityHash, replyPath *ReplyPath, now time.Time) (*LookupMessage, error) {
	// The message lists the floodfills tried before target, not target itself.
	params := LookupMessage{
		Destination: r.destination,
		Target:      target,
		Exploratory: r.isExploratory,
		Direct:      replyPath == nil,
		ReplyPath:   replyPath,
		Excluded:    lo.Without(r.ExcludedPeers(), target),
	}
	r.recordAttempt(target, now)

	msg, err := builder.BuildLookup(params)
	if err == nil && msg == nil {
		err = ErrMessageBuild
	}
	if err != nil {
		return nil, wrapCollaboratorError(err, ErrMessageBuild, r.destination, target, "build lookup")
	}
	r.isActive.Store(true)

	log.WithFields(logger.Fields{
		"at":          "(LookupRequest) buildQuery",
		"destination": shortHash(r.destination),
		"target":      shortHash(target),
		"direct":      params.Direct,
		"exploratory": r.isExploratory,
		"excluded":    len(params.Excluded),
	}).Debug("built lookup message")
	return msg, nil
}

// SetRequestComplete replaces every registered completion callback with cb.
func (r *LookupRequest) SetRequestComplete(cb RequestCompleteFunc) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	if cb == nil {
		r.callbacks = nil
		return
	}
	r.callbacks = []RequestCompleteFunc{cb}
}

// RequestComplete returns a function invoking every registered callback,
// or nil if none is registered.
func (r *LookupRequest) RequestComplete() RequestCompleteFunc {
	r.cbMu.Lock()
	callbacks := slices.Clone(r.callbacks)
	r.cbMu.Unlock()
	if len(callbacks) == 0 {
		return nil
	}
	return func(record *RouterRecord) {
		for _, cb := range callbacks {
			cb(record)
		}
	}
}

// IsRequestComplete reports whether a completion callback is registered.
func (r *LookupRequest) IsRequestComplete() bool {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	return len(r.callbacks) > 0
}

// Subscribe adds cb to the callbacks run on completion. If the lookup has
// already ended, cb runs immediately with its result.
func (r *LookupRequest) Subscribe(cb RequestCompleteFunc) {
	if cb == nil {
		return
	}
	r.cbMu.Lock()
	if r.closed {
		result := r.result
		r.cbMu.Unlock()
		cb(result)
		return
	}
	r.callbacks = append(r.callbacks, cb)
	r.cbMu.Unlock()
}

// Done is closed when the lookup ends.
func (r *LookupRequest) Done() <-chan struct{} { return r.done }

// Result returns the resolved record, nil while pending or after failure.
func (r *LookupRequest) Result() *RouterRecord {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	return r.result
}

// Succeed completes the lookup with record. Returns false if it had already ended.
func (r *LookupRequest) Succeed(record *RouterRecord) bool {
	return r.finish(record, LookupResolved)
}

// Fail completes the lookup without a record. Returns false if it had already ended.
func (r *LookupRequest) Fail() bool {
	return r.finish(nil, LookupFailed)
}

func (r *LookupRequest) expire() bool {
	return r.finish(nil, LookupExpired)
}

func (r *LookupRequest) finish(record *RouterRecord, state LookupState) bool {
	if !r.finished.CompareAndSwap(false, true) {
		return false
	}
	r.cbMu.Lock()
	r.result = record
	r.state.Store(int32(state))
	r.closed = true
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.cbMu.Unlock()

	for _, cb := range callbacks {
		cb(record)
	}
	return true
}
