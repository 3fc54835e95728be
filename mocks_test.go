package go_netdbreq

// mocks_test.go - Shared test helpers, mocks, and stubs used across multiple test files.

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

var testStartTime = time.Unix(1700000000, 0)

// hashOf returns a hash whose every byte is b.
func hashOf(b byte) IdentityHash {
	var h IdentityHash
	for i := range h {
		h[i] = b
	}
	return h
}

// sequenceSelector returns its peers in order, one per call, then reports
// exhaustion. It does not look at the exclusion set unless honorExcluded is set.
type sequenceSelector struct {
	mu            sync.Mutex
	peers         []IdentityHash
	next          int
	calls         int
	honorExcluded bool
	lastExcluded  []IdentityHash
}

func (s *sequenceSelector) SelectNextFloodfill(dest IdentityHash, excluded ExclusionSet) (IdentityHash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastExcluded = s.lastExcluded[:0]
	for p := range excluded {
		s.lastExcluded = append(s.lastExcluded, p)
	}
	for s.next < len(s.peers) {
		p := s.peers[s.next]
		s.next++
		if s.honorExcluded && excluded.Contains(p) {
			continue
		}
		return p, true
	}
	return IdentityHash{}, false
}

func (s *sequenceSelector) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// endlessSelector hands out a fresh peer on every call.
type endlessSelector struct {
	mu   sync.Mutex
	next byte
}

func (s *endlessSelector) SelectNextFloodfill(dest IdentityHash, excluded ExclusionSet) (IdentityHash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.next++
		if p := hashOf(s.next); !excluded.Contains(p) {
			return p, true
		}
	}
}

// stubBuilder records every build and stamps it with the test clock.
type stubBuilder struct {
	mu      sync.Mutex
	clock   clock.Clock
	err     error
	built   []LookupMessage
	builtAt []time.Time
}

func (b *stubBuilder) BuildLookup(params LookupMessage) (*LookupMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	b.built = append(b.built, params)
	if b.clock != nil {
		b.builtAt = append(b.builtAt, b.clock.Now())
	}
	msg := params
	msg.Payload = []byte("lookup")
	return &msg, nil
}

func (b *stubBuilder) Built() []LookupMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LookupMessage, len(b.built))
	copy(out, b.built)
	return out
}

func (b *stubBuilder) BuiltAt() []time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]time.Time, len(b.builtAt))
	copy(out, b.builtAt)
	return out
}

// recordingTransport records the peers lookups were sent to.
type recordingTransport struct {
	mu    sync.Mutex
	err   error
	peers []IdentityHash
}

func (t *recordingTransport) Send(peer IdentityHash, msg *LookupMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = append(t.peers, peer)
	return t.err
}

func (t *recordingTransport) Peers() []IdentityHash {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]IdentityHash, len(t.peers))
	copy(out, t.peers)
	return out
}

// stubReplyPaths returns path, or err when set.
type stubReplyPaths struct {
	path *ReplyPath
	err  error
}

func (s *stubReplyPaths) ReplyPath() (*ReplyPath, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.path, nil
}

var errStub = errors.New("stub failure")

// completionRecorder counts completion callbacks and keeps their records.
type completionRecorder struct {
	mu      sync.Mutex
	calls   int
	records []*RouterRecord
}

func (c *completionRecorder) callback() RequestCompleteFunc {
	return func(r *RouterRecord) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.calls++
		c.records = append(c.records, r)
	}
}

func (c *completionRecorder) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *completionRecorder) Last() *RouterRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		return nil
	}
	return c.records[len(c.records)-1]
}

// testManager bundles a manager with its stubs and test clock.
type testManager struct {
	*RequestManager
	clock     *clock.TestClock
	builder   *stubBuilder
	transport *recordingTransport
}

// newTestManager builds a manager on a test clock. The caller's cleanup stops it.
func newTestManager(t *testing.T, selector PeerSelector) *testManager {
	t.Helper()
	return newTestManagerWithConfig(t, DefaultConfig(), selector)
}

func newTestManagerWithConfig(t *testing.T, cfg Config, selector PeerSelector) *testManager {
	t.Helper()
	clk := clock.NewTestClock(testStartTime)
	builder := &stubBuilder{clock: clk}
	transport := &recordingTransport{}
	m, err := NewRequestManager(cfg, selector, builder, transport)
	if err != nil {
		t.Fatalf("NewRequestManager() error = %v", err)
	}
	m.SetClock(clk)
	m.SetReplyPathProvider(&stubReplyPaths{path: &ReplyPath{Gateway: hashOf(0xee), TunnelID: 42}})
	t.Cleanup(m.Stop)
	return &testManager{RequestManager: m, clock: clk, builder: builder, transport: transport}
}

// advance moves the test clock forward by d.
func (tm *testManager) advance(d time.Duration) {
	tm.clock.SetTime(tm.clock.Now().Add(d))
}

// newTestRequest builds a standalone lookup on a test clock.
func newTestRequest(dest IdentityHash, exploratory, direct bool) (*LookupRequest, *clock.TestClock) {
	clk := clock.NewTestClock(testStartTime)
	return newLookupRequest(dest, exploratory, direct, clk, hashOf(0xff)), clk
}
