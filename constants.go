package go_netdbreq

import "time"

// NetDB Request Constants
//
// Timing and retry limits for router lookups against the floodfill set.
// A directed lookup is given MAX_NUM_REQUEST_ATTEMPTS attempts, each
// allowed MIN_REQUEST_TIME to answer before the next floodfill is tried.
// The lifetime ceiling leaves one maintenance tick of slack per attempt.

// Retry Constants
const (
	MAX_NUM_REQUEST_ATTEMPTS = 5
	MANAGE_REQUESTS_INTERVAL = 1 * time.Second
	MIN_REQUEST_TIME         = 5 * time.Second
	MAX_REQUEST_TIME         = MAX_NUM_REQUEST_ATTEMPTS * (MIN_REQUEST_TIME + MANAGE_REQUESTS_INTERVAL)
)

// Lifetime Constants
const (
	MAX_EXPLORATORY_REQUEST_TIME = 30 * time.Second

	// REQUEST_CACHE_TIME is how long the outcome of a finished lookup stays
	// queryable through RecentOutcome.
	REQUEST_CACHE_TIME = MAX_REQUEST_TIME + 40*time.Second

	// REQUESTED_DESTINATIONS_POOL_CLEANUP_INTERVAL is the coarse interval at
	// which pooled exclusion snapshots are released.
	REQUESTED_DESTINATIONS_POOL_CLEANUP_INTERVAL = 191 * time.Second
)

// Dispatch Constants
const (
	DEFAULT_DISPATCH_WORKERS = 4
	DEFAULT_RECENT_OUTCOMES  = 1024

	// DEFAULT_TRANSPORT_FAILURES is how many consecutive send errors open
	// the transport breaker.
	DEFAULT_TRANSPORT_FAILURES      = 8
	DEFAULT_TRANSPORT_RESET_TIMEOUT = MAX_EXPLORATORY_REQUEST_TIME

	// maxSelectRounds bounds how often the peer selector is re-asked when it
	// keeps returning peers that are already excluded.
	maxSelectRounds = MAX_NUM_REQUEST_ATTEMPTS
)

// Metrics Constants
const (
	METRICS_NAMESPACE = "i2p"
	METRICS_SUBSYSTEM = "netdb_requests"
)
