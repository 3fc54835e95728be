package go_netdbreq

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds request manager tuning. Zero values are replaced by the
// defaults from DefaultConfig when loaded from a file.
//
// Example netdb.toml:
//
//	manage_interval = "1s"
//	attempt_timeout = "5s"
//	max_attempts = 5
//	max_exploratory_time = "30s"
//	dispatch_workers = 4
//	local_identity = "base64 router hash"
type Config struct {
	// ManageInterval is how often ManageRequests runs once started.
	ManageInterval time.Duration `toml:"manage_interval"`
	// AttemptTimeout is how long a floodfill gets to answer before the next one is tried.
	AttemptTimeout time.Duration `toml:"attempt_timeout"`
	// MaxAttempts is the number of floodfills a lookup may query.
	MaxAttempts int `toml:"max_attempts"`
	// MaxRequestTime is the lifetime ceiling of a directed lookup.
	// Zero derives it as MaxAttempts * (AttemptTimeout + ManageInterval).
	MaxRequestTime time.Duration `toml:"max_request_time"`
	// MaxExploratoryTime is the lifetime ceiling of an exploratory lookup.
	MaxExploratoryTime time.Duration `toml:"max_exploratory_time"`
	// PoolCleanupInterval is how often pooled exclusion snapshots are dropped.
	PoolCleanupInterval time.Duration `toml:"pool_cleanup_interval"`
	// DispatchWorkers bounds concurrent transport sends.
	DispatchWorkers int `toml:"dispatch_workers"`
	// RecentOutcomes is how many finished lookups RecentOutcome remembers.
	RecentOutcomes int `toml:"recent_outcomes"`
	// RecentOutcomeTTL is how long a finished lookup stays visible to RecentOutcome.
	RecentOutcomeTTL time.Duration `toml:"recent_outcome_ttl"`
	// TransportFailures is how many consecutive send errors stop sends until
	// TransportResetTimeout has passed. Zero never stops sending.
	TransportFailures int `toml:"transport_failures"`
	// TransportResetTimeout is how long sends fail fast once the transport breaker opened.
	TransportResetTimeout time.Duration `toml:"transport_reset_timeout"`
	// LocalIdentity is the base64 hash of the local router. It is never
	// added to an exclusion set.
	LocalIdentity string `toml:"local_identity"`
	// DisablePooling stops recycling exclusion snapshots between attempts.
	DisablePooling bool `toml:"disable_pooling"`
	// MetricsNamespace enables Prometheus metrics under this namespace when set.
	MetricsNamespace string `toml:"metrics_namespace"`
	// MetricsRegisterer receives the Prometheus collectors. Nil uses the
	// default registry.
	MetricsRegisterer prometheus.Registerer `toml:"-"`
}

// DefaultConfig returns the standard NetDB request timings.
func DefaultConfig() Config {
	return Config{
		ManageInterval:      MANAGE_REQUESTS_INTERVAL,
		AttemptTimeout:      MIN_REQUEST_TIME,
		MaxAttempts:         MAX_NUM_REQUEST_ATTEMPTS,
		MaxExploratoryTime:  MAX_EXPLORATORY_REQUEST_TIME,
		PoolCleanupInterval: REQUESTED_DESTINATIONS_POOL_CLEANUP_INTERVAL,
		DispatchWorkers:     DEFAULT_DISPATCH_WORKERS,
		RecentOutcomes:      DEFAULT_RECENT_OUTCOMES,
		RecentOutcomeTTL:    REQUEST_CACHE_TIME,

		TransportFailures:     DEFAULT_TRANSPORT_FAILURES,
		TransportResetTimeout: DEFAULT_TRANSPORT_RESET_TIMEOUT,
	}
}

// LoadConfig reads a TOML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfiguration, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.WithField("keys", fmt.Sprint(undecoded)).Warn("ignoring unknown netdb config keys")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks that every timing and limit is usable.
func (c Config) Validate() error {
	switch {
	case c.ManageInterval <= 0:
		return fmt.Errorf("%w: manage_interval must be positive", ErrInvalidConfiguration)
	case c.AttemptTimeout <= 0:
		return fmt.Errorf("%w: attempt_timeout must be positive", ErrInvalidConfiguration)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfiguration)
	case c.MaxRequestTime < 0:
		return fmt.Errorf("%w: max_request_time must not be negative", ErrInvalidConfiguration)
	case c.MaxExploratoryTime <= 0:
		return fmt.Errorf("%w: max_exploratory_time must be positive", ErrInvalidConfiguration)
	case c.PoolCleanupInterval <= 0:
		return fmt.Errorf("%w: pool_cleanup_interval must be positive", ErrInvalidConfiguration)
	case c.DispatchWorkers <= 0:
		return fmt.Errorf("%w: dispatch_workers must be positive", ErrInvalidConfiguration)
	case c.RecentOutcomes < 0:
		return fmt.Errorf("%w: recent_outcomes must not be negative", ErrInvalidConfiguration)
	case c.TransportFailures < 0:
		return fmt.Errorf("%w: transport_failures must not be negative", ErrInvalidConfiguration)
	case c.TransportFailures > 0 && c.TransportResetTimeout <= 0:
		return fmt.Errorf("%w: transport_reset_timeout must be positive", ErrInvalidConfiguration)
	}
	if c.LocalIdentity != "" {
		if _, err := parseHash(c.LocalIdentity); err != nil {
			return fmt.Errorf("%w: local_identity: %v", ErrInvalidConfiguration, err)
		}
	}
	return nil
}

// RequestTimeout returns the lifetime ceiling of a directed lookup.
func (c Config) RequestTimeout() time.Duration {
	if c.MaxRequestTime > 0 {
		return c.MaxRequestTime
	}
	return time.Duration(c.MaxAttempts) * (c.AttemptTimeout + c.ManageInterval)
}

// lifetime returns the ceiling for a lookup of the given kind.
func (c Config) lifetime(exploratory bool) time.Duration {
	if exploratory {
		return c.MaxExploratoryTime
	}
	return c.RequestTimeout()
}

// localIdentity returns the decoded LocalIdentity, or the zero hash.
func (c Config) localIdentity() IdentityHash {
	if c.LocalIdentity == "" {
		return IdentityHash{}
	}
	h, err := parseHash(c.LocalIdentity)
	if err != nil {
		return IdentityHash{}
	}
	return h
}
