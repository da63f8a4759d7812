package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/panelhub-io/panelhub-engine/pkg/logging"
	"github.com/panelhub-io/panelhub-engine/pkg/retry"
)

const (
	DefaultPoolTTLMinutes     = 5
	DefaultCleanupInterval    = 1 * time.Minute
	DefaultPoolMaxConns       = 10
	DefaultPoolMinConns       = 1
	DefaultHealthCheckTimeout = 5 * time.Second
	DefaultConnectTimeout     = 15 * time.Second
	fingerprintLen            = 16
)

// RegistryConfig holds configuration for the pool registry.
type RegistryConfig struct {
	TTLMinutes         int
	PoolMaxConns       int32
	PoolMinConns       int32
	HealthCheckTimeout time.Duration
	ConnectTimeout     time.Duration
}

// Registry manages pgx pools for external connections. Pools are keyed by
// connection id plus a fingerprint of the connection string, so a credential
// update naturally routes to a fresh pool while the stale one ages out. Idle
// pools are evicted by a background goroutine after the TTL.
type Registry struct {
	mu      sync.RWMutex
	pools   map[string]*managedPool // key: "{connectionID}:{fingerprint}"
	cfg     RegistryConfig
	stopped bool
	stop    chan struct{}
	logger  *zap.Logger
}

type managedPool struct {
	pool     *pgxpool.Pool
	lastUsed time.Time
	leases   int
	mu       sync.Mutex
}

// Lease is a scoped handle on a pooled connection. Release is idempotent;
// adapters call it from Close so every exit path of an operation releases
// exactly once.
type Lease struct {
	pool    *pgxpool.Pool
	once    sync.Once
	release func()
}

// Pool returns the underlying pgx pool.
func (l *Lease) Pool() *pgxpool.Pool {
	return l.pool
}

// Release returns the lease to the registry. Safe to call more than once;
// only the first call has effect.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// NewRegistry creates a pool registry and starts its eviction goroutine,
// which runs until Close is called.
func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultPoolTTLMinutes
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = DefaultHealthCheckTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	r := &Registry{
		pools:  make(map[string]*managedPool),
		cfg:    cfg,
		stop:   make(chan struct{}),
		logger: logger,
	}

	go r.evictLoop()
	return r
}

// fingerprint derives a short stable digest of the connection string. The
// digest, never the string itself, appears in pool keys and logs.
func fingerprint(connString string) string {
	sum := sha256.Sum256([]byte(connString))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func (r *Registry) connectTimeout(purpose Purpose) time.Duration {
	if purpose == PurposeHealthCheck {
		return r.cfg.HealthCheckTimeout
	}
	return r.cfg.ConnectTimeout
}

// Acquire returns a lease on a healthy pool for the connection, creating one
// if needed. The purpose selects the connect-timeout profile: short for
// health checks, longer for schema and query work. It applies only when the
// pool is created; a reused pool keeps the profile it was built with.
func (r *Registry) Acquire(ctx context.Context, connectionID uuid.UUID, connString string, purpose Purpose) (*Lease, error) {
	key := fmt.Sprintf("%s:%s", connectionID, fingerprint(connString))

	r.mu.RLock()
	managed, exists := r.pools[key]
	r.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, r.cfg.HealthCheckTimeout)
		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.pool.Ping(healthCtx)
		})
		cancel()

		if err != nil {
			r.logger.Warn("pool unhealthy, recreating",
				zap.String("key", key),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock()
			r.remove(key)
			return r.createPool(ctx, key, connectionID, connString, purpose)
		}

		managed.lastUsed = time.Now()
		managed.leases++
		managed.mu.Unlock()
		return r.leaseFor(key, managed), nil
	}

	return r.createPool(ctx, key, connectionID, connString, purpose)
}

// createPool creates a new pool with retry for transient failures. Caller
// must NOT hold any locks.
func (r *Registry) createPool(ctx context.Context, key string, connectionID uuid.UUID, connString string, purpose Purpose) (*Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have created it while we waited for the lock.
	if managed, exists := r.pools[key]; exists && managed != nil {
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.leases++
		managed.mu.Unlock()
		return r.leaseFor(key, managed), nil
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		r.logger.Error("failed to parse connection string",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = r.cfg.PoolMaxConns
	poolConfig.MinConns = r.cfg.PoolMinConns
	poolConfig.MaxConnIdleTime = time.Duration(r.cfg.TTLMinutes) * time.Minute
	poolConfig.ConnConfig.ConnectTimeout = r.connectTimeout(purpose)

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		r.logger.Error("failed to create pool after retries",
			zap.String("key", key),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool for connection %s: %w", connectionID, err)
	}

	managed := &managedPool{
		pool:     pool,
		lastUsed: time.Now(),
		leases:   1,
	}
	r.pools[key] = managed

	r.logger.Info("created connection pool",
		zap.String("key", key),
		zap.String("connectionID", connectionID.String()),
		zap.String("purpose", string(purpose)),
	)

	return r.leaseFor(key, managed), nil
}

func (r *Registry) leaseFor(key string, managed *managedPool) *Lease {
	return &Lease{
		pool: managed.pool,
		release: func() {
			managed.mu.Lock()
			managed.lastUsed = time.Now()
			if managed.leases > 0 {
				managed.leases--
			}
			managed.mu.Unlock()
			r.logger.Debug("released pool lease", zap.String("key", key))
		},
	}
}

// Invalidate closes and drops every pool for a connection, across all
// credential fingerprints. Called after a credential update so no query runs
// against credentials the caller has replaced.
func (r *Registry) Invalidate(connectionID uuid.UUID) {
	prefix := connectionID.String() + ":"

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, managed := range r.pools {
		if strings.HasPrefix(key, prefix) && managed != nil {
			if managed.pool != nil {
				managed.pool.Close()
			}
			delete(r.pools, key)
			r.logger.Info("invalidated pool", zap.String("key", key))
		}
	}
}

// remove drops a single pool. Caller must NOT hold r.mu.
func (r *Registry) remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if managed, exists := r.pools[key]; exists && managed != nil {
		if managed.pool != nil {
			managed.pool.Close()
		}
		delete(r.pools, key)
		r.logger.Debug("removed pool", zap.String("key", key))
	}
}

func (r *Registry) evictLoop() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stop:
			return
		}
	}
}

// evictIdle removes pools idle past the TTL. Pools with live leases are
// skipped. Lock ordering is registry lock then pool lock.
func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	ttl := time.Duration(r.cfg.TTLMinutes) * time.Minute
	now := time.Now()
	var expired []string

	for key, managed := range r.pools {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		idle := managed.leases == 0 && now.Sub(managed.lastUsed) > ttl
		managed.mu.Unlock()
		if idle {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		if managed := r.pools[key]; managed != nil {
			if managed.pool != nil {
				managed.pool.Close()
			}
			delete(r.pools, key)
		}
	}

	if len(expired) > 0 {
		r.logger.Info("evicted idle pools",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(r.pools)),
		)
	}
}

// Close closes all pools and stops the eviction goroutine. Idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil
	}

	r.stopped = true
	close(r.stop)

	for _, managed := range r.pools {
		if managed != nil && managed.pool != nil {
			managed.pool.Close()
		}
	}

	r.pools = make(map[string]*managedPool)
	r.logger.Info("pool registry closed")
	return nil
}

// Stats returns a snapshot of registry state, used for shutdown logging.
type Stats struct {
	TotalPools        int `json:"total_pools"`
	ActiveLeases      int `json:"active_leases"`
	OldestIdleSeconds int `json:"oldest_idle_seconds"`
}

// GetStats returns statistics about the registry. Safe to call concurrently.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	stats := Stats{TotalPools: len(r.pools)}

	for _, managed := range r.pools {
		if managed == nil {
			continue
		}
		managed.mu.Lock()
		stats.ActiveLeases += managed.leases
		idle := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idle > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idle
		}
	}

	return stats
}
