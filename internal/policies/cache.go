package policies

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gatehouse-io/gatehouse/internal/authz"
	"github.com/gatehouse-io/gatehouse/internal/shared"
)

const (
	roleKeyPrefix = "authz:role:"
	lastLoadKey   = "authz:lastload"
	warmWorkers   = 8
	opTimeout     = 2 * time.Second
)

// DefaultTTL bounds the staleness window when an explicit invalidation is
// missed.
const DefaultTTL = time.Hour

// Store is the durable source of truth the cache reads through.
type Store interface {
	FindByRole(ctx context.Context, role string) ([]Policy, error)
	FindByRoleResourceAction(ctx context.Context, role string, variants []string, action Action, application string) ([]Policy, error)
	ListRolesWithPolicies(ctx context.Context) ([]string, error)
}

// CacheStats describes the current cache population.
type CacheStats struct {
	Enabled      bool       `json:"enabled"`
	RolesInCache int        `json:"roles_in_cache"`
	LastLoad     *time.Time `json:"last_load,omitempty"`
}

// Cache is the cache-aside layer keyed by role code. Reads populate entries
// on miss; every administrative mutation invalidates eagerly. Any cache
// backend failure degrades to a direct store read, never to a failed request.
type Cache struct {
	client *redis.Client
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCache constructs the policy cache. A nil client disables caching and
// every read goes straight to the store.
func NewCache(client *redis.Client, store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, store: store, ttl: ttl, logger: logger}
}

func roleKey(role string) string {
	return roleKeyPrefix + role
}

// GetPolicies returns the policy set for a role, deserializing a cache hit
// or loading from the store on miss. Concurrent misses for the same role
// collapse into a single store read.
func (c *Cache) GetPolicies(ctx context.Context, role string) ([]Policy, error) {
	if c.client == nil {
		return c.store.FindByRole(ctx, role)
	}

	getCtx, cancel := context.WithTimeout(ctx, opTimeout)
	payload, err := c.client.Get(getCtx, roleKey(role)).Bytes()
	cancel()
	if err == nil {
		var cached []Policy
		if uerr := json.Unmarshal(payload, &cached); uerr == nil {
			return cached, nil
		}
		// Corrupt entry: treat as miss and rewrite below.
		c.logger.Warn("policy cache entry corrupt", slog.String("role", role))
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("policy cache get failed, falling back to store",
			slog.String("role", role), slog.Any("error", fmt.Errorf("%w: %v", shared.ErrCacheUnavailable, err)))
		return c.store.FindByRole(ctx, role)
	}

	v, err, _ := c.group.Do(role, func() (any, error) {
		return c.loadAndSet(ctx, role)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Policy), nil
}

func (c *Cache) loadAndSet(ctx context.Context, role string) ([]Policy, error) {
	set, err := c.store.FindByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		payload, merr := json.Marshal(set)
		if merr == nil {
			setCtx, cancel := context.WithTimeout(ctx, opTimeout)
			if serr := c.client.Set(setCtx, roleKey(role), payload, c.ttl).Err(); serr != nil {
				c.logger.Warn("policy cache set failed", slog.String("role", role), slog.Any("error", serr))
			}
			cancel()
		}
	}
	return set, nil
}

// IsPermitted reports whether any of the role's active policies satisfies
// the resource and action, either exactly or through a wildcard pattern.
// The resource is expected to be normalized already.
func (c *Cache) IsPermitted(ctx context.Context, role, resource, action, application string) (bool, error) {
	if application == "" {
		application = DefaultApplication
	}
	if c.client == nil {
		// No cache layer: probe the exact resource and its wildcard
		// variants in a single store query instead of loading the whole
		// role set.
		variants := []string{resource}
		if resource != "/" {
			// A wildcard rooted at the resource itself also matches it.
			variants = append(variants, resource+"/*")
		}
		variants = append(variants, authz.CandidateWildcards(resource)...)
		matches, err := c.store.FindByRoleResourceAction(ctx, role, variants, Action(action), application)
		if err != nil {
			return false, err
		}
		return len(matches) > 0, nil
	}
	set, err := c.GetPolicies(ctx, role)
	if err != nil {
		return false, err
	}
	for _, p := range set {
		if !p.IsActive || string(p.Action) != action || p.Application != application {
			continue
		}
		if !authz.IsWildcard(p.Resource) && p.Resource == resource {
			return true, nil
		}
	}
	for _, p := range set {
		if !p.IsActive || string(p.Action) != action || p.Application != application {
			continue
		}
		if authz.IsWildcard(p.Resource) && authz.Matches(p.Resource, resource) {
			return true, nil
		}
	}
	return false, nil
}

// WarmAll populates a cache entry for every role that has policies and
// stamps the load marker. Invoked at startup and on manual resync.
func (c *Cache) WarmAll(ctx context.Context) error {
	roles, err := c.store.ListRolesWithPolicies(ctx)
	if err != nil {
		return fmt.Errorf("policies: warm all: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmWorkers)
	for _, role := range roles {
		role := role
		g.Go(func() error {
			_, err := c.loadAndSet(gctx, role)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("policies: warm all: %w", err)
	}

	if c.client != nil {
		setCtx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()
		if err := c.client.Set(setCtx, lastLoadKey, time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
			c.logger.Warn("stamp cache load marker", slog.Any("error", err))
		}
	}
	c.logger.Info("policy cache warmed", slog.Int("roles", len(roles)))
	return nil
}

// InvalidateAll deletes every key under the cache namespace and re-warms
// synchronously so manual resyncs leave no stale window.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c.client != nil {
		iter := c.client.Scan(ctx, 0, roleKeyPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
				c.logger.Warn("policy cache delete key", slog.String("key", iter.Val()), slog.Any("error", err))
			}
		}
		if err := iter.Err(); err != nil {
			c.logger.Warn("policy cache scan failed", slog.Any("error", err))
		}
	}
	return c.WarmAll(ctx)
}

// InvalidateRole deletes the role's entry and reloads it eagerly so an
// in-flight administrative change is visible on the very next read.
func (c *Cache) InvalidateRole(ctx context.Context, role string) error {
	if c.client != nil {
		delCtx, cancel := context.WithTimeout(ctx, opTimeout)
		if err := c.client.Del(delCtx, roleKey(role)).Err(); err != nil {
			c.logger.Warn("policy cache delete failed", slog.String("role", role), slog.Any("error", err))
		}
		cancel()
	}
	if _, err := c.loadAndSet(ctx, role); err != nil {
		return fmt.Errorf("policies: invalidate role %s: %w", role, err)
	}
	return nil
}

// Stats reports the cache population for the admin surface.
func (c *Cache) Stats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{Enabled: c.client != nil}
	if c.client == nil {
		return stats, nil
	}
	iter := c.client.Scan(ctx, 0, roleKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		stats.RolesInCache++
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("%w: %v", shared.ErrCacheUnavailable, err)
	}
	if raw, err := c.client.Get(ctx, lastLoadKey).Result(); err == nil {
		if ts, perr := time.Parse(time.RFC3339, raw); perr == nil {
			stats.LastLoad = &ts
		}
	}
	return stats, nil
}
