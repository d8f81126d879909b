// Package schema discovers, caches and renders database schema for prompts.
//
// The Service wraps a table source (usually a database.Backend) with a TTL
// snapshot cache. Concurrent cache misses share one discovery call. Render
// turns a snapshot into CREATE TABLE text that fits a token budget, and
// SelectTables narrows a snapshot to the tables relevant to a question.
package schema

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// DefaultTTL is how long a discovered snapshot stays fresh.
const DefaultTTL = time.Hour

// Source discovers tables. database.Backend satisfies it.
type Source interface {
	DiscoverTables(ctx context.Context) ([]sqlflow.TableInfo, error)
	Dialect() string
}

// Service caches schema snapshots per source dialect.
type Service struct {
	source  Source
	ttl     time.Duration
	include []string
	exclude []string
	clock   clockwork.Clock
	logger  *slog.Logger

	cache *ttlcache.Cache[string, *sqlflow.SchemaInfo]
	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the snapshot lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithInclude restricts discovery to the named tables. Names may be bare or
// schema-qualified. Include takes precedence over exclude.
func WithInclude(names ...string) Option {
	return func(s *Service) { s.include = names }
}

// WithExclude hides the named tables.
func WithExclude(names ...string) Option {
	return func(s *Service) { s.exclude = names }
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a schema service over source.
func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source: source,
		ttl:    DefaultTTL,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.cache = ttlcache.New[string, *sqlflow.SchemaInfo](
		ttlcache.WithTTL[string, *sqlflow.SchemaInfo](s.ttl),
		ttlcache.WithDisableTouchOnHit[string, *sqlflow.SchemaInfo](),
	)
	return s
}

// Dialect returns the source's SQL dialect.
func (s *Service) Dialect() string {
	return s.source.Dialect()
}

// GetSchema returns the cached snapshot, discovering afresh when it is
// missing, expired or force is set. The returned snapshot must not be
// modified.
func (s *Service) GetSchema(ctx context.Context, force bool) (*sqlflow.SchemaInfo, error) {
	key := s.source.Dialect()
	if !force {
		if snap := s.cached(key); snap != nil {
			s.logger.Debug("schema cache hit", "dialect", key)
			return snap, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if !force {
			if snap := s.cached(key); snap != nil {
				return snap, nil
			}
		}
		tables, err := s.source.DiscoverTables(ctx)
		if err != nil {
			return nil, err
		}
		snap := &sqlflow.SchemaInfo{
			Tables:       Filter(tables, s.include, s.exclude),
			DiscoveredAt: s.clock.Now(),
		}
		s.cache.Set(key, snap, ttlcache.DefaultTTL)
		s.logger.Info("schema discovered", "dialect", key, "table_count", len(snap.Tables))
		return snap, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}
	return v.(*sqlflow.SchemaInfo), nil
}

// cached returns the live snapshot for key. Expired entries are evicted
// first so they are never served.
func (s *Service) cached(key string) *sqlflow.SchemaInfo {
	s.cache.DeleteExpired()
	item := s.cache.Get(key)
	if item == nil {
		return nil
	}
	return item.Value()
}

// Invalidate drops every cached snapshot.
func (s *Service) Invalidate() {
	s.cache.DeleteAll()
}

// Filter applies include/exclude lists. A non-empty include list wins and
// exclude is then ignored. Names match bare or schema-qualified.
func Filter(tables []sqlflow.TableInfo, include, exclude []string) []sqlflow.TableInfo {
	switch {
	case len(include) > 0:
		allowed := nameSet(include)
		out := make([]sqlflow.TableInfo, 0, len(tables))
		for _, t := range tables {
			if matches(t, allowed) {
				out = append(out, t)
			}
		}
		return out
	case len(exclude) > 0:
		blocked := nameSet(exclude)
		out := make([]sqlflow.TableInfo, 0, len(tables))
		for _, t := range tables {
			if !matches(t, blocked) {
				out = append(out, t)
			}
		}
		return out
	default:
		return tables
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func matches(t sqlflow.TableInfo, names map[string]bool) bool {
	if names[t.Name] {
		return true
	}
	return t.Schema != "" && names[t.Schema+"."+t.Name]
}
