// Package querycache memoizes answered questions per schema fingerprint.
//
// Entries are keyed by the normalized question and a fingerprint of the
// schema the answer was computed against, so any drift in table or column
// names makes old entries unreachable. Entries expire after a TTL and are
// evicted when read.
package querycache

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/randalmurphal/sqlflow/pkg/sqlflow"
)

// DefaultTTL is how long an entry stays valid.
const DefaultTTL = 24 * time.Hour

// Entry is one cached answer.
type Entry struct {
	SQL      string        `json:"sql"`
	Result   []sqlflow.Row `json:"result"`
	Answer   string        `json:"answer"`
	CachedAt time.Time     `json:"cached_at"`
}

// Stats reports cache size and cumulative lookups.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache is a TTL map from (question, schema fingerprint) to Entry.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	clock   clockwork.Clock
	hits    int64
	misses  int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock sets the clock used for expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     DefaultTTL,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get looks up question under schemaHash. Expired entries are evicted and
// count as misses.
func (c *Cache) Get(question, schemaHash string) (Entry, bool) {
	key := Key(question, schemaHash)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if c.clock.Since(e.CachedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return Entry{}, false
	}
	c.hits++
	e.Result = sqlflow.CloneRows(e.Result)
	return e, true
}

// Set stores an answer, replacing any previous entry for the same key.
func (c *Cache) Set(question, schemaHash, sql string, result []sqlflow.Row, answer string) {
	key := Key(question, schemaHash)
	e := Entry{
		SQL:      sql,
		Result:   sqlflow.CloneRows(result),
		Answer:   answer,
		CachedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// InvalidateAll drops every entry. Hit and miss counters are kept.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize trims, lower-cases and collapses runs of whitespace.
func Normalize(question string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(question)), " ")
}

// Key returns the hex cache key for question under schemaHash.
func Key(question, schemaHash string) string {
	sum := sha256.Sum256([]byte(Normalize(question) + "|" + schemaHash))
	return hex.EncodeToString(sum[:])
}

// SchemaHash fingerprints the table and column names of schema. Column
// order and types do not affect the result.
func SchemaHash(schema *sqlflow.SchemaInfo) string {
	if schema == nil {
		return ""
	}
	parts := make([]string, 0, len(schema.Tables))
	for _, t := range schema.Tables {
		cols := t.ColumnNames()
		sort.Strings(cols)
		parts = append(parts, t.QualifiedName()+":"+strings.Join(cols, ","))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}
