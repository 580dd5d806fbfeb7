// Package calendar keeps the manager calendar's formation events in sync
// with the backend through a TTL-bound, hash-validated local cache.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// DefaultCacheTTL is both the cache lifetime and the periodic refresh interval.
const DefaultCacheTTL = 60 * time.Second

// FormationSource lists the formations of the current manager.
type FormationSource interface {
	ListFormations(ctx context.Context) ([]models.FormationRecord, error)
}

// CacheStore is the durable key-value store holding the formation cache.
// SetMany must apply all entries atomically.
type CacheStore interface {
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	SetMany(ctx context.Context, entries map[string]string) error
}

// Publisher receives every newly published snapshot.
type Publisher interface {
	Publish(snapshot Snapshot)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Snapshot)

// Publish calls f(s).
func (f PublisherFunc) Publish(s Snapshot) { f(s) }

// FailureListener may be implemented by a Publisher to be told when a
// refresh could not reach the backend.
type FailureListener interface {
	RefreshFailed(outcome Outcome, err error)
}

// Source tells where the formation part of a snapshot came from.
type Source string

const (
	SourceStatic     Source = "static"
	SourceCache      Source = "cache"
	SourceBackend    Source = "backend"
	SourceStaleCache Source = "stale_cache"
)

// Snapshot is the published event list: static events first, then
// formation events.
type Snapshot struct {
	Events      []models.CalendarEvent `json:"events"`
	Hash        string                 `json:"hash,omitempty"`
	LastUpdated time.Time              `json:"last_updated"`
	Source      Source                 `json:"source"`
}

// Outcome is the terminal step of one refresh cycle.
type Outcome string

const (
	OutcomeServedFromCache Outcome = "served_from_cache"
	OutcomeHashUnchanged   Outcome = "hash_unchanged"
	OutcomeCacheWritten    Outcome = "cache_written"
	// OutcomeCacheWriteFailed means fresh data was published but could not
	// be persisted.
	OutcomeCacheWriteFailed Outcome = "cache_write_failed"
	OutcomeFallbackToStale  Outcome = "fallback_to_stale_cache"
	OutcomeFetchFailed      Outcome = "fetch_failed"
	// OutcomeDiscarded means the context was cancelled while fetching and
	// the result was dropped.
	OutcomeDiscarded Outcome = "discarded"
)

// Synchronizer owns the in-memory event list and the formation cache.
// It is safe for concurrent use; concurrent refreshes may fetch twice but
// each cache write comes from a single fetch result.
type Synchronizer struct {
	source     FormationSource
	cache      CacheStore
	publishers []Publisher
	static     []models.CalendarEvent
	ttl        time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	// commitMu serializes compare, cache write and publish so the last cache
	// write is also the last publish.
	commitMu sync.Mutex

	mu            sync.RWMutex
	events        []models.CalendarEvent
	publishedHash string
	lastUpdated   time.Time
	lastSource    Source
	validatedAt   time.Time
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithStaticEvents replaces DefaultStaticEvents.
func WithStaticEvents(events []models.CalendarEvent) Option {
	return func(s *Synchronizer) {
		s.static = append([]models.CalendarEvent(nil), events...)
	}
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Synchronizer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// WithPublisher registers a publisher notified on every publish.
func WithPublisher(p Publisher) Option {
	return func(s *Synchronizer) { s.publishers = append(s.publishers, p) }
}

// NewSynchronizer creates a synchronizer whose initial list holds the static
// events only.
func NewSynchronizer(source FormationSource, cache CacheStore, logger zerolog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source:     source,
		cache:      cache,
		static:     DefaultStaticEvents(),
		ttl:        DefaultCacheTTL,
		now:        time.Now,
		logger:     logger.With().Str("component", "calendar_sync").Logger(),
		lastSource: SourceStatic,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = append([]models.CalendarEvent(nil), s.static...)
	return s
}

// AddPublisher registers p after construction. Not safe to call concurrently
// with Refresh.
func (s *Synchronizer) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// TTL returns the cache lifetime.
func (s *Synchronizer) TTL() time.Duration {
	return s.ttl
}

// Events returns a copy of the current published list.
func (s *Synchronizer) Events() []models.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CalendarEvent(nil), s.events...)
}

// LastUpdated returns when the published formation data was last written.
func (s *Synchronizer) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// Snapshot returns a copy of the current published state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Events:      append([]models.CalendarEvent(nil), s.events...),
		Hash:        s.publishedHash,
		LastUpdated: s.lastUpdated,
		Source:      s.lastSource,
	}
}

// LoadFromCache publishes the cached events if the cache is complete,
// compatible and younger than the TTL. It never fails: any problem is a
// miss.
func (s *Synchronizer) LoadFromCache(ctx context.Context) bool {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	entry, err := s.readCache(ctx, true)
	if err != nil {
		cacheLookupsTotal.WithLabelValues("miss").Inc()
		s.logger.Debug().Err(err).Msg("formation cache unusable")
		return false
	}

	if age := entry.Age(s.now()); age >= s.ttl {
		cacheLookupsTotal.WithLabelValues("expired").Inc()
		s.logger.Debug().Dur("age", age).Msg("formation cache expired")
		return false
	}

	cacheLookupsTotal.WithLabelValues("hit").Inc()
	s.publish(entry.Formations, entry.Hash, entry.Timestamp, SourceCache)
	return true
}

// Refresh runs one refresh cycle. Unless force is set, a valid cache or a
// validation younger than the TTL answers without a network call. Results
// arriving after ctx is cancelled are discarded.
func (s *Synchronizer) Refresh(ctx context.Context, force bool) Outcome {
	outcome := s.refresh(ctx, force)
	refreshOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	s.logger.Debug().Bool("force", force).Str("outcome", string(outcome)).Msg("refresh finished")
	return outcome
}

func (s *Synchronizer) refresh(ctx context.Context, force bool) Outcome {
	if !force {
		if s.LoadFromCache(ctx) {
			return OutcomeServedFromCache
		}
		if s.recentlyValidated() {
			return OutcomeServedFromCache
		}
	}

	formations, err := s.source.ListFormations(ctx)
	if ctx.Err() != nil {
		s.logger.Debug().Msg("refresh cancelled, dropping fetch result")
		return OutcomeDiscarded
	}
	if err != nil {
		backendFetchesTotal.WithLabelValues("error").Inc()
		return s.fallback(ctx, fmt.Errorf("%w: %w", ErrNetworkFetch, err))
	}
	backendFetchesTotal.WithLabelValues("ok").Inc()

	hash := Hash(formations)
	events := ToEvents(formations)

	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	now := s.now()

	previous, err := s.storedHash(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("no usable stored hash")
	}

	if previous != "" && previous == hash {
		s.mu.Lock()
		s.validatedAt = now
		current := s.publishedHash
		s.mu.Unlock()

		// Publish once after a cold start with an expired cache; afterwards an
		// unchanged hash is a no-op.
		if current != hash {
			s.publish(events, hash, now, SourceBackend)
		}
		return OutcomeHashUnchanged
	}

	writeErr := s.writeCache(ctx, events, hash, now)
	s.publish(events, hash, now, SourceBackend)
	s.mu.Lock()
	s.validatedAt = now
	s.mu.Unlock()

	if writeErr != nil {
		s.logger.Error().Err(writeErr).Msg("failed to write formation cache")
		return OutcomeCacheWriteFailed
	}

	s.logger.Info().Int("formations", len(events)).Str("hash", hash).Msg("formation cache updated")
	return OutcomeCacheWritten
}

// fallback publishes whatever formations are cached, ignoring the TTL.
func (s *Synchronizer) fallback(ctx context.Context, fetchErr error) Outcome {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	entry, err := s.readCache(ctx, false)
	if err != nil {
		s.logger.Warn().Err(fetchErr).AnErr("cache_error", err).
			Msg("formation fetch failed and no cached formations, keeping current list")
		s.notifyFailure(OutcomeFetchFailed, fetchErr)
		return OutcomeFetchFailed
	}

	s.logger.Warn().Err(fetchErr).Int("formations", len(entry.Formations)).
		Msg("formation fetch failed, serving stale cache")
	s.publish(entry.Formations, entry.Hash, entry.Timestamp, SourceStaleCache)
	s.notifyFailure(OutcomeFallbackToStale, fetchErr)
	return OutcomeFallbackToStale
}

func (s *Synchronizer) notifyFailure(outcome Outcome, err error) {
	for _, p := range s.publishers {
		if l, ok := p.(FailureListener); ok {
			l.RefreshFailed(outcome, err)
		}
	}
}

func (s *Synchronizer) recentlyValidated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.validatedAt.IsZero() && s.now().Sub(s.validatedAt) < s.ttl
}

// publish replaces the in-memory list with static ∪ formations and notifies
// publishers outside the lock.
func (s *Synchronizer) publish(formations []models.CalendarEvent, hash string, updated time.Time, source Source) {
	merged := make([]models.CalendarEvent, 0, len(s.static)+len(formations))
	merged = append(merged, s.static...)
	merged = append(merged, formations...)

	s.mu.Lock()
	s.events = merged
	s.publishedHash = hash
	s.lastUpdated = updated
	s.lastSource = source
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	publishedEvents.Set(float64(len(merged)))
	for _, p := range s.publishers {
		p.Publish(snapshot)
	}
}

// readCache decodes the cache. With requireAll unset only the formations and
// schema version must be present, which is enough for the stale fallback.
func (s *Synchronizer) readCache(ctx context.Context, requireAll bool) (models.CacheEntry, error) {
	var entry models.CacheEntry

	values, err := s.cache.GetMany(ctx, models.CacheKeys)
	if err != nil {
		return entry, fmt.Errorf("%w: %w", ErrCacheRead, err)
	}

	if err := checkSchemaVersion(values); err != nil {
		return entry, err
	}
	entry.SchemaVersion = models.CacheSchemaVersion

	raw, ok := values[models.CacheKeyFormations]
	if !ok {
		return entry, fmt.Errorf("%w: missing %s", ErrCacheRead, models.CacheKeyFormations)
	}
	if err := json.Unmarshal([]byte(raw), &entry.Formations); err != nil {
		return entry, fmt.Errorf("%w: decoding cached formations: %w", ErrSerialization, err)
	}

	entry.Hash = values[models.CacheKeyHash]
	if ts, ok := values[models.CacheKeyTimestamp]; ok {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			if requireAll {
				return entry, fmt.Errorf("%w: bad timestamp %q", ErrCacheRead, ts)
			}
		} else {
			entry.Timestamp = time.UnixMilli(ms)
		}
	}

	if requireAll && (entry.Hash == "" || entry.Timestamp.IsZero()) {
		return entry, fmt.Errorf("%w: incomplete cache entry", ErrCacheRead)
	}

	return entry, nil
}

// storedHash returns the cached hash when it was written with the current
// schema version and the cached formations still decode. Otherwise the cache
// has to be rewritten even if the hash matches.
func (s *Synchronizer) storedHash(ctx context.Context) (string, error) {
	values, err := s.cache.GetMany(ctx, []string{
		models.CacheKeyFormations,
		models.CacheKeyHash,
		models.CacheKeySchemaVersion,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCacheRead, err)
	}
	if err := checkSchemaVersion(values); err != nil {
		return "", err
	}

	raw, ok := values[models.CacheKeyFormations]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrCacheRead, models.CacheKeyFormations)
	}
	var cached []models.CalendarEvent
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return "", fmt.Errorf("%w: decoding cached formations: %w", ErrSerialization, err)
	}

	return values[models.CacheKeyHash], nil
}

func (s *Synchronizer) writeCache(ctx context.Context, events []models.CalendarEvent, hash string, now time.Time) error {
	encoded, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("%w: encoding formations: %w", ErrSerialization, err)
	}

	return s.cache.SetMany(ctx, map[string]string{
		models.CacheKeyFormations:    string(encoded),
		models.CacheKeyTimestamp:     strconv.FormatInt(now.UnixMilli(), 10),
		models.CacheKeyHash:          hash,
		models.CacheKeySchemaVersion: strconv.Itoa(models.CacheSchemaVersion),
	})
}

func checkSchemaVersion(values map[string]string) error {
	raw, ok := values[models.CacheKeySchemaVersion]
	if !ok {
		return fmt.Errorf("%w: missing %s", ErrCacheRead, models.CacheKeySchemaVersion)
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v != models.CacheSchemaVersion {
		return fmt.Errorf("%w: schema version %q, want %d", ErrCacheRead, raw, models.CacheSchemaVersion)
	}
	return nil
}
