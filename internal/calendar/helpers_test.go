package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

var errBackendDown = errors.New("backend down")

type fakeSource struct {
	mu         sync.Mutex
	formations []models.FormationRecord
	err        error
	calls      int
	// started, when set, receives once per call before release is awaited.
	started chan struct{}
	release chan struct{}
}

func (f *fakeSource) ListFormations(ctx context.Context) ([]models.FormationRecord, error) {
	f.mu.Lock()
	f.calls++
	formations, err := f.formations, f.err
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return append([]models.FormationRecord(nil), formations...), err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memCache struct {
	mu     sync.Mutex
	values map[string]string
	writes int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string]string)}
}

func (c *memCache) GetMany(_ context.Context, keys []string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := c.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (c *memCache) SetMany(_ context.Context, entries map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	for k, v := range entries {
		c.values[k] = v
	}
	return nil
}

func (c *memCache) get(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

func (c *memCache) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func strPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func sampleFormations() []models.FormationRecord {
	return []models.FormationRecord{
		{ID: 1, Name: "Impression 3D", StartDate: "2025-03-10", EndDate: strPtr("2025-03-12"), Status: models.FormationStatusPlanned},
		{ID: 2, Name: "Découpe laser", StartDate: "2025-03-20", Status: models.FormationStatusInProgress},
	}
}

// seedCache writes a complete cache entry as the synchronizer would.
func seedCache(t *testing.T, c *memCache, events []models.CalendarEvent, hash string, written time.Time) {
	t.Helper()
	encoded, err := json.Marshal(events)
	require.NoError(t, err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[models.CacheKeyFormations] = string(encoded)
	c.values[models.CacheKeyTimestamp] = strconv.FormatInt(written.UnixMilli(), 10)
	c.values[models.CacheKeyHash] = hash
	c.values[models.CacheKeySchemaVersion] = strconv.Itoa(models.CacheSchemaVersion)
}

func newTestSync(src FormationSource, cache CacheStore, clock *testClock, opts ...Option) *Synchronizer {
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewSynchronizer(src, cache, zerolog.Nop(), opts...)
}

// sequenceSource returns results[i] on the i-th call, repeating the last one.
type sequenceSource struct {
	mu      sync.Mutex
	results [][]models.FormationRecord
	calls   int
}

func (s *sequenceSource) ListFormations(context.Context) ([]models.FormationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return append([]models.FormationRecord(nil), s.results[i]...), nil
}

func (s *sequenceSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// gatedCache applies its first SetMany and then parks until release is
// closed, signalling entered once the write has landed.
type gatedCache struct {
	*memCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedCache() *gatedCache {
	return &gatedCache{
		memCache: newMemCache(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (g *gatedCache) SetMany(ctx context.Context, entries map[string]string) error {
	err := g.memCache.SetMany(ctx, entries)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return err
}
