package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recarmend/listingworker/internal/scraper"
	errs "recarmend/listingworker/pkg/errors"
	"recarmend/listingworker/services/cache"
	"recarmend/listingworker/services/publisher"
)

type stubScraper struct {
	name    string
	result  *scraper.Result
	err     error
	started chan struct{} // closed when FetchListings begins, if set
	release chan struct{} // blocks FetchListings until closed, if set

	mu    sync.Mutex
	calls int
}

var _ scraper.Scraper = (*stubScraper)(nil)

func (s *stubScraper) FetchListings(ctx context.Context) (*scraper.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return &scraper.Result{}, ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *stubScraper) GetName() string { return s.name }

func (s *stubScraper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubUploader struct {
	mu      sync.Mutex
	uploads map[string][]scraper.Listing
	err     error
}

var _ Uploader = (*stubUploader)(nil)

func (u *stubUploader) Upload(ctx context.Context, source string, listings []scraper.Listing) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.uploads == nil {
		u.uploads = make(map[string][]scraper.Listing)
	}
	u.uploads[source] = listings
	return u.err
}

type stubPublisher struct {
	mu     sync.Mutex
	events []publisher.RunEvent
	trims  int
}

var _ publisher.Publisher = (*stubPublisher)(nil)

func (p *stubPublisher) PublishRun(event publisher.RunEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) TrimStreams() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trims++
	return nil
}

func (p *stubPublisher) Close() error { return nil }

type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

var _ cache.CacheService = (*memoryCache)(nil)

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (m *memoryCache) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		return nil, errors.New("cache miss")
	}
	return value, nil
}

func (m *memoryCache) Set(key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func listingsN(source string, n int) []scraper.Listing {
	listings := make([]scraper.Listing, 0, n)
	for i := 0; i < n; i++ {
		listings = append(listings, scraper.Listing{
			URL:         "https://example.test/v/" + strconv.Itoa(i),
			Source:      source,
			ExtractedAt: time.Now(),
		})
	}
	return listings
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "run_state.json"))
	require.NoError(t, err)
	return store
}

func TestTriggerRunUpdatesRecordAndHandsOff(t *testing.T) {
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &scraper.Result{Listings: listingsN("CarPages", 3)}})

	store := newTestStore(t)
	up := &stubUploader{}
	pub := &stubPublisher{}
	s := New(reg, store, up, pub, nil, time.Hour, time.Minute)

	res, err := s.TriggerRun(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, scraper.OutcomeSuccess, res.Outcome)

	rec, ok := store.Get("CarPages")
	require.True(t, ok)
	assert.Equal(t, scraper.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, 3, rec.Count)
	assert.NotEmpty(t, rec.LastRunID)
	assert.False(t, rec.LastAttempt.IsZero())
	assert.False(t, rec.LastSuccess.IsZero())
	assert.Empty(t, rec.ErrorSummary)

	assert.Len(t, up.uploads["CarPages"], 3)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "CarPages", pub.events[0].Source)
	assert.Equal(t, string(scraper.OutcomeSuccess), pub.events[0].Outcome)
	assert.Equal(t, 3, pub.events[0].Count)
	assert.Equal(t, rec.LastRunID, pub.events[0].RunID)
}

func TestTriggerRunFailedRunRecordedWithoutUpload(t *testing.T) {
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{
		name: "CarPages",
		err:  errs.NewStructural("CarPages", "listing container not found", nil),
	})

	store := newTestStore(t)
	up := &stubUploader{}
	s := New(reg, store, up, nil, nil, time.Hour, time.Minute)

	res, err := s.TriggerRun(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, scraper.OutcomeFailed, res.Outcome)

	rec, ok := store.Get("CarPages")
	require.True(t, ok)
	assert.Equal(t, scraper.OutcomeFailed, rec.Outcome)
	assert.Contains(t, rec.ErrorSummary, "listing container not found")
	assert.True(t, rec.LastSuccess.IsZero())

	assert.Empty(t, up.uploads)
}

func TestTriggerRunUnknownSource(t *testing.T) {
	s := New(scraper.NewRegistry(nil), newTestStore(t), nil, nil, nil, time.Hour, time.Minute)

	_, err := s.TriggerRun(context.Background(), "Kijiji")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeConfiguration, errs.TypeOf(err))
}

func TestTriggerRunClearsCooldown(t *testing.T) {
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &scraper.Result{Listings: listingsN("CarPages", 1)}})

	svc := newMemoryCache()
	require.NoError(t, cache.SetCooldown(svc, "CarPages", time.Minute))
	require.True(t, cache.CooldownActive(svc, "CarPages"))

	s := New(reg, newTestStore(t), nil, nil, svc, time.Hour, time.Minute)

	res, err := s.TriggerRun(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, scraper.OutcomeSuccess, res.Outcome)
	assert.False(t, cache.CooldownActive(svc, "CarPages"))
}

func TestTriggerRunRejectedWhileInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{
		name:    "CarPages",
		result:  &scraper.Result{},
		started: started,
		release: release,
	})

	s := New(reg, newTestStore(t), nil, nil, nil, time.Hour, time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.TriggerRun(context.Background(), "CarPages")
		assert.NoError(t, err)
	}()

	<-started
	_, err := s.TriggerRun(context.Background(), "CarPages")
	assert.ErrorIs(t, err, ErrRunInFlight)

	close(release)
	<-done
}

func TestTriggerAllIsolatesFailures(t *testing.T) {
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{name: "AutoTrader", err: errs.NewStructural("AutoTrader", "markup changed", nil)})
	reg.Register(&stubScraper{name: "CarPages", result: &scraper.Result{Listings: listingsN("CarPages", 2)}})

	store := newTestStore(t)
	pub := &stubPublisher{}
	s := New(reg, store, nil, pub, nil, time.Hour, time.Minute)

	results := s.TriggerAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "AutoTrader", results[0].Source)
	assert.Equal(t, scraper.OutcomeFailed, results[0].Outcome)
	assert.Equal(t, "CarPages", results[1].Source)
	assert.Equal(t, scraper.OutcomeSuccess, results[1].Outcome)
	assert.Equal(t, 2, results[1].Count)

	failed, _ := store.Get("AutoTrader")
	ok, _ := store.Get("CarPages")
	assert.Equal(t, scraper.OutcomeFailed, failed.Outcome)
	assert.Equal(t, scraper.OutcomeSuccess, ok.Outcome)
	assert.Equal(t, 2, ok.Count)

	assert.Len(t, pub.events, 2)
	assert.Equal(t, 1, pub.trims)
}

func TestDueness(t *testing.T) {
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &scraper.Result{}})

	store := newTestStore(t)
	s := New(reg, store, nil, nil, nil, time.Hour, time.Minute)

	// Never attempted: due.
	assert.True(t, s.due("CarPages"))

	require.NoError(t, store.Put(RunRecord{Source: "CarPages", LastAttempt: time.Now()}))
	assert.False(t, s.due("CarPages"))

	// Failed attempts also push the next run out a full interval.
	require.NoError(t, store.Put(RunRecord{
		Source:      "CarPages",
		LastAttempt: time.Now().Add(-2 * time.Hour),
		Outcome:     scraper.OutcomeFailed,
	}))
	assert.True(t, s.due("CarPages"))
}

func TestStartRunsDueAdaptersAndStops(t *testing.T) {
	started := make(chan struct{})
	stub := &stubScraper{name: "CarPages", result: &scraper.Result{Listings: listingsN("CarPages", 1)}, started: started}
	reg := scraper.NewRegistry(nil)
	reg.Register(stub)

	store := newTestStore(t)
	s := New(reg, store, nil, nil, nil, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(ctx)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run never started")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}

	assert.Equal(t, 1, stub.callCount())
	rec, ok := store.Get("CarPages")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count)
}

func TestUploadFailureRecordedInSummary(t *testing.T) {
	reg := scraper.NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &scraper.Result{Listings: listingsN("CarPages", 2)}})

	store := newTestStore(t)
	up := &stubUploader{err: errs.NewUpload("CarPages", "connection refused", nil)}
	s := New(reg, store, up, nil, nil, time.Hour, time.Minute)

	res, err := s.TriggerRun(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, scraper.OutcomeSuccess, res.Outcome)

	rec, _ := store.Get("CarPages")
	assert.Contains(t, rec.ErrorSummary, "upload failed")
	assert.Equal(t, scraper.OutcomeSuccess, rec.Outcome)
}
