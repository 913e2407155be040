// Package scheduler runs the acquisition registry on a recurring cadence
// and on manual demand, keeping a durable run record per adapter. One
// background loop owns the passage of time; adapters run sequentially
// and at most one run per adapter is ever in flight.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/logger"
	"recarmend/listingworker/services/cache"
	"recarmend/listingworker/services/publisher"
)

// ErrRunInFlight rejects a trigger for an adapter that is already
// running. Two concurrent runs would interleave writes into one sink, so
// triggers are rejected rather than queued.
var ErrRunInFlight = errors.New("a run for this source is already in flight")

// Uploader is the downstream persistence collaborator that receives the
// full set of listings acquired by a completed run.
type Uploader interface {
	Upload(ctx context.Context, source string, listings []scraper.Listing) error
}

// Scheduler drives scheduled and manual acquisition runs.
type Scheduler struct {
	registry *scraper.Registry
	store    *Store
	uploader Uploader            // may be nil
	pub      publisher.Publisher // may be nil
	cacheSvc cache.CacheService  // may be nil

	runInterval   time.Duration
	checkInterval time.Duration

	// inFlight holds one token while any run is active. Runs are
	// sequential, so a single slot covers per-adapter exclusivity too.
	inFlight chan struct{}

	log *logger.Logger
}

// New creates a scheduler over the given registry and run record store.
// uploader, pub and cacheSvc may be nil; the handoff, run events and
// cooldown clearing are then skipped.
func New(registry *scraper.Registry, store *Store, uploader Uploader, pub publisher.Publisher, cacheSvc cache.CacheService, runInterval, checkInterval time.Duration) *Scheduler {
	return &Scheduler{
		registry:      registry,
		store:         store,
		uploader:      uploader,
		pub:           pub,
		cacheSvc:      cacheSvc,
		runInterval:   runInterval,
		checkInterval: checkInterval,
		inFlight:      make(chan struct{}, 1),
		log:           logger.ForScheduler(),
	}
}

// Start runs the scheduling loop until ctx is cancelled. Each wake-up
// checks every registered adapter's due-ness and runs the due ones
// sequentially. A failed run is recorded and waits for the next tick or
// a manual retrigger; it never stops the loop.
func (s *Scheduler) Start(ctx context.Context) {
	for _, name := range s.registry.Names() {
		if err := s.store.Ensure(name); err != nil {
			s.log.WithField("source", name).WithError(err).Error().Msg("Failed to initialize run record")
		}
	}

	s.log.WithFields(logger.Fields{
		"run_interval":   s.runInterval.String(),
		"check_interval": s.checkInterval.String(),
		"sources":        s.registry.Names(),
	}).Info().Msg("Scheduler started")

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		s.runDue(ctx)

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// runDue runs every adapter whose interval has elapsed, then trims the
// event streams once for the whole cycle.
func (s *Scheduler) runDue(ctx context.Context) {
	ran := false
	for _, name := range s.registry.Names() {
		if ctx.Err() != nil {
			return
		}
		if !s.due(name) {
			continue
		}
		ran = true
		if _, err := s.runOne(ctx, name); err != nil && !errors.Is(err, ErrRunInFlight) {
			s.log.WithField("source", name).WithError(err).Error().Msg("Scheduled run could not start")
		}
	}

	if ran && s.pub != nil {
		if err := s.pub.TrimStreams(); err != nil {
			s.log.WithError(err).Warn().Msg("Failed to trim event streams")
		}
	}
}

// due reports whether an adapter's configured interval has elapsed since
// its last attempt. Failed attempts count: retry is the next scheduled
// tick, never an immediate loop.
func (s *Scheduler) due(name string) bool {
	rec, ok := s.store.Get(name)
	if !ok || rec.LastAttempt.IsZero() {
		return true
	}
	return time.Since(rec.LastAttempt) >= s.runInterval
}

// TriggerRun runs one adapter immediately, bypassing the due-ness check
// and clearing any active cooldown so the operator's intent wins over a
// waiting window. Returns ErrRunInFlight when the adapter is already
// running.
func (s *Scheduler) TriggerRun(ctx context.Context, name string) (scraper.RunResult, error) {
	s.clearCooldown(name)
	return s.runOne(ctx, name)
}

// TriggerAll runs every registered adapter immediately and sequentially.
// Adapters with a run already in flight are skipped.
func (s *Scheduler) TriggerAll(ctx context.Context) []scraper.RunResult {
	results := make([]scraper.RunResult, 0, len(s.registry.Names()))
	for _, name := range s.registry.Names() {
		s.clearCooldown(name)
		res, err := s.runOne(ctx, name)
		if err != nil {
			s.log.WithField("source", name).WithError(err).Warn().Msg("Skipping source")
			continue
		}
		results = append(results, res)
	}
	if s.pub != nil {
		if err := s.pub.TrimStreams(); err != nil {
			s.log.WithError(err).Warn().Msg("Failed to trim event streams")
		}
	}
	return results
}

// Status returns the run record of every known adapter in sorted order.
func (s *Scheduler) Status() []RunRecord {
	return s.store.All()
}

// runOne executes one adapter run end to end: exclusivity, the registry
// run itself, the run record update, the upload handoff and the run
// event. Only failure to start (unknown source, run in flight) is
// returned as an error; a failed run lives in the RunResult and the
// record.
func (s *Scheduler) runOne(ctx context.Context, name string) (scraper.RunResult, error) {
	select {
	case s.inFlight <- struct{}{}:
	default:
		return scraper.RunResult{}, ErrRunInFlight
	}
	defer func() { <-s.inFlight }()

	runID := uuid.New().String()

	res, err := s.registry.RunOne(ctx, name)
	if err != nil {
		return scraper.RunResult{}, err
	}

	rec, _ := s.store.Get(name)
	rec.Source = name
	rec.LastRunID = runID
	rec.LastAttempt = res.Started
	rec.Outcome = res.Outcome
	rec.Count = res.Count
	rec.ErrorSummary = ""
	if res.Err != nil {
		rec.ErrorSummary = res.Err.Error()
	}
	if res.Outcome == scraper.OutcomeSuccess || res.Outcome == scraper.OutcomePartial {
		rec.LastSuccess = res.Finished
	}

	if completed(res.Outcome) && res.Count > 0 && s.uploader != nil {
		if upErr := s.uploader.Upload(ctx, name, res.Listings); upErr != nil {
			s.log.WithField("source", name).WithError(upErr).Error().Msg("Upload handoff failed")
			rec.ErrorSummary = "upload failed: " + upErr.Error()
		}
	}

	if err := s.store.Put(rec); err != nil {
		s.log.WithField("source", name).WithError(err).Error().Msg("Failed to persist run record")
	}

	s.publishRun(runID, res)
	return res, nil
}

// clearCooldown removes an adapter's cooldown window ahead of a manual
// run. Scheduled runs leave cooldowns alone and fail fast instead.
func (s *Scheduler) clearCooldown(name string) {
	if err := cache.ClearCooldown(s.cacheSvc, name); err != nil {
		s.log.WithField("source", name).WithError(err).Warn().Msg("Failed to clear cooldown")
	}
}

func completed(o scraper.Outcome) bool {
	return o == scraper.OutcomeSuccess || o == scraper.OutcomePartial
}

// publishRun emits one run event. Publishing is best-effort; a broker
// outage never fails a run.
func (s *Scheduler) publishRun(runID string, res scraper.RunResult) {
	if s.pub == nil {
		return
	}
	event := publisher.RunEvent{
		RunID:    runID,
		Source:   res.Source,
		Outcome:  string(res.Outcome),
		Count:    res.Count,
		Finished: res.Finished,
	}
	if err := s.pub.PublishRun(event); err != nil {
		s.log.WithField("source", res.Source).WithError(err).Warn().Msg("Failed to publish run event")
	}
}
