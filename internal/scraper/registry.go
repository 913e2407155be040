package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"recarmend/listingworker/logger"
	errs "recarmend/listingworker/pkg/errors"
)

// Outcome classifies how one acquisition run ended.
type Outcome string

const (
	// OutcomeSuccess means the run completed with no category aborts.
	OutcomeSuccess Outcome = "success"
	// OutcomePartial means the run completed but some categories aborted.
	OutcomePartial Outcome = "partial"
	// OutcomeFailed means a fatal error ended the run.
	OutcomeFailed Outcome = "failed"
	// OutcomeAborted means the run was cancelled from outside.
	OutcomeAborted Outcome = "aborted"
)

// RunResult summarizes one adapter run. Count reflects the listings that
// reached the sink even when the run ended early; Listings carries them
// for the downstream upload handoff.
type RunResult struct {
	Source   string
	Outcome  Outcome
	Count    int
	Listings []Listing
	Aborts   []CategoryAbort
	Err      error
	Started  time.Time
	Finished time.Time
}

// Registry holds the registered source adapters and runs them. Runs are
// sequential and isolated: one adapter failing, or even panicking, never
// touches another adapter's outcome.
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
	metrics  *Metrics
	log      *logger.Logger
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(metrics *Metrics) *Registry {
	return &Registry{
		scrapers: make(map[string]Scraper),
		metrics:  metrics,
		log:      logger.ForRegistry(),
	}
}

// Register adds a source adapter keyed by its name. Registering the same
// name again replaces the previous adapter.
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrapers[s.GetName()] = s
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunOne runs a single adapter by name. The error return covers only an
// unknown name; run failures are reported inside the RunResult.
func (r *Registry) RunOne(ctx context.Context, name string) (RunResult, error) {
	r.mu.RLock()
	s, ok := r.scrapers[name]
	r.mu.RUnlock()
	if !ok {
		return RunResult{}, errs.NewConfiguration(fmt.Sprintf("unknown source %q", name), nil)
	}
	return r.run(ctx, s), nil
}

// RunAll runs every registered adapter sequentially in sorted-name order
// and returns one result per adapter.
func (r *Registry) RunAll(ctx context.Context) []RunResult {
	adapters := r.adapters()
	results := make([]RunResult, 0, len(adapters))
	for _, s := range adapters {
		results = append(results, r.run(ctx, s))
	}
	return results
}

func (r *Registry) adapters() []Scraper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scrapers))
	for name := range r.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	adapters := make([]Scraper, 0, len(names))
	for _, name := range names {
		adapters = append(adapters, r.scrapers[name])
	}
	return adapters
}

// run executes one adapter and classifies the outcome. A panic inside the
// adapter is converted into a failed result.
func (r *Registry) run(ctx context.Context, s Scraper) (res RunResult) {
	name := s.GetName()
	res = RunResult{Source: name, Started: time.Now()}

	defer func() {
		if rec := recover(); rec != nil {
			res.Err = fmt.Errorf("adapter panicked: %v", rec)
			res.Outcome = OutcomeFailed
			r.log.WithField("source", name).Error().Msgf("Run panicked: %v", rec)
		}
		res.Finished = time.Now()
		r.metrics.IncRun(name, string(res.Outcome))
		r.metrics.ObserveRunDuration(name, res.Finished.Sub(res.Started))
	}()

	r.log.WithField("source", name).Info().Msg("Run started")

	result, err := s.FetchListings(ctx)
	if result != nil {
		res.Count = len(result.Listings)
		res.Listings = result.Listings
		res.Aborts = result.Aborts
	}
	res.Err = err
	res.Outcome = classifyOutcome(err, res.Aborts)

	runLog := r.log.WithFields(logger.Fields{
		"source":   name,
		"outcome":  string(res.Outcome),
		"listings": res.Count,
	})
	if err != nil {
		runLog.WithError(err).Warn().Msg("Run ended with error")
	} else {
		runLog.Info().Msg("Run finished")
	}
	return res
}

func classifyOutcome(err error, aborts []CategoryAbort) Outcome {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return OutcomeAborted
	case err != nil:
		return OutcomeFailed
	case len(aborts) > 0:
		return OutcomePartial
	default:
		return OutcomeSuccess
	}
}
