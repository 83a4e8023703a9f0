package enrich

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/recruitee-exporter/pkg/client"
	"github.com/Sternrassler/recruitee-exporter/pkg/logging"
	"github.com/Sternrassler/recruitee-exporter/pkg/metrics"
	"github.com/Sternrassler/recruitee-exporter/pkg/normalize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sourcegraph/conc/pool"
)

const (
	outcomeEnriched = "enriched"
	outcomeFailed   = "failed"
)

var profilesTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
	Name: "recruitee_profiles_total",
	Help: "Candidate profile fetches by outcome",
}, []string{"outcome"})

// progressEvery controls how often completion progress is logged.
const progressEvery = 50

// Config holds orchestrator configuration.
type Config struct {
	// MaxConcurrency caps in-flight profile fetches. Zero or less means
	// every fetch starts immediately.
	MaxConcurrency int

	// Timeout per profile fetch. Zero leaves it to the HTTP client.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration: unbounded fan-out and a
// 30s per-fetch timeout.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 0,
		Timeout:        30 * time.Second,
	}
}

// Outcome is the aggregated result of an enrichment run.
type Outcome struct {
	// Records holds one record per successful fetch, in submission order.
	Records []normalize.Record

	// Failures holds one error per failed fetch, in submission order.
	Failures []*ItemFetchError

	Duration time.Duration
}

// Orchestrator fans profile fetches out over a candidate list.
type Orchestrator struct {
	fetcher *Fetcher
	config  Config
}

// New creates a new orchestrator.
func New(api Detailer, config Config) *Orchestrator {
	if config.Timeout < 0 {
		config.Timeout = 0
	}

	logger := logging.NewLogger("enrich")

	return &Orchestrator{
		fetcher: NewFetcher(api, config.Timeout, logger),
		config:  config,
	}
}

// EnrichAll fetches every candidate's profile and waits for all of them.
// Failures are dropped from Records and reported in Failures.
func (o *Orchestrator) EnrichAll(ctx context.Context, candidates []client.Candidate) Outcome {
	start := time.Now()
	results := o.FetchAll(ctx, candidates)

	outcome := Outcome{Records: make([]normalize.Record, 0, len(results))}
	for _, result := range results {
		if result.OK() {
			outcome.Records = append(outcome.Records, result.Record)
			continue
		}
		fetchErr, ok := result.Err.(*ItemFetchError)
		if !ok {
			fetchErr = &ItemFetchError{Candidate: result.Candidate, Err: result.Err}
		}
		outcome.Failures = append(outcome.Failures, fetchErr)
	}
	outcome.Duration = time.Since(start)
	return outcome
}

// FetchAll runs one FetchProfile task per candidate and returns every
// Result in submission order. Each task writes only its own slot.
func (o *Orchestrator) FetchAll(ctx context.Context, candidates []client.Candidate) []Result {
	start := time.Now()
	logger := o.fetcher.logger

	logger.Info().
		Int("candidates", len(candidates)).
		Int("max_concurrency", o.config.MaxConcurrency).
		Msg("Starting profile fetch")

	results := make([]Result, len(candidates))
	if len(candidates) == 0 {
		return results
	}

	p := pool.New()
	if o.config.MaxConcurrency > 0 {
		p = p.WithMaxGoroutines(o.config.MaxConcurrency)
	}

	var done, failed atomic.Int64
	for i, candidate := range candidates {
		p.Go(func() {
			results[i] = o.fetcher.FetchProfile(ctx, candidate)
			if !results[i].OK() {
				failed.Add(1)
			}

			if n := done.Add(1); n%progressEvery == 0 {
				logger.Info().
					Int64("fetched", n).
					Int("total", len(candidates)).
					Float64("progress_pct", float64(n)/float64(len(candidates))*100).
					Msg("Fetch progress")
			}
		})
	}
	p.Wait()

	logger.Info().
		Int("total", len(candidates)).
		Int64("enriched", done.Load()-failed.Load()).
		Int64("failed", failed.Load()).
		Dur("duration", time.Since(start)).
		Msg("Profile fetch complete")

	return results
}
