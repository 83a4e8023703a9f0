package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/recruitee-exporter/pkg/client"
	"github.com/Sternrassler/recruitee-exporter/pkg/normalize"
	"github.com/rs/zerolog"
)

// Detailer is the part of the share API client the fetcher needs.
type Detailer interface {
	GetCandidate(ctx context.Context, id client.CandidateID) (map[string]any, error)
}

// ItemFetchError reports a candidate whose detail could not be fetched.
type ItemFetchError struct {
	Candidate client.Candidate
	Err       error
}

// Error implements the error interface.
func (e *ItemFetchError) Error() string {
	return fmt.Sprintf("fetch candidate %s (%s): %v", e.Candidate.ID, e.Candidate.Name, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ItemFetchError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one profile fetch: a record or an error.
type Result struct {
	Candidate client.Candidate
	Record    normalize.Record
	Err       error
}

// OK reports whether the fetch produced a record.
func (r Result) OK() bool {
	return r.Err == nil && r.Record != nil
}

// Fetcher retrieves and normalizes single candidate profiles.
type Fetcher struct {
	api     Detailer
	timeout time.Duration
	logger  zerolog.Logger
}

// NewFetcher creates a fetcher. A zero timeout leaves deadlines to ctx and
// the HTTP client.
func NewFetcher(api Detailer, timeout time.Duration, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		api:     api,
		timeout: timeout,
		logger:  logger,
	}
}

// FetchProfile fetches one candidate's detail payload and normalizes it.
// It makes exactly one request; any failure is logged and returned inside
// the Result, never as a panic or a shared error.
func (f *Fetcher) FetchProfile(ctx context.Context, candidate client.Candidate) Result {
	start := time.Now()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	raw, err := f.api.GetCandidate(ctx, candidate.ID)
	if err != nil {
		profilesTotal.WithLabelValues(outcomeFailed).Inc()
		f.logger.Warn().
			Err(err).
			Str("candidate", candidate.Name).
			Str("candidate_id", string(candidate.ID)).
			Str("error_class", string(client.ClassOf(err))).
			Msg("Failed to fetch candidate profile")
		return Result{
			Candidate: candidate,
			Err:       &ItemFetchError{Candidate: candidate, Err: err},
		}
	}

	record := normalize.Normalize(raw)
	// Fill the display name from the list when the detail lacks it.
	if record.String(normalize.DisplayNameField) == "" && candidate.Name != "" {
		record[normalize.DisplayNameField] = candidate.Name
	}
	profilesTotal.WithLabelValues(outcomeEnriched).Inc()

	f.logger.Debug().
		Str("candidate", candidate.Name).
		Int("fields", len(record)).
		Dur("duration", time.Since(start)).
		Msg("Fetched candidate profile")

	return Result{Candidate: candidate, Record: record}
}
