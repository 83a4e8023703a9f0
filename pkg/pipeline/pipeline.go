// Package pipeline runs one export of a shared container: list the
// candidates, enrich each one, then write the table and download the
// attachments concurrently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/recruitee-exporter/pkg/assets"
	"github.com/Sternrassler/recruitee-exporter/pkg/client"
	"github.com/Sternrassler/recruitee-exporter/pkg/enrich"
	"github.com/Sternrassler/recruitee-exporter/pkg/export"
	"github.com/Sternrassler/recruitee-exporter/pkg/logging"
	"github.com/Sternrassler/recruitee-exporter/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// API is the share API surface a run needs.
type API interface {
	ListCandidates(ctx context.Context) ([]client.Candidate, error)
	enrich.Detailer
	assets.Getter
}

// Config holds everything a run needs.
type Config struct {
	// API is the shared client for all requests of the run (REQUIRED).
	API API

	// Sink receives the attachments (REQUIRED).
	Sink storage.Sink

	// TableSink receives the table. Nil writes the table into Sink.
	TableSink storage.Sink

	Enrich enrich.Config
	Assets assets.Config

	// ExportName is the table file name (default export.DefaultFileName).
	ExportName string
}

// DefaultConfig returns a configuration with default fan-out settings.
// API and Sink must still be set.
func DefaultConfig() Config {
	return Config{
		Enrich:     enrich.DefaultConfig(),
		Assets:     assets.DefaultConfig(),
		ExportName: export.DefaultFileName,
	}
}

// Summary reports what a run did.
type Summary struct {
	Listed         int
	Enriched       int
	FetchFailed    int
	Rows           int
	Downloaded     int
	Skipped        int
	DownloadFailed int
	Duration       time.Duration
}

// Run executes one export. A failed list call or a failed table export
// is returned as an error; per-candidate and per-attachment failures are
// logged and counted in the Summary.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	if cfg.API == nil {
		return Summary{}, errors.New("pipeline: api is required")
	}
	if cfg.Sink == nil {
		return Summary{}, errors.New("pipeline: sink is required")
	}

	start := time.Now()
	logger := logging.NewLogger("pipeline")

	candidates, err := cfg.API.ListCandidates(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list candidates")
		return Summary{}, fmt.Errorf("list candidates: %w", err)
	}

	summary := Summary{Listed: len(candidates)}

	enriched := enrich.New(cfg.API, cfg.Enrich).EnrichAll(ctx, candidates)
	summary.Enriched = len(enriched.Records)
	summary.FetchFailed = len(enriched.Failures)

	tableSink := cfg.TableSink
	if tableSink == nil {
		tableSink = cfg.Sink
	}
	exporter := export.New(tableSink, cfg.ExportName)
	downloader := assets.New(cfg.API, cfg.Sink, cfg.Assets)

	// Downloads never report into the group, so an export failure does not
	// stop attachments already in flight.
	var g errgroup.Group
	var downloads assets.Summary

	g.Go(func() error {
		rows, err := exporter.Export(ctx, enriched.Records)
		summary.Rows = rows
		return err
	})
	g.Go(func() error {
		downloads = downloader.DownloadAll(ctx, enriched.Records)
		return nil
	})

	exportErr := g.Wait()

	summary.Downloaded = downloads.Downloaded
	summary.Skipped = downloads.Skipped
	summary.DownloadFailed = downloads.Failed
	summary.Duration = time.Since(start)

	if exportErr != nil {
		logger.Error().Err(exportErr).Msg("Table export failed")
		return summary, exportErr
	}

	logger.Info().
		Int("listed", summary.Listed).
		Int("enriched", summary.Enriched).
		Int("fetch_failed", summary.FetchFailed).
		Int("rows", summary.Rows).
		Int("downloaded", summary.Downloaded).
		Int("skipped", summary.Skipped).
		Int("download_failed", summary.DownloadFailed).
		Dur("duration", summary.Duration).
		Msg("Done")

	return summary, nil
}
