// Package assets downloads the CV and photo attachments of enriched
// records into a storage sink.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/recruitee-exporter/pkg/logging"
	"github.com/Sternrassler/recruitee-exporter/pkg/metrics"
	"github.com/Sternrassler/recruitee-exporter/pkg/normalize"
	"github.com/Sternrassler/recruitee-exporter/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
)

// DefaultChunkSize is the buffer used to stream attachment bodies.
const DefaultChunkSize = 8 << 10

var (
	assetsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "recruitee_assets_total",
		Help: "Attachment downloads by kind and outcome",
	}, []string{"kind", "outcome"})

	assetBytesTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "recruitee_asset_bytes_total",
		Help: "Attachment bytes written by kind",
	}, []string{"kind"})
)

// ErrContentType is returned when a response declares the wrong media type.
var ErrContentType = errors.New("content type mismatch")

// ErrUnexpectedStatus is returned for any response status other than 200.
var ErrUnexpectedStatus = errors.New("unexpected status")

// AssetDownloadError reports a failed attachment download.
type AssetDownloadError struct {
	Name string
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *AssetDownloadError) Error() string {
	return fmt.Sprintf("download %s for %s: %v", e.Kind, e.Name, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AssetDownloadError) Unwrap() error {
	return e.Err
}

// Status is the outcome of one attachment task.
type Status string

const (
	StatusDownloaded Status = "downloaded"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Outcome describes one attachment task.
type Outcome struct {
	Ref    Ref
	File   string
	Bytes  int64
	Status Status
	Err    error
}

// Summary aggregates the outcomes of a DownloadAll call.
type Summary struct {
	Downloaded int
	Skipped    int
	Failed     int
	Bytes      int64
	Outcomes   []Outcome
	Duration   time.Duration
}

// Getter issues a GET for an absolute URL.
type Getter interface {
	Fetch(ctx context.Context, rawURL string) (*http.Response, error)
}

// Config holds downloader configuration.
type Config struct {
	// MaxConcurrency caps how many records download at once. Zero or
	// less starts every record immediately.
	MaxConcurrency int

	// ChunkSize is the streaming buffer size (default DefaultChunkSize).
	ChunkSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 0,
		ChunkSize:      DefaultChunkSize,
	}
}

// Downloader fetches attachments through a shared Getter into a Sink.
type Downloader struct {
	api    Getter
	sink   storage.Sink
	config Config
	logger zerolog.Logger
}

// New creates a downloader.
func New(api Getter, sink storage.Sink, config Config) *Downloader {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	return &Downloader{
		api:    api,
		sink:   sink,
		config: config,
		logger: logging.NewLogger("assets"),
	}
}

// DownloadAll downloads the attachments of every record concurrently.
// One record's failures or slowness never cancel another's downloads.
func (d *Downloader) DownloadAll(ctx context.Context, records []normalize.Record) Summary {
	start := time.Now()

	perRecord := make([][]Outcome, len(records))

	p := pool.New()
	if d.config.MaxConcurrency > 0 {
		p = p.WithMaxGoroutines(d.config.MaxConcurrency)
	}

	var finished atomic.Int64
	for i, rec := range records {
		p.Go(func() {
			perRecord[i] = d.Download(ctx, rec)
			finished.Add(1)
		})
	}
	p.Wait()

	var summary Summary
	for _, outcomes := range perRecord {
		for _, o := range outcomes {
			switch o.Status {
			case StatusDownloaded:
				summary.Downloaded++
				summary.Bytes += o.Bytes
			case StatusSkipped:
				summary.Skipped++
			case StatusFailed:
				summary.Failed++
			}
			summary.Outcomes = append(summary.Outcomes, o)
		}
	}
	summary.Duration = time.Since(start)

	d.logger.Info().
		Int64("records", finished.Load()).
		Int("downloaded", summary.Downloaded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int64("bytes", summary.Bytes).
		Dur("duration", summary.Duration).
		Msg("Attachment downloads complete")

	return summary
}

// Download fetches the document and image of one record concurrently and
// returns one Outcome per attachment kind.
func (d *Downloader) Download(ctx context.Context, rec normalize.Record) []Outcome {
	refs := Refs(rec)
	outcomes := make([]Outcome, len(refs))

	var wg conc.WaitGroup
	for i, ref := range refs {
		wg.Go(func() {
			outcomes[i] = d.fetch(ctx, ref, attachments[i])
		})
	}
	wg.Wait()

	return outcomes
}

// fetch runs one attachment task. Every failure is contained in the
// returned Outcome.
func (d *Downloader) fetch(ctx context.Context, ref Ref, att attachment) Outcome {
	file := FileName(ref.Name, ref.Kind)
	outcome := Outcome{Ref: ref, File: file}
	logger := d.logger.With().
		Str("candidate", ref.Name).
		Str("kind", string(ref.Kind)).
		Logger()

	if ref.URL == "" {
		logger.Debug().Msg("No URL, skipping")
		outcome.Status = StatusSkipped
		assetsTotal.WithLabelValues(string(ref.Kind), string(StatusSkipped)).Inc()
		return outcome
	}

	n, err := d.save(ctx, ref, att, file)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = &AssetDownloadError{Name: ref.Name, Kind: ref.Kind, Err: err}
		assetsTotal.WithLabelValues(string(ref.Kind), string(StatusFailed)).Inc()

		event := logger.Warn().Err(err)
		if errors.Is(err, ErrContentType) {
			event.Msg("Content type mismatch, nothing written")
		} else {
			event.Msg("Failed to download attachment")
		}
		return outcome
	}

	outcome.Status = StatusDownloaded
	outcome.Bytes = n
	assetsTotal.WithLabelValues(string(ref.Kind), string(StatusDownloaded)).Inc()
	assetBytesTotal.WithLabelValues(string(ref.Kind)).Add(float64(n))

	logger.Info().
		Int64("bytes", n).
		Str("location", d.sink.Location(file)).
		Msg("Downloaded attachment")

	return outcome
}

// save performs the request, validates it and streams the body into the
// sink. Nothing is created in the sink unless the response is accepted.
func (d *Downloader) save(ctx context.Context, ref Ref, att attachment, file string) (int64, error) {
	resp, err := d.api.Fetch(ctx, ref.URL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	if att.mediaType != "" {
		declared := resp.Header.Get("Content-Type")
		mediaType, _, err := mime.ParseMediaType(declared)
		if err != nil || mediaType != att.mediaType {
			return 0, fmt.Errorf("%w: got %q, want %q", ErrContentType, declared, att.mediaType)
		}
	}

	w, err := d.sink.Create(ctx, file)
	if err != nil {
		return 0, err
	}

	n, err := copyChunks(w, resp.Body, d.config.ChunkSize)
	if err != nil {
		if discardErr := storage.Discard(ctx, d.sink, file, w, err); discardErr != nil {
			d.logger.Warn().Err(discardErr).Str("file", file).Msg("Failed to discard partial attachment")
		}
		return n, err
	}

	if err := w.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", file, err)
	}
	return n, nil
}

// copyChunks streams src to dst in fixed-size chunks.
func copyChunks(dst io.Writer, src io.Reader, size int) (int64, error) {
	buf := make([]byte, size)
	var written int64
	for {
		nr, readErr := src.Read(buf)
		if nr > 0 {
			nw, err := dst.Write(buf[:nr])
			written += int64(nw)
			if err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			if nw != nr {
				return written, fmt.Errorf("write: %w", io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}
}
