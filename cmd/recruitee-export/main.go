// Command recruitee-export exports the candidates of a Recruitee share
// link as a CSV table plus their CV and photo attachments.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/recruitee-exporter/internal/config"
	"github.com/Sternrassler/recruitee-exporter/pkg/client"
	"github.com/Sternrassler/recruitee-exporter/pkg/logging"
	"github.com/Sternrassler/recruitee-exporter/pkg/metrics"
	"github.com/Sternrassler/recruitee-exporter/pkg/pipeline"
	"github.com/Sternrassler/recruitee-exporter/pkg/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "dev"

type flags struct {
	baseURL             string
	outputDir           string
	concurrency         int
	downloadConcurrency int
	timeout             time.Duration
	logLevel            string
	logPretty           bool
	metricsAddr         string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "recruitee-export <share-link-or-container-id>",
		Short: "Export candidates and attachments of a Recruitee share link",
		Long: `Fetches every candidate of a shared Recruitee container and downloads
each candidate's CV and photo into the output directory. The candidate
table is written next to that directory as <output-dir>.csv.

Settings are read from the environment and an optional .env file; flags
override both.`,
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return err
			}
			applyFlags(cmd, &f, cfg)

			if err := run(cmd.Context(), args[0], cfg, f.metricsAddr); err != nil {
				log.Error().Err(err).Msg("Export failed")
				return err
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.baseURL, "base-url", "", "Recruitee API base URL (env RECRUITEE_BASE_URL)")
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "output directory or object prefix (env RECRUITEE_OUTPUT_DIR)")
	fs.IntVar(&f.concurrency, "concurrency", 0, "max in-flight profile fetches, 0 for unbounded (env RECRUITEE_CONCURRENCY)")
	fs.IntVar(&f.downloadConcurrency, "download-concurrency", 0, "max records downloading at once, 0 for unbounded (env RECRUITEE_DOWNLOAD_CONCURRENCY)")
	fs.DurationVar(&f.timeout, "timeout", 0, "per-profile fetch timeout (env RECRUITEE_TIMEOUT)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (env LOG_LEVEL)")
	fs.BoolVar(&f.logPretty, "log-pretty", false, "human-readable console logs (env LOG_PRETTY)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address during the run")

	return cmd
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("base-url") {
		cfg.Recruitee.BaseURL = f.baseURL
	}
	if changed("output-dir") {
		cfg.Output.Dir = f.outputDir
	}
	if changed("concurrency") {
		cfg.Recruitee.Concurrency = f.concurrency
	}
	if changed("download-concurrency") {
		cfg.Recruitee.DownloadConcurrency = f.downloadConcurrency
	}
	if changed("timeout") {
		cfg.Recruitee.Timeout = f.timeout
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-pretty") {
		cfg.Logging.Pretty = f.logPretty
	}
}

func run(parent context.Context, arg string, cfg *config.Config, metricsAddr string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	containerID, err := containerIDFromArg(arg)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		if _, err := metrics.Serve(ctx, metricsAddr); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}

	clientCfg := client.DefaultConfig(containerID)
	clientCfg.BaseURL = cfg.Recruitee.BaseURL
	clientCfg.UserAgent = "recruitee-exporter/" + version
	api, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer api.Close()

	outputDir := cfg.Output.Dir
	if outputDir == "" {
		outputDir = defaultOutputDir(containerID, time.Now())
	}

	sink, err := newSink(ctx, cfg, outputDir)
	if err != nil {
		return err
	}
	tableSink, tableName, err := newTableSink(ctx, cfg, outputDir)
	if err != nil {
		return err
	}

	log.Info().
		Str("container", containerID).
		Str("output", sink.Location("")).
		Str("table", tableSink.Location(tableName)).
		Msg("Starting export")

	runCfg := pipeline.DefaultConfig()
	runCfg.API = api
	runCfg.Sink = sink
	runCfg.TableSink = tableSink
	runCfg.ExportName = tableName
	runCfg.Enrich.MaxConcurrency = cfg.Recruitee.Concurrency
	runCfg.Enrich.Timeout = cfg.Recruitee.Timeout
	runCfg.Assets.MaxConcurrency = cfg.Recruitee.DownloadConcurrency

	_, err = pipeline.Run(ctx, runCfg)
	return err
}

// newSink returns the object store sink when a bucket is configured and a
// local directory sink otherwise. The output directory doubles as the
// object key prefix.
func newSink(ctx context.Context, cfg *config.Config, outputDir string) (storage.Sink, error) {
	if cfg.S3.Enabled() {
		return storage.NewObject(ctx, storage.ObjectConfig{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			Region:          cfg.S3.Region,
			UseSSL:          cfg.S3.UseSSL,
			Bucket:          cfg.S3.Bucket,
			Prefix:          filepath.ToSlash(filepath.Clean(outputDir)),
		})
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return storage.NewLocal(outputDir)
}

// newTableSink places the table next to the run directory, named after
// it, so the run directory holds attachments only.
func newTableSink(ctx context.Context, cfg *config.Config, outputDir string) (storage.Sink, string, error) {
	clean := filepath.Clean(outputDir)
	name := filepath.Base(clean) + ".csv"
	parent := filepath.Dir(clean)

	if cfg.S3.Enabled() {
		prefix := filepath.ToSlash(parent)
		if prefix == "." {
			prefix = ""
		}
		sink, err := storage.NewObject(ctx, storage.ObjectConfig{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			Region:          cfg.S3.Region,
			UseSSL:          cfg.S3.UseSSL,
			Bucket:          cfg.S3.Bucket,
			Prefix:          prefix,
		})
		return sink, name, err
	}

	sink, err := storage.NewLocal(parent)
	return sink, name, err
}

// containerIDFromArg accepts a share link or a bare container id and
// returns the last non-empty path segment.
func containerIDFromArg(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("container id or share link is required")
	}

	p := arg
	if u, err := url.Parse(arg); err == nil && u.Host != "" {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	id := path.Base(strings.TrimRight(p, "/"))
	if id == "" || id == "." || id == "/" {
		return "", fmt.Errorf("no container id in %q", arg)
	}
	return id, nil
}

// defaultOutputDir names the run directory after the container and date.
func defaultOutputDir(containerID string, now time.Time) string {
	return fmt.Sprintf("./resumes_batch_%s_%s", containerID, now.Format("2006-01-02"))
}
