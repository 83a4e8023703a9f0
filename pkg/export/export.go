// Package export writes enriched records as a CSV table whose columns are
// the sorted union of every record's keys.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/Sternrassler/recruitee-exporter/pkg/logging"
	"github.com/Sternrassler/recruitee-exporter/pkg/metrics"
	"github.com/Sternrassler/recruitee-exporter/pkg/normalize"
	"github.com/Sternrassler/recruitee-exporter/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultFileName is the name of the exported table within a run's sink.
const DefaultFileName = "candidates.csv"

var exportRows = promauto.With(metrics.Registry).NewGauge(prometheus.GaugeOpts{
	Name: "recruitee_export_rows",
	Help: "Rows written by the last table export",
})

// ExportError reports a failure writing the table. It is fatal to a run.
type ExportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// Columns returns the sorted union of all keys.
func Columns(rows []normalize.Sanitized) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		for key := range row {
			seen[key] = struct{}{}
		}
	}

	columns := make([]string, 0, len(seen))
	for key := range seen {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	return columns
}

// Write sanitizes records and writes them as CSV to w: one header row of
// Columns followed by one row per record, with empty cells for keys a
// record lacks. With no records only an empty header line is written. It
// returns the number of data rows written.
func Write(w io.Writer, records []normalize.Record) (int, error) {
	rows := make([]normalize.Sanitized, len(records))
	for i, rec := range records {
		rows[i] = normalize.Sanitize(rec)
	}
	columns := Columns(rows)

	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, &ExportError{Op: "write header", Err: err}
	}

	cells := make([]string, len(columns))
	for n, row := range rows {
		for i, column := range columns {
			cells[i] = row[column]
		}
		if err := cw.Write(cells); err != nil {
			return n, &ExportError{Op: "write row", Err: err}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, &ExportError{Op: "flush", Err: err}
	}

	return len(rows), nil
}

// Exporter writes the table into a sink.
type Exporter struct {
	sink     storage.Sink
	fileName string
	logger   zerolog.Logger
}

// New creates an exporter writing fileName (DefaultFileName when empty).
func New(sink storage.Sink, fileName string) *Exporter {
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &Exporter{
		sink:     sink,
		fileName: fileName,
		logger:   logging.NewLogger("export"),
	}
}

// FileName returns the artifact name of the table.
func (e *Exporter) FileName() string {
	return e.fileName
}

// Export writes all records. On failure the partial table is discarded
// and an *ExportError returned.
func (e *Exporter) Export(ctx context.Context, records []normalize.Record) (int, error) {
	w, err := e.sink.Create(ctx, e.fileName)
	if err != nil {
		return 0, &ExportError{Op: "create", Err: err}
	}

	rows, err := Write(w, records)
	if err != nil {
		if discardErr := storage.Discard(ctx, e.sink, e.fileName, w, err); discardErr != nil {
			e.logger.Warn().Err(discardErr).Str("file", e.fileName).Msg("Failed to discard partial table")
		}
		return 0, err
	}

	if err := w.Close(); err != nil {
		return 0, &ExportError{Op: "close", Err: err}
	}

	exportRows.Set(float64(rows))
	e.logger.Info().
		Int("rows", rows).
		Str("location", e.sink.Location(e.fileName)).
		Msg("Exported candidate table")

	return rows, nil
}
