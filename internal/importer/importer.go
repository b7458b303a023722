package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/meter-sync-worker/internal/db"
	"github.com/septivank/meter-sync-worker/tools/timeparser"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// Workbook column headers, exactly as exported by the utility's billing
// system. Headers sit on row 2; data starts on row 3.
const (
	colIDCode      = "Идентификационный код"
	colAddress     = "Адрес"
	colClientName  = "Наименование объекта сети"
	colMeterType   = "Тип прибора учета"
	colMeterNumber = "Номер ПУ"
	colPrevReading = "Предыдущие показания"
	colVisitDate   = "Дата обхода"
)

// Only the identification code is mandatory.
var requiredColumns = []string{colIDCode}

// ErrCancelled is returned by Run when the task was cancelled between
// batches. Batches committed before the cancellation are kept.
var ErrCancelled = errors.New("import cancelled")

// MeterStore is the slice of the repository the importer writes through.
type MeterStore interface {
	InsertMetersIgnoreDuplicates(ctx context.Context, meters []db.Meter) (int64, error)
	InsertMeterIgnoreDuplicate(ctx context.Context, m db.Meter) (bool, error)
}

// ProgressFunc receives row-level progress at a bounded cadence.
type ProgressFunc func(ctx context.Context, current, total, success, failed int)

// CancelFunc reports whether the surrounding task was cancelled.
type CancelFunc func(ctx context.Context) bool

// RowError describes one rejected row.
type RowError struct {
	Row         int    `json:"row,omitempty"`
	MeterNumber string `json:"meter_number,omitempty"`
	Error       string `json:"error"`
}

// Summary is the final tally of one import run.
type Summary struct {
	File    string     `json:"file"`
	Success int        `json:"success"`
	Failed  int        `json:"failed"`
	Total   int        `json:"total"`
	Errors  []RowError `json:"errors"`
}

// Importer ingests meter workbooks idempotently: rows are deduplicated
// within the file and written with insert-if-absent in bounded batches.
// Both the blocking and the task-wrapped asynchronous path run through
// Run.
type Importer struct {
	store         MeterStore
	batchSize     int
	progressEvery int
	maxErrors     int
	logger        *zap.Logger
}

// NewImporter creates a new bulk importer
func NewImporter(store MeterStore, batchSize, progressEvery, maxErrors int, logger *zap.Logger) *Importer {
	if batchSize < 1 {
		batchSize = 1
	}
	if progressEvery < 1 {
		progressEvery = 1
	}
	return &Importer{
		store:         store,
		batchSize:     batchSize,
		progressEvery: progressEvery,
		maxErrors:     maxErrors,
		logger:        logger,
	}
}

// Run imports one XLSX workbook. progress and cancelled may be nil for
// the blocking single-shot path.
func (im *Importer) Run(ctx context.Context, r io.Reader, fileName string, progress ProgressFunc, cancelled CancelFunc) (*Summary, error) {
	if progress == nil {
		progress = func(context.Context, int, int, int, int) {}
	}
	if cancelled == nil {
		cancelled = func(context.Context) bool { return false }
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("workbook has no header row")
	}

	headerIndex, err := mapHeaders(rows[1])
	if err != nil {
		return nil, err
	}
	visitIdx := visitDateIndex(headerIndex, rows[0])

	summary := &Summary{File: fileName, Total: len(rows) - 2}
	progress(ctx, 0, summary.Total, 0, 0)

	var (
		buffer      []db.Meter
		seenNumbers = make(map[string]struct{})
		processed   int
	)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		ok, rowErrs := im.flushBatch(ctx, buffer)
		summary.Success += ok
		summary.Failed += len(rowErrs)
		for _, re := range rowErrs {
			im.addError(summary, re)
		}
		buffer = buffer[:0]

		if cancelled(ctx) {
			return ErrCancelled
		}
		return ctx.Err()
	}

	for i, row := range rows[2:] {
		rowNum := i + 3
		processed++

		get := func(col string) string {
			idx, ok := headerIndex[col]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		idCode := get(colIDCode)
		if idCode == "" {
			summary.Failed++
			im.addError(summary, RowError{Row: rowNum, Error: "missing required field: identification code"})
			continue
		}

		meterNumber := get(colMeterNumber)
		if meterNumber != "" {
			if _, dup := seenNumbers[meterNumber]; dup {
				summary.Failed++
				im.addError(summary, RowError{Row: rowNum, MeterNumber: meterNumber, Error: "duplicate in file"})
				continue
			}
			seenNumbers[meterNumber] = struct{}{}
		}

		var visitDate *time.Time
		if visitIdx >= 0 && visitIdx < len(row) {
			visitDate = parseDate(row[visitIdx])
		}

		buffer = append(buffer, db.Meter{
			MeterIDCode:      idCode,
			MeterNumber:      optional(meterNumber),
			Type:             optional(get(colMeterType)),
			LocationAddress:  optional(get(colAddress)),
			ClientName:       optional(get(colClientName)),
			PrevReadingValue: parseFloat(get(colPrevReading)),
			LastReadingDate:  visitDate,
			Status:           "active",
		})

		if len(buffer) >= im.batchSize {
			if err := flush(); err != nil {
				progress(ctx, processed, summary.Total, summary.Success, summary.Failed)
				return summary, err
			}
		}

		if processed%im.progressEvery == 0 {
			progress(ctx, processed, summary.Total, summary.Success, summary.Failed)
		}
	}

	if err := flush(); err != nil {
		progress(ctx, processed, summary.Total, summary.Success, summary.Failed)
		return summary, err
	}
	progress(ctx, processed, summary.Total, summary.Success, summary.Failed)

	im.logger.Info("import finished",
		zap.String("file", fileName),
		zap.Int("success", summary.Success),
		zap.Int("failed", summary.Failed),
		zap.Int("total", summary.Total),
	)
	return summary, nil
}

// flushBatch performs the insert-if-absent bulk write. On a batch-level
// fault it falls back to row-by-row writes so a single bad row cannot
// void the whole batch.
func (im *Importer) flushBatch(ctx context.Context, batch []db.Meter) (ok int, rowErrs []RowError) {
	if _, err := im.store.InsertMetersIgnoreDuplicates(ctx, batch); err == nil {
		return len(batch), nil
	} else {
		im.logger.Warn("bulk insert failed, falling back to row-by-row", zap.Error(err))
	}

	for _, m := range batch {
		if _, err := im.store.InsertMeterIgnoreDuplicate(ctx, m); err != nil {
			rowErrs = append(rowErrs, RowError{
				MeterNumber: stringValue(m.MeterNumber),
				Error:       err.Error(),
			})
			continue
		}
		ok++
	}
	return ok, rowErrs
}

func (im *Importer) addError(summary *Summary, re RowError) {
	// The error list is capped so a pathological file cannot produce an
	// unbounded result payload; the counters stay exact.
	if len(summary.Errors) < im.maxErrors {
		summary.Errors = append(summary.Errors, re)
	}
}

func mapHeaders(headerRow []string) (map[string]int, error) {
	headerIndex := make(map[string]int, len(headerRow))
	for i, h := range headerRow {
		h = strings.TrimSpace(h)
		if h != "" {
			headerIndex[h] = i
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if _, ok := headerIndex[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %v (detected: %v)", missing, headerRow)
	}
	return headerIndex, nil
}

// visitDateIndex locates the optional visit-date column: usually on the
// header row, but some exports only name it on the title row above.
func visitDateIndex(headerIndex map[string]int, titleRow []string) int {
	if idx, ok := headerIndex[colVisitDate]; ok {
		return idx
	}
	for i, h := range titleRow {
		if strings.TrimSpace(h) == colVisitDate {
			return i
		}
	}
	return -1
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// parseFloat coerces numerics tolerantly, accepting comma as the
// decimal separator. Unparseable values read as absent.
func parseFloat(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := timeparser.ParseReadingDate(s)
	if err != nil {
		return nil
	}
	return &t
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
