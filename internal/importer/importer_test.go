package importer_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/septivank/meter-sync-worker/internal/db"
	"github.com/septivank/meter-sync-worker/internal/importer"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var defaultHeaders = []string{
	"Идентификационный код",
	"Адрес",
	"Наименование объекта сети",
	"Тип прибора учета",
	"Номер ПУ",
	"Предыдущие показания",
	"Дата обхода",
}

// buildWorkbook assembles an XLSX in memory: title on row 1, headers on
// row 2, data from row 3.
func buildWorkbook(t *testing.T, titleRow, headers []string, dataRows [][]string) io.Reader {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	writeRow := func(rowNum int, values []string) {
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &cells))
	}

	writeRow(1, titleRow)
	writeRow(2, headers)
	for i, row := range dataRows {
		writeRow(i+3, row)
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return bytes.NewReader(buf.Bytes())
}

// memMeterStore is an in-memory MeterStore with switchable bulk failure
// and per-row rejection for exercising the fallback path.
type memMeterStore struct {
	meters     map[string]db.Meter // keyed by identification code
	failBulk   bool
	rejectRows map[string]error // keyed by meter number
}

func newMemMeterStore() *memMeterStore {
	return &memMeterStore{meters: make(map[string]db.Meter)}
}

func (m *memMeterStore) InsertMetersIgnoreDuplicates(ctx context.Context, meters []db.Meter) (int64, error) {
	if m.failBulk {
		return 0, fmt.Errorf("bulk insert rejected")
	}
	var inserted int64
	for _, meter := range meters {
		if _, ok := m.meters[meter.MeterIDCode]; ok {
			continue
		}
		m.meters[meter.MeterIDCode] = meter
		inserted++
	}
	return inserted, nil
}

func (m *memMeterStore) InsertMeterIgnoreDuplicate(_ context.Context, meter db.Meter) (bool, error) {
	if meter.MeterNumber != nil {
		if err, ok := m.rejectRows[*meter.MeterNumber]; ok {
			return false, err
		}
	}
	if _, ok := m.meters[meter.MeterIDCode]; ok {
		return false, nil
	}
	m.meters[meter.MeterIDCode] = meter
	return true, nil
}

func newTestImporter(store *memMeterStore, batchSize int) *importer.Importer {
	return importer.NewImporter(store, batchSize, 50, 200, zap.NewNop())
}

func TestRun_ImportsAllRows(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	wb := buildWorkbook(t, []string{"Реестр приборов учета"}, defaultHeaders, [][]string{
		{"MC-001", "ул. Ленина 1", "ТП-12", "Меркурий 230", "N-100", "1500,5", "15.01.2026"},
		{"MC-002", "ул. Ленина 2", "ТП-12", "Меркурий 230", "N-101", "220.75", "2026-01-14"},
		{"MC-003", "", "", "", "", "", ""},
	})

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 3, summary.Success)
	require.Equal(t, 0, summary.Failed)
	require.Empty(t, summary.Errors)
	require.Len(t, store.meters, 3)

	first := store.meters["MC-001"]
	require.NotNil(t, first.MeterNumber)
	require.Equal(t, "N-100", *first.MeterNumber)
	require.NotNil(t, first.PrevReadingValue)
	require.Equal(t, 1500.5, *first.PrevReadingValue)
	require.NotNil(t, first.LastReadingDate)
	require.True(t, first.LastReadingDate.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "active", first.Status)

	// Sparse row: optional fields read as absent.
	bare := store.meters["MC-003"]
	require.Nil(t, bare.MeterNumber)
	require.Nil(t, bare.PrevReadingValue)
	require.Nil(t, bare.LastReadingDate)
}

func TestRun_DuplicateMeterNumberWithinFile(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	wb := buildWorkbook(t, []string{""}, defaultHeaders, [][]string{
		{"MC-001", "", "", "", "N-100", "", ""},
		{"MC-002", "", "", "", "N-100", "", ""},
	})

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Success)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "N-100", summary.Errors[0].MeterNumber)
	require.Equal(t, "duplicate in file", summary.Errors[0].Error)
	require.Equal(t, 4, summary.Errors[0].Row)
}

func TestRun_MissingIdentificationCode(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	wb := buildWorkbook(t, []string{""}, defaultHeaders, [][]string{
		{"", "ул. Ленина 1", "", "", "N-100", "", ""},
		{"MC-002", "", "", "", "N-101", "", ""},
	})

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Success)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, 3, summary.Errors[0].Row)
	require.Len(t, store.meters, 1)
}

func TestRun_MissingRequiredColumnFailsFast(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	headers := []string{"Адрес", "Номер ПУ"} // no identification code
	wb := buildWorkbook(t, []string{""}, headers, [][]string{
		{"ул. Ленина 1", "N-100"},
	})

	_, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.Error(t, err)
	require.Empty(t, store.meters)
}

func TestRun_ReimportIsIdempotent(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	rows := [][]string{
		{"MC-001", "", "", "", "N-100", "", ""},
		{"MC-002", "", "", "", "N-101", "", ""},
	}

	_, err := imp.Run(context.Background(), buildWorkbook(t, []string{""}, defaultHeaders, rows), "meters.xlsx", nil, nil)
	require.NoError(t, err)

	// Same file again: insert-if-absent leaves existing records alone.
	summary, err := imp.Run(context.Background(), buildWorkbook(t, []string{""}, defaultHeaders, rows), "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Failed)
	require.Len(t, store.meters, 2)
}

func TestRun_BulkFailureFallsBackRowByRow(t *testing.T) {
	store := newMemMeterStore()
	store.failBulk = true
	store.rejectRows = map[string]error{
		"N-101": fmt.Errorf("value too long for column meter_number"),
	}
	imp := newTestImporter(store, 500)

	wb := buildWorkbook(t, []string{""}, defaultHeaders, [][]string{
		{"MC-001", "", "", "", "N-100", "", ""},
		{"MC-002", "", "", "", "N-101", "", ""},
		{"MC-003", "", "", "", "N-102", "", ""},
	})

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Success)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, "N-101", summary.Errors[0].MeterNumber)
	require.Len(t, store.meters, 2)
}

func TestRun_ProgressCadence(t *testing.T) {
	store := newMemMeterStore()
	imp := importer.NewImporter(store, 500, 2, 200, zap.NewNop())

	var calls [][2]int // current, total
	progress := func(_ context.Context, current, total, _, _ int) {
		calls = append(calls, [2]int{current, total})
	}

	rows := make([][]string, 5)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("MC-%03d", i), "", "", "", fmt.Sprintf("N-%d", i), "", ""}
	}
	wb := buildWorkbook(t, []string{""}, defaultHeaders, rows)

	_, err := imp.Run(context.Background(), wb, "meters.xlsx", progress, nil)
	require.NoError(t, err)

	// Initial zero report, one per cadence step, and a final report.
	require.Equal(t, [2]int{0, 5}, calls[0])
	require.Equal(t, [2]int{5, 5}, calls[len(calls)-1])
	for _, c := range calls {
		require.LessOrEqual(t, c[0], 5)
	}
}

func TestRun_CancellationBetweenBatches(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 2)

	rows := make([][]string, 6)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("MC-%03d", i), "", "", "", fmt.Sprintf("N-%d", i), "", ""}
	}
	wb := buildWorkbook(t, []string{""}, defaultHeaders, rows)

	cancelled := func(context.Context) bool {
		// Cancel as soon as something has been committed.
		return len(store.meters) > 0
	}

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, cancelled)
	require.ErrorIs(t, err, importer.ErrCancelled)

	// The first committed batch is kept.
	require.Equal(t, 2, summary.Success)
	require.Len(t, store.meters, 2)
}

func TestRun_ErrorListCapped(t *testing.T) {
	store := newMemMeterStore()
	imp := importer.NewImporter(store, 500, 50, 2, zap.NewNop())

	rows := make([][]string, 5)
	for i := range rows {
		rows[i] = []string{"", "", "", "", "", "", ""} // all missing id code
	}
	wb := buildWorkbook(t, []string{""}, defaultHeaders, rows)

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 5, summary.Failed)
	require.Len(t, summary.Errors, 2, "error list is capped while counters stay exact")
}

func TestRun_VisitDateNamedOnTitleRowOnly(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	headers := []string{
		"Идентификационный код", "Адрес", "Наименование объекта сети",
		"Тип прибора учета", "Номер ПУ", "Предыдущие показания", "",
	}
	title := []string{"", "", "", "", "", "", "Дата обхода"}
	wb := buildWorkbook(t, title, headers, [][]string{
		{"MC-001", "", "", "", "N-100", "", "15.01.2026"},
	})

	summary, err := imp.Run(context.Background(), wb, "meters.xlsx", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Success)

	meter := store.meters["MC-001"]
	require.NotNil(t, meter.LastReadingDate)
	require.True(t, meter.LastReadingDate.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)))
}

func TestRun_EmptyWorkbookRejected(t *testing.T) {
	store := newMemMeterStore()
	imp := newTestImporter(store, 500)

	f := excelize.NewFile()
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	_, err = imp.Run(context.Background(), bytes.NewReader(buf.Bytes()), "empty.xlsx", nil, nil)
	require.Error(t, err)
}
