package sheets_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/daylog/daylog/internal/sheets"
)

// fakeSheet is an in-memory spreadsheet implementing the same range grammar
// the ledger uses: column scans (A:A), single cells (A5), row ranges (A2:J2)
// and table appends (A:J).
type fakeSheet struct {
	mu      sync.Mutex
	tabs    map[string][][]string
	tabIDs  map[string]int64
	nextID  int64
	metaOps int

	beforeCellRead func()
	beforeAppend   func()
}

func newFakeSheet() *fakeSheet {
	return &fakeSheet{tabs: make(map[string][][]string), tabIDs: make(map[string]int64)}
}

func (f *fakeSheet) SheetProperties(ctx context.Context) ([]sheets.SheetProps, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metaOps++
	props := make([]sheets.SheetProps, 0, len(f.tabs))
	for title, id := range f.tabIDs {
		props = append(props, sheets.SheetProps{SheetID: id, Title: title})
	}
	return props, nil
}

func (f *fakeSheet) AddSheet(ctx context.Context, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tabs[title]; ok {
		return fmt.Errorf("sheet %q exists", title)
	}
	f.tabs[title] = nil
	f.tabIDs[title] = f.nextID
	f.nextID++
	return nil
}

func splitRange(rng string) (title, ref string) {
	i := strings.IndexByte(rng, '!')
	return rng[:i], rng[i+1:]
}

// rowNumber parses the leading row number of refs like "A5" or "A5:J5".
func rowNumber(ref string) int {
	digits := strings.TrimPrefix(ref, "A")
	if i := strings.IndexByte(digits, ':'); i >= 0 {
		digits = digits[:i]
	}
	n, _ := strconv.Atoi(digits)
	return n
}

func (f *fakeSheet) GetValues(ctx context.Context, rng string) ([][]string, error) {
	title, ref := splitRange(rng)

	if ref != "A:A" && f.beforeCellRead != nil {
		hook := f.beforeCellRead
		f.beforeCellRead = nil
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.tabs[title]

	if ref == "A:A" {
		out := make([][]string, len(rows))
		for i, row := range rows {
			out[i] = []string{row[0]}
		}
		return out, nil
	}

	n := rowNumber(ref)
	if n < 1 || n > len(rows) {
		return nil, nil
	}
	return [][]string{{rows[n-1][0]}}, nil
}

func (f *fakeSheet) UpdateValues(ctx context.Context, rng string, values [][]string) error {
	title, ref := splitRange(rng)
	n := rowNumber(ref)

	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.tabs[title]) < n {
		f.tabs[title] = append(f.tabs[title], make([]string, 10))
	}
	f.tabs[title][n-1] = values[0]
	return nil
}

func (f *fakeSheet) AppendValues(ctx context.Context, rng string, values [][]string) error {
	if f.beforeAppend != nil {
		f.beforeAppend()
	}
	title, _ := splitRange(rng)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[title] = append(f.tabs[title], values...)
	return nil
}

func (f *fakeSheet) DeleteRow(ctx context.Context, sheetID int64, rowIndex int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for title, id := range f.tabIDs {
		if id != sheetID {
			continue
		}
		rows := f.tabs[title]
		if rowIndex < 0 || rowIndex >= int64(len(rows)) {
			return fmt.Errorf("row %d out of range", rowIndex)
		}
		f.tabs[title] = append(rows[:rowIndex], rows[rowIndex+1:]...)
		return nil
	}
	return fmt.Errorf("sheet id %d not found", sheetID)
}

// removeByID deletes a data row out of band, simulating another actor.
func (f *fakeSheet) removeByID(title, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.tabs[title]
	for i, row := range rows {
		if row[0] == id {
			f.tabs[title] = append(rows[:i], rows[i+1:]...)
			return
		}
	}
}

func (f *fakeSheet) column(title string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.tabs[title]))
	for i, row := range f.tabs[title] {
		out[i] = row[0]
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entry(id string) sheets.EntryRow {
	return sheets.EntryRow{
		TimeEntryID:  id,
		Date:         "2025-01-15",
		TeamName:     "Engineering",
		ProjectName:  "DayLog",
		IssueName:    "ENG-12 backend",
		Comment:      "wired the sync",
		WorkingHours: "1.50",
		AssigneeName: "Alice",
		StartTime:    "2025/01/15 09:00:00",
		EndTime:      "2025/01/15 10:30:00",
	}
}

const janSheet = "2025年1月"

func TestWriteCreatesSheetWithHeader(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())

	action, err := ledger.Write(context.Background(), entry("e1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if action != sheets.ActionCreated {
		t.Fatalf("action = %v, want created", action)
	}

	col := fake.column(janSheet)
	if len(col) != 2 {
		t.Fatalf("sheet has %d rows, want header + 1", len(col))
	}
	if col[0] != "エントリーID" {
		t.Errorf("header cell = %q, want エントリーID", col[0])
	}
	if col[1] != "e1" {
		t.Errorf("data cell = %q, want e1", col[1])
	}
}

func TestWriteIsIdempotentPerID(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	if _, err := ledger.Write(ctx, entry("e1")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	action, err := ledger.Write(ctx, entry("e1"))
	if err != nil {
		t.Fatalf("second Write: %v", err)
	}
	if action != sheets.ActionAlreadyExists {
		t.Errorf("second Write action = %v, want already_exists", action)
	}
	if col := fake.column(janSheet); len(col) != 2 {
		t.Errorf("sheet has %d rows after duplicate write, want 2", len(col))
	}
}

func TestWriteConcurrentSameIDGuard(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	hold := make(chan struct{})
	entered := make(chan struct{})
	fake.beforeAppend = func() {
		close(entered)
		<-hold
	}

	done := make(chan error, 1)
	go func() {
		_, err := ledger.Write(ctx, entry("e1"))
		done <- err
	}()
	<-entered

	// First write is mid-append and still holds the id; the second must
	// bail out without touching the sheet.
	action, err := ledger.Write(ctx, entry("e1"))
	if err != nil {
		t.Fatalf("concurrent Write: %v", err)
	}
	if action != sheets.ActionAlreadyExists {
		t.Errorf("concurrent Write action = %v, want already_exists", action)
	}

	close(hold)
	if err := <-done; err != nil {
		t.Fatalf("blocked Write: %v", err)
	}
	if col := fake.column(janSheet); len(col) != 2 {
		t.Errorf("sheet has %d rows, want 2", len(col))
	}
}

func TestUpdateOverwritesInPlace(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	if _, err := ledger.Write(ctx, entry("e1")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	changed := entry("e1")
	changed.Comment = "revised"
	action, err := ledger.Update(ctx, changed)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if action != sheets.ActionUpdated {
		t.Errorf("action = %v, want updated", action)
	}

	fake.mu.Lock()
	row := fake.tabs[janSheet][1]
	fake.mu.Unlock()
	if row[5] != "revised" {
		t.Errorf("comment cell = %q, want revised", row[5])
	}
	if col := fake.column(janSheet); len(col) != 2 {
		t.Errorf("sheet has %d rows after update, want 2", len(col))
	}
}

func TestUpdateMissingRowNeverAppends(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())

	action, err := ledger.Update(context.Background(), entry("ghost"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if action != sheets.ActionNotFound {
		t.Errorf("action = %v, want not_found", action)
	}
	// ensureMonthSheet created the tab; it must hold only the header.
	if col := fake.column(janSheet); len(col) != 1 {
		t.Errorf("sheet has %d rows, want header only", len(col))
	}
}

func TestUpdateThenWriteFallbackYieldsOneRow(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	action, err := ledger.Update(ctx, entry("e1"))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if action != sheets.ActionNotFound {
		t.Fatalf("Update action = %v, want not_found", action)
	}

	action, err = ledger.Write(ctx, entry("e1"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if action != sheets.ActionCreated {
		t.Errorf("Write action = %v, want created", action)
	}
	if col := fake.column(janSheet); len(col) != 2 {
		t.Errorf("sheet has %d rows, want exactly one data row", len(col))
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		if _, err := ledger.Write(ctx, entry(id)); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}

	if err := ledger.Delete(ctx, "e2", "2025-01-15"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	col := fake.column(janSheet)
	want := []string{"エントリーID", "e1", "e3"}
	if len(col) != len(want) {
		t.Fatalf("column = %v, want %v", col, want)
	}
	for i := range col {
		if col[i] != want[i] {
			t.Fatalf("column = %v, want %v", col, want)
		}
	}
}

func TestDeleteMissingRowIsSuccess(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	if _, err := ledger.Write(ctx, entry("e1")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ledger.Delete(ctx, "never-written", "2025-01-15"); err != nil {
		t.Fatalf("Delete of absent row: %v", err)
	}
	if col := fake.column(janSheet); len(col) != 2 {
		t.Errorf("sheet has %d rows, want 2 untouched", len(col))
	}
}

func TestDeleteRescansAfterConcurrentShift(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3"} {
		if _, err := ledger.Write(ctx, entry(id)); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}

	// Between the scan and the verify read, another actor removes an
	// earlier row, shifting e3 up by one.
	fake.beforeCellRead = func() { fake.removeByID(janSheet, "e1") }

	if err := ledger.Delete(ctx, "e3", "2025-01-15"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	col := fake.column(janSheet)
	want := []string{"エントリーID", "e2"}
	if len(col) != len(want) {
		t.Fatalf("column = %v, want %v", col, want)
	}
	for i := range col {
		if col[i] != want[i] {
			t.Fatalf("column = %v, want %v", col, want)
		}
	}
}

func TestDeleteTargetAlreadyGone(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		if _, err := ledger.Write(ctx, entry(id)); err != nil {
			t.Fatalf("Write(%s): %v", id, err)
		}
	}

	fake.beforeCellRead = func() { fake.removeByID(janSheet, "e2") }

	if err := ledger.Delete(ctx, "e2", "2025-01-15"); err != nil {
		t.Fatalf("Delete of concurrently removed row: %v", err)
	}
	col := fake.column(janSheet)
	want := []string{"エントリーID", "e1"}
	if len(col) != len(want) || col[1] != "e1" {
		t.Fatalf("column = %v, want %v", col, want)
	}
}

func TestMonthSheetMetadataCached(t *testing.T) {
	fake := newFakeSheet()
	ledger := sheets.NewLedger(fake, testLogger())
	ctx := context.Background()

	if _, err := ledger.Write(ctx, entry("e1")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	fake.mu.Lock()
	after := fake.metaOps
	fake.mu.Unlock()

	if _, err := ledger.Write(ctx, entry("e2")); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	fake.mu.Lock()
	final := fake.metaOps
	fake.mu.Unlock()

	if final != after {
		t.Errorf("second write fetched metadata again (%d -> %d)", after, final)
	}
}
