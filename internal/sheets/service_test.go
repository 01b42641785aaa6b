package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"

	"github.com/calvinalkan/sheetfs/internal/blob"
	"github.com/calvinalkan/sheetfs/internal/fs"
	"github.com/calvinalkan/sheetfs/internal/grid"
	"github.com/calvinalkan/sheetfs/internal/query"
	"github.com/calvinalkan/sheetfs/internal/registry"
)

func newService(t *testing.T, blobs blob.Store, opts Options) *Service {
	t.Helper()

	svc, err := New(blobs, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return svc
}

func mustCreate(t *testing.T, svc *Service, name string, rows [][]string) registry.Descriptor {
	t.Helper()

	d, err := svc.Create(context.Background(), name, rows)
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}

	return d
}

func mustRead(t *testing.T, svc *Service, id, rng string) [][]string {
	t.Helper()

	got, err := svc.ReadRange(context.Background(), id, rng)
	if err != nil {
		t.Fatalf("ReadRange(%q): %v", rng, err)
	}

	return got
}

func Test_WriteRange_Then_ReadRange_Returns_Written_Values(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "grid", nil)

	upd, err := svc.WriteRange(ctx, d.ID, "B2", [][]string{{"x", "y"}, {"z"}})
	if err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	if diff := cmp.Diff(grid.Update{Rows: 2, Columns: 2}, upd); diff != "" {
		t.Errorf("update mismatch (-want +got):\n%s", diff)
	}

	got := mustRead(t, svc, d.ID, "B2:C3")
	if diff := cmp.Diff([][]string{{"x", "y"}, {"z"}}, got); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}

	all := mustRead(t, svc, d.ID, "")
	if diff := cmp.Diff([][]string{{}, {"", "x", "y"}, {"", "z"}}, all); diff != "" {
		t.Errorf("sheet mismatch (-want +got):\n%s", diff)
	}
}

func Test_ReadRange_Routes_To_Tab_When_Prefix_Names_One(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "book", [][]string{{"root"}})

	if _, err := svc.AddTab(ctx, d.ID, "Q1 Plan"); err != nil {
		t.Fatalf("AddTab: %v", err)
	}

	if _, err := svc.WriteRange(ctx, d.ID, "'Q1 Plan'!A1", [][]string{{"tab"}}); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	if diff := cmp.Diff([][]string{{"tab"}}, mustRead(t, svc, d.ID, "'Q1 Plan'!A1:A1")); diff != "" {
		t.Errorf("tab mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([][]string{{"root"}}, mustRead(t, svc, d.ID, "A1")); diff != "" {
		t.Errorf("root mismatch (-want +got):\n%s", diff)
	}

	// Unknown tab titles fall back to the sheet itself.
	if diff := cmp.Diff([][]string{{"root"}}, mustRead(t, svc, d.ID, "Nope!A1")); diff != "" {
		t.Errorf("fallback mismatch (-want +got):\n%s", diff)
	}
}

func Test_AppendRows_Fills_First_Blank_Row_When_Mode_Says_So(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "log", [][]string{{"a"}, {}, {"b"}})

	upd, err := svc.AppendRows(ctx, d.ID, [][]string{{"x"}, {"y"}}, grid.ModeFillFirstBlank)
	if err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	if upd.Rows != 2 {
		t.Errorf("updated rows=%d, want 2", upd.Rows)
	}

	if diff := cmp.Diff([][]string{{"a"}, {"x"}, {"y"}}, mustRead(t, svc, d.ID, "")); diff != "" {
		t.Errorf("sheet mismatch (-want +got):\n%s", diff)
	}

	if _, err := svc.AppendRows(ctx, d.ID, [][]string{{"z"}}, grid.ModeAppend); err != nil {
		t.Fatalf("AppendRows: %v", err)
	}

	if diff := cmp.Diff([][]string{{"a"}, {"x"}, {"y"}, {"z"}}, mustRead(t, svc, d.ID, "")); diff != "" {
		t.Errorf("sheet mismatch (-want +got):\n%s", diff)
	}
}

// Contract: unrecognized operations are skipped and not counted; the file
// is written once with the effect of all recognized ones.
func Test_BatchApply_Counts_Recognized_Operations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "batch", nil)

	ops, err := grid.DecodeOperations([]byte(`{"requests": [
		{"updateCells": {"start": {"rowIndex": 0, "columnIndex": 1},
			"rows": [{"values": [{"userEnteredValue": {"numberValue": 5}}]}]}},
		{"addChart": {}},
		{"appendCells": {"rows": [{"values": [{"userEnteredValue": {"boolValue": true}}]}]}}
	]}`))
	if err != nil {
		t.Fatalf("DecodeOperations: %v", err)
	}

	res, err := svc.BatchApply(ctx, d.ID, ops)
	if err != nil {
		t.Fatalf("BatchApply: %v", err)
	}

	if diff := cmp.Diff(BatchResult{Applied: 2, Total: 3}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([][]string{{"", "5"}, {"True"}}, mustRead(t, svc, d.ID, "")); diff != "" {
		t.Errorf("sheet mismatch (-want +got):\n%s", diff)
	}
}

func Test_Query_Uses_From_Clause_To_Pick_Tab(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "people", [][]string{{"name", "age"}, {"bob", "30"}, {"amy", "25"}})

	if _, err := svc.AddTab(ctx, d.ID, "pets"); err != nil {
		t.Fatalf("AddTab: %v", err)
	}

	if _, err := svc.WriteRange(ctx, d.ID, "pets!A1", [][]string{{"name"}, {"rex"}}); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	res, err := svc.Query(ctx, d.ID, "SELECT name WHERE age = '30'")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if diff := cmp.Diff([][]string{{"bob"}}, res.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	res, err = svc.Query(ctx, d.ID, "SELECT name FROM pets")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if diff := cmp.Diff([][]string{{"rex"}}, res.Rows); diff != "" {
		t.Errorf("tab rows mismatch (-want +got):\n%s", diff)
	}
}

func Test_Operations_Classify_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{Query: query.Options{Strict: true}})
	d := mustCreate(t, svc, "x", [][]string{{"h"}})

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"read unknown sheet", func() error { _, err := svc.ReadRange(ctx, "sheet_nope", "A1"); return err }, ErrNotFound},
		{"read empty id", func() error { _, err := svc.ReadRange(ctx, "", "A1"); return err }, ErrInvalidArgument},
		{"write no values", func() error { _, err := svc.WriteRange(ctx, d.ID, "A1", nil); return err }, ErrInvalidArgument},
		{"append no values", func() error { _, err := svc.AppendRows(ctx, d.ID, nil, grid.ModeAppend); return err }, ErrInvalidArgument},
		{"batch empty", func() error { _, err := svc.BatchApply(ctx, d.ID, nil); return err }, ErrInvalidArgument},
		{"batch negative start", func() error {
			_, err := svc.BatchApply(ctx, d.ID, []grid.Operation{{UpdateCells: &grid.UpdateCells{Start: grid.GridCoordinate{RowIndex: -1}}}})
			return err
		}, ErrInvalidArgument},
		{"strict query", func() error { _, err := svc.Query(ctx, d.ID, "SELECT missing"); return err }, ErrInvalidArgument},
		{"create empty name", func() error { _, err := svc.Create(ctx, " ", nil); return err }, ErrInvalidArgument},
		{"duplicate tab", func() error {
			_, _ = svc.AddTab(ctx, d.ID, "dup")
			_, err := svc.AddTab(ctx, d.ID, "dup")
			return err
		}, ErrAlreadyExists},
		{"delete root tab", func() error { return svc.DeleteTab(ctx, d.ID, 0) }, ErrInvalidArgument},
		{"delete unknown tab", func() error { return svc.DeleteTab(ctx, d.ID, 42) }, ErrNotFound},
	}

	for _, tt := range tests {
		err := tt.run()
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err=%v, want %v", tt.name, err, tt.want)

			continue
		}

		var sErr *Error
		if !errors.As(err, &sErr) || sErr.Op == "" {
			t.Errorf("%s: err=%#v, want *Error with op", tt.name, err)
		}
	}
}

func Test_ReadRange_Returns_NotFound_When_Data_File_Is_Gone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := blob.NewMem()
	svc := newService(t, mem, Options{})
	d := mustCreate(t, svc, "gone", [][]string{{"a"}})

	if err := mem.Remove(ctx, d.File); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	_, err := svc.ReadRange(ctx, d.ID, "A1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}

	// Write paths recreate the file.
	if _, err := svc.WriteRange(ctx, d.ID, "A1", [][]string{{"b"}}); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}
}

func Test_Mutations_Reject_Growth_Past_Limits_Without_Saving(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{Limits: grid.Limits{MaxRows: 4, MaxColumns: 3}})
	d := mustCreate(t, svc, "capped", [][]string{{"h"}})

	_, err := svc.WriteRange(ctx, d.ID, "C4", [][]string{{"corner"}})
	if err != nil {
		t.Fatalf("write at the cap: %v", err)
	}

	want := mustRead(t, svc, d.ID, "")

	tests := []struct {
		name string
		run  func() error
	}{
		{"write past last row", func() error { _, err := svc.WriteRange(ctx, d.ID, "A5", [][]string{{"x"}}); return err }},
		{"write past last column", func() error { _, err := svc.WriteRange(ctx, d.ID, "D1", [][]string{{"x"}}); return err }},
		{"append past last row", func() error { _, err := svc.AppendRows(ctx, d.ID, [][]string{{"x"}}, grid.ModeAppend); return err }},
		{"batch update past last row", func() error {
			_, err := svc.BatchApply(ctx, d.ID, []grid.Operation{{UpdateCells: &grid.UpdateCells{
				Start: grid.GridCoordinate{RowIndex: 1 << 40},
				Rows:  []grid.RowData{{Values: []grid.CellData{{UserEnteredValue: grid.StringValue("x")}}}},
			}}})
			return err
		}},
		{"batch append past last row", func() error {
			_, err := svc.BatchApply(ctx, d.ID, []grid.Operation{{AppendCells: &grid.AppendCells{
				Rows: []grid.RowData{{Values: []grid.CellData{{UserEnteredValue: grid.StringValue("x")}}}},
			}}})
			return err
		}},
	}

	for _, tt := range tests {
		err := tt.run()
		if !errors.Is(err, ErrInvalidArgument) || !errors.Is(err, grid.ErrTooLarge) {
			t.Errorf("%s: err=%v, want invalid argument wrapping %v", tt.name, err, grid.ErrTooLarge)
		}
	}

	if diff := cmp.Diff(want, mustRead(t, svc, d.ID, "")); diff != "" {
		t.Errorf("sheet changed by rejected writes (-want +got):\n%s", diff)
	}
}

func Test_WriteRange_Rejects_Huge_Row_Reference_With_Default_Limits(t *testing.T) {
	t.Parallel()

	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "big", nil)

	_, err := svc.WriteRange(context.Background(), d.ID, "A1073741824", [][]string{{"x"}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidArgument)
	}
}

func Test_WriteRange_Returns_IOFailure_When_Save_Fails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	faulty := fs.NewFaulty(fs.NewReal())
	svc := newService(t, blob.NewDir(faulty, t.TempDir()), Options{})
	d := mustCreate(t, svc, "sheet", [][]string{{"keep"}})

	boom := errors.New("read-only filesystem")
	faulty.FailOn(fs.OpWriteFileAtomic, ".csv", boom)

	_, err := svc.WriteRange(ctx, d.ID, "A1", [][]string{{"lost"}})
	if !errors.Is(err, ErrIOFailure) || !errors.Is(err, boom) || !fs.IsInjected(err) {
		t.Fatalf("err=%v, want injected io failure", err)
	}

	var sErr *Error
	if !errors.As(err, &sErr) || sErr.SheetID != d.ID || sErr.Op != "write" {
		t.Fatalf("err=%#v, want *Error{Op: write, SheetID: %s}", err, d.ID)
	}

	faulty.Reset()

	if diff := cmp.Diff([][]string{{"keep"}}, mustRead(t, svc, d.ID, "")); diff != "" {
		t.Errorf("sheet changed after failed save (-want +got):\n%s", diff)
	}
}

// barrierStore holds the first reader of name until a second reader
// arrives or wait elapses, so two unserialized writers both load the same
// snapshot.
type barrierStore struct {
	blob.Store

	name string
	wait time.Duration

	mu    sync.Mutex
	reads int
	both  chan struct{}
}

func (b *barrierStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := b.Store.Read(ctx, name)
	if name != b.name {
		return data, err
	}

	b.mu.Lock()
	b.reads++

	if b.reads == 2 {
		close(b.both)
	}
	b.mu.Unlock()

	select {
	case <-b.both:
	case <-time.After(b.wait):
	}

	return data, err
}

// Contract: without locking two concurrent appends lose one update; with
// process or file locking both rows land.
func Test_AppendRows_Loses_Update_Only_When_Locking_Is_Off(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode     LockMode
		wantRows int
	}{
		{LockNone, 2},
		{LockProcess, 3},
		{LockFile, 3},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			mem := blob.NewMem()
			setup := newService(t, mem, Options{})
			d := mustCreate(t, setup, "race", [][]string{{"header"}})

			store := &barrierStore{Store: mem, name: d.File, wait: 300 * time.Millisecond, both: make(chan struct{})}
			svc := newService(t, store, Options{LockMode: tt.mode, LockDir: t.TempDir()})

			var wg sync.WaitGroup

			errs := make(chan error, 2)

			for _, v := range []string{"a", "b"} {
				wg.Go(func() {
					_, err := svc.AppendRows(ctx, d.ID, [][]string{{v}}, grid.ModeAppend)
					errs <- err
				})
			}

			wg.Wait()
			close(errs)

			for err := range errs {
				if err != nil {
					t.Fatalf("AppendRows: %v", err)
				}
			}

			got := mustRead(t, setup, d.ID, "")
			if len(got) != tt.wantRows {
				t.Fatalf("rows=%v, want %d rows", got, tt.wantRows)
			}
		})
	}
}

func Test_Lock_Returns_Busy_When_Timeout_Expires(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{LockTimeout: 20 * time.Millisecond})
	d := mustCreate(t, svc, "busy", nil)

	unlock, err := svc.locks.Lock(ctx, d.File)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	defer func() { _ = unlock() }()

	_, err = svc.WriteRange(ctx, d.ID, "A1", [][]string{{"x"}})
	if !errors.Is(err, ErrBusy) || !errors.Is(err, fs.ErrWouldBlock) {
		t.Fatalf("err=%v, want ErrBusy", err)
	}
}

func Test_Mutations_Publish_Events(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})

	events, cancel := svc.Events().Subscribe(8)
	defer cancel()

	d := mustCreate(t, svc, "ev", nil)

	if _, err := svc.WriteRange(ctx, d.ID, "A1", [][]string{{"x", "y"}}); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	var kinds []EventKind

	for range 2 {
		select {
		case e := <-events:
			if e.SheetID != d.ID {
				t.Errorf("event %s sheet=%q, want %q", e.Kind, e.SheetID, d.ID)
			}

			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	if diff := cmp.Diff([]EventKind{EventCreated, EventUpdated}, kinds); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func Test_Sidecar_Operations_Persist_Records_Per_Tab(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "fmt", nil)

	tab, err := svc.AddTab(ctx, d.ID, "t")
	if err != nil {
		t.Fatalf("AddTab: %v", err)
	}

	if err := svc.FormatCells(ctx, d.ID, 0, "Sheet1!a1:b2", json.RawMessage(`{"bold":true}`)); err != nil {
		t.Fatalf("FormatCells: %v", err)
	}

	if err := svc.FreezePanes(ctx, d.ID, tab.TabID, 1, 0); err != nil {
		t.Fatalf("FreezePanes: %v", err)
	}

	first, err := svc.CreateFilter(ctx, d.ID, 0, "A1:C10", "all")
	if err != nil {
		t.Fatalf("CreateFilter: %v", err)
	}

	second, err := svc.CreateFilter(ctx, d.ID, 0, "A1:C10", "again")
	if err != nil {
		t.Fatalf("CreateFilter: %v", err)
	}

	rule, err := svc.AddConditionalFormat(ctx, d.ID, tab.TabID, "B:B", "NUMBER_GREATER", json.RawMessage(`{"value":5}`))
	if err != nil {
		t.Fatalf("AddConditionalFormat: %v", err)
	}

	if first != "1" || second != "2" || rule != "1" {
		t.Errorf("ids=%q,%q,%q, want 1,2,1", first, second, rule)
	}

	f, err := svc.Formatting(ctx, d.ID)
	if err != nil {
		t.Fatalf("Formatting: %v", err)
	}

	var keys []string
	for k := range f.Formats {
		keys = append(keys, k)
	}

	for k := range f.Filters {
		keys = append(keys, k)
	}

	want := []string{
		"sheet0_A1:B2",
		registry.FreezeKey(tab.TabID),
		registry.CondKey(tab.TabID, "1"),
		"sheet0_filter_1",
		"sheet0_filter_2",
	}
	slices.Sort(want)
	slices.Sort(keys)

	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}

	if err := svc.FreezePanes(ctx, d.ID, 999, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("freeze unknown tab: err=%v, want ErrNotFound", err)
	}

	if err := svc.DeleteTab(ctx, d.ID, tab.TabID); err != nil {
		t.Fatalf("DeleteTab: %v", err)
	}

	f, err = svc.Formatting(ctx, d.ID)
	if err != nil {
		t.Fatalf("Formatting: %v", err)
	}

	if len(f.Formats) != 1 || len(f.Filters) != 2 {
		t.Errorf("after delete: formats=%v filters=%v", f.Formats, f.Filters)
	}
}

func Test_Export_Writes_One_Worksheet_Per_Tab(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newService(t, blob.NewMem(), Options{})
	d := mustCreate(t, svc, "report", [][]string{{"name", "n"}, {"a", "1"}})

	if _, err := svc.AddTab(ctx, d.ID, "raw/data"); err != nil {
		t.Fatalf("AddTab: %v", err)
	}

	if _, err := svc.WriteRange(ctx, d.ID, "'raw/data'!B2", [][]string{{"x"}}); err != nil {
		t.Fatalf("WriteRange: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.Export(ctx, d.ID, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	book, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}

	defer func() { _ = book.Close() }()

	if diff := cmp.Diff([]string{"report", "raw_data"}, book.GetSheetList()); diff != "" {
		t.Errorf("sheets mismatch (-want +got):\n%s", diff)
	}

	rows, err := book.GetRows("report")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}

	if diff := cmp.Diff([][]string{{"name", "n"}, {"a", "1"}}, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	cell, err := book.GetCellValue("raw_data", "B2")
	if err != nil || cell != "x" {
		t.Errorf("raw_data!B2=%q (err %v), want x", cell, err)
	}
}

func Test_WorksheetName_Sanitizes_And_Deduplicates(t *testing.T) {
	t.Parallel()

	used := map[string]bool{}

	got := []string{
		worksheetName("a:b", used),
		worksheetName("A_B", used),
		worksheetName(strings.Repeat("x", 40), used),
		worksheetName("  ", used),
	}

	want := []string{"a_b", "A_B (2)", strings.Repeat("x", 31), "Sheet"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func Test_Open_Persists_Across_Instances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	first, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	d := mustCreate(t, first, "kept", [][]string{{"v"}})

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { _ = second.Close() })

	if diff := cmp.Diff([][]string{{"v"}}, mustRead(t, second, d.ID, "A1")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	list, err := second.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != d.ID {
		t.Fatalf("List=%v err=%v, want [%s]", list, err, d.ID)
	}
}
