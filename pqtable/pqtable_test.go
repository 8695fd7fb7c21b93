package pqtable

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/genomelab/gtexetl/gct"
)

var testRows = []gct.Row{
	{GeneID: "ENSG00000141510.16", GeneSymbol: "TP53", Counts: []int64{10, 0}},
	{GeneID: "ENSG00000012048.23", GeneSymbol: "BRCA1", Counts: []int64{3, 12}},
}

func writeTestTable(t *testing.T, path string, samples []string, rows []gct.Row) {
	t.Helper()

	w, err := NewWriter(path, samples)
	if err != nil {
		t.Fatal(err)
	}
	for _, row := range rows {
		if err := w.Append(row); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func readTestTable(t *testing.T, path string) arrow.Table {
	t.Helper()

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pf.Close() })

	rdr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := rdr.ReadTable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tbl.Release)

	return tbl
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gtex_liver.parquet")
	writeTestTable(t, path, []string{"B", "C"}, testRows)

	tbl := readTestTable(t, path)

	if tbl.NumRows() != 2 {
		t.Errorf("rows: got %d, want 2", tbl.NumRows())
	}
	if tbl.NumCols() != 4 {
		t.Errorf("cols: got %d, want 4", tbl.NumCols())
	}

	wantNames := []string{GeneIDColumn, GeneSymbolColumn, "B", "C"}
	for i, want := range wantNames {
		if got := tbl.Schema().Field(i).Name; got != want {
			t.Errorf("column %d: got %q, want %q", i, got, want)
		}
	}

	ids := tbl.Column(0).Data().Chunks()[0].(*array.String)
	if ids.Value(0) != "ENSG00000141510.16" || ids.Value(1) != "ENSG00000012048.23" {
		t.Errorf("gene_id column: got %q, %q", ids.Value(0), ids.Value(1))
	}

	b := tbl.Column(2).Data().Chunks()[0].(*array.Int64)
	if b.Value(0) != 10 || b.Value(1) != 3 {
		t.Errorf("sample B column: got %d, %d", b.Value(0), b.Value(1))
	}
}

func TestWriterNoSampleColumns(t *testing.T) {
	// A zero-overlap filter still yields a schema-valid table with one
	// row per gene and only the descriptive columns.
	rows := []gct.Row{
		{GeneID: "ENSG1", GeneSymbol: "TP53", Counts: nil},
		{GeneID: "ENSG2", GeneSymbol: "BRCA1", Counts: nil},
	}

	path := filepath.Join(t.TempDir(), "empty.parquet")
	writeTestTable(t, path, nil, rows)

	tbl := readTestTable(t, path)
	if tbl.NumCols() != 2 {
		t.Errorf("cols: got %d, want 2", tbl.NumCols())
	}
	if tbl.NumRows() != 2 {
		t.Errorf("rows: got %d, want 2", tbl.NumRows())
	}
}

func TestWriterCountArityMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.parquet")

	w, err := NewWriter(path, []string{"B", "C"})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Abort()

	if err := w.Append(gct.Row{GeneID: "ENSG1", GeneSymbol: "TP53", Counts: []int64{1}}); err == nil {
		t.Error("expected an error for a row with the wrong number of counts")
	}
}

func TestWriterPublishesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gtex_liver.parquet")

	w, err := NewWriter(path, []string{"B"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(gct.Row{GeneID: "ENSG1", GeneSymbol: "TP53", Counts: []int64{1}}); err != nil {
		t.Fatal(err)
	}

	// Nothing is visible under the final name until Close.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("destination exists before Close")
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("destination missing after Close: %v", err)
	}

	// The temp file is gone either way.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the published file in %v", entries)
	}
}

func TestWriterAbortLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gtex_liver.parquet")

	w, err := NewWriter(path, []string{"B"})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Append(gct.Row{GeneID: "ENSG1", GeneSymbol: "TP53", Counts: []int64{1}}); err != nil {
		t.Fatal(err)
	}
	w.Abort()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("abort left files behind: %v", entries)
	}
}

func TestWriterDeterministic(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.parquet")
	b := filepath.Join(dir, "b.parquet")

	writeTestTable(t, a, []string{"B", "C"}, testRows)
	writeTestTable(t, b, []string{"B", "C"}, testRows)

	rawA, err := os.ReadFile(a)
	if err != nil {
		t.Fatal(err)
	}
	rawB, err := os.ReadFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rawA, rawB) {
		t.Error("identical inputs produced different output bytes")
	}
}
