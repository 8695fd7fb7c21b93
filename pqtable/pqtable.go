// Package pqtable persists filtered gene-read tables as compressed
// Parquet files with a stable schema: gene_id, gene_symbol, then one
// int64 read-count column per retained sample.
package pqtable

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/carbocation/pfx"

	"github.com/genomelab/gtexetl/gct"
)

// Stable output column names, decoupled from whatever labels the source
// matrix header carried.
const (
	GeneIDColumn     = "gene_id"
	GeneSymbolColumn = "gene_symbol"
)

// DefaultChunkRows is how many gene rows accumulate before a record
// batch is flushed to the Parquet writer. Memory use scales with
// chunk rows times retained samples, not with matrix size.
const DefaultChunkRows = 16384

// Schema builds the Arrow schema for a table retaining the given
// samples, in order.
func Schema(samples []string) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(samples)+2)
	fields = append(fields,
		arrow.Field{Name: GeneIDColumn, Type: arrow.BinaryTypes.String},
		arrow.Field{Name: GeneSymbolColumn, Type: arrow.BinaryTypes.String},
	)
	for _, s := range samples {
		fields = append(fields, arrow.Field{Name: s, Type: arrow.PrimitiveTypes.Int64})
	}
	return arrow.NewSchema(fields, nil)
}

// Writer streams gene rows into a zstd-compressed Parquet file. The
// destination is only published on a successful Close: rows go to a
// temp file in the same directory, renamed into place at the end, so a
// crash mid-write never leaves a plausible-looking partial table.
type Writer struct {
	path     string
	tmp      *os.File
	fw       *pqarrow.FileWriter
	builder  *array.RecordBuilder
	samples  []string
	buffered int
	rows     int64
	closed   bool
}

// NewWriter creates a Parquet writer for path, retaining the given
// sample columns in order.
func NewWriter(path string, samples []string) (*Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, pfx.Err(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, pfx.Err(err)
	}

	schema := Schema(samples)
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))

	fw, err := pqarrow.NewFileWriter(schema, tmp, props, pqarrow.DefaultWriterProps())
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, pfx.Err(err)
	}

	return &Writer{
		path:    path,
		tmp:     tmp,
		fw:      fw,
		builder: array.NewRecordBuilder(memory.DefaultAllocator, schema),
		samples: append([]string{}, samples...),
	}, nil
}

// Append buffers one gene row, flushing a record batch when the chunk
// fills. row.Counts must be ordered as the writer's samples.
func (w *Writer) Append(row gct.Row) error {
	if len(row.Counts) != len(w.samples) {
		return pfx.Err(fmt.Errorf("row for gene %s has %d counts; writer expects %d", row.GeneID, len(row.Counts), len(w.samples)))
	}

	w.builder.Field(0).(*array.StringBuilder).Append(row.GeneID)
	w.builder.Field(1).(*array.StringBuilder).Append(row.GeneSymbol)
	for i, v := range row.Counts {
		w.builder.Field(2 + i).(*array.Int64Builder).Append(v)
	}

	w.buffered++
	w.rows++

	if w.buffered >= DefaultChunkRows {
		return w.flush()
	}
	return nil
}

func (w *Writer) flush() error {
	if w.buffered == 0 {
		return nil
	}

	rec := w.builder.NewRecord()
	defer rec.Release()
	w.buffered = 0

	if err := w.fw.Write(rec); err != nil {
		return pfx.Err(err)
	}
	return nil
}

// Rows returns the number of rows appended so far.
func (w *Writer) Rows() int64 { return w.rows }

// Close flushes buffered rows, finalizes the Parquet footer, and
// atomically renames the temp file to the destination path.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.builder.Release()

	if err := w.flush(); err != nil {
		w.abort()
		return err
	}
	// Closing the parquet writer writes the footer and closes the
	// underlying temp file.
	if err := w.fw.Close(); err != nil {
		w.abort()
		return pfx.Err(err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return pfx.Err(err)
	}
	return nil
}

// Abort discards the temp file without publishing anything.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	w.builder.Release()
	w.fw.Close()
	w.abort()
}

func (w *Writer) abort() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}
