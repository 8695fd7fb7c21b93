// Package gct reads GCT-style gene expression matrices: two leading
// metadata lines, a tab-delimited header row whose first two labels
// describe the gene ID and gene symbol columns, then one row of read
// counts per gene.
package gct

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/carbocation/pfx"
)

// DescriptiveColumns is the number of leading non-sample columns in a
// GCT header (gene ID and gene symbol).
const DescriptiveColumns = 2

// Header is the parsed column header of a GCT file. Samples is the
// authoritative universe of sample IDs present in the matrix; any
// filter derived from annotation data must be intersected against it
// before reading rows.
type Header struct {
	GeneIDLabel     string
	GeneSymbolLabel string
	Samples         []string
}

// SampleSet returns the sample universe as a set.
func (h Header) SampleSet() map[string]struct{} {
	set := make(map[string]struct{}, len(h.Samples))
	for _, s := range h.Samples {
		set[s] = struct{}{}
	}
	return set
}

// ReadHeader consumes the two metadata lines and the header row from r.
// This is the discovery pass; reading rows afterwards requires a fresh
// stream (see NewFilteredReader).
func ReadHeader(r io.Reader) (Header, error) {
	c := newGCTCSVReader(r)

	// Line 1 is the version tag (e.g. "#1.2"), line 2 the dimensions.
	// Neither is column data.
	for i := 0; i < 2; i++ {
		if _, err := c.Read(); err != nil {
			return Header{}, pfx.Err(fmt.Errorf("reading GCT metadata line %d: %w", i+1, err))
		}
	}

	row, err := c.Read()
	if err != nil {
		return Header{}, pfx.Err(fmt.Errorf("reading GCT header row: %w", err))
	}
	if len(row) < DescriptiveColumns {
		return Header{}, pfx.Err(fmt.Errorf("GCT header row has %d columns; expected at least %d", len(row), DescriptiveColumns))
	}

	return Header{
		GeneIDLabel:     row[0],
		GeneSymbolLabel: row[1],
		Samples:         row[DescriptiveColumns:],
	}, nil
}

// IntersectSamples restricts candidates to members of universe,
// preserving candidate order and dropping duplicates. The annotation
// table routinely names samples a given matrix release does not carry.
func IntersectSamples(candidates []string, universe map[string]struct{}) []string {
	var keep []string
	seen := make(map[string]struct{})

	for _, id := range candidates {
		if _, ok := universe[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keep = append(keep, id)
	}

	return keep
}

// Row is one gene's worth of filtered matrix data. Counts is ordered as
// the keep list handed to NewFilteredReader.
type Row struct {
	GeneID     string
	GeneSymbol string
	Counts     []int64
}

// FilteredReader streams matrix rows, materializing only the two
// descriptive columns plus a chosen subset of sample columns. Column
// selection happens during parsing so a full-width release never has to
// fit in memory.
type FilteredReader struct {
	c       *csv.Reader
	header  Header
	keep    []string
	indexes []int // matrix column index for each kept sample
	line    int
}

// NewFilteredReader parses the header from r (a fresh stream positioned
// at the start of the file) and prepares to stream rows restricted to
// the keep samples. Every keep entry must exist in the header.
func NewFilteredReader(r io.Reader, keep []string) (*FilteredReader, error) {
	c := newGCTCSVReader(r)

	for i := 0; i < 2; i++ {
		if _, err := c.Read(); err != nil {
			return nil, pfx.Err(fmt.Errorf("reading GCT metadata line %d: %w", i+1, err))
		}
	}

	row, err := c.Read()
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("reading GCT header row: %w", err))
	}
	if len(row) < DescriptiveColumns {
		return nil, pfx.Err(fmt.Errorf("GCT header row has %d columns; expected at least %d", len(row), DescriptiveColumns))
	}

	position := make(map[string]int, len(row)-DescriptiveColumns)
	for i, id := range row[DescriptiveColumns:] {
		position[id] = DescriptiveColumns + i
	}

	indexes := make([]int, 0, len(keep))
	for _, id := range keep {
		idx, ok := position[id]
		if !ok {
			return nil, pfx.Err(fmt.Errorf("sample %q is not a column of the matrix; intersect the filter set against the header first", id))
		}
		indexes = append(indexes, idx)
	}

	return &FilteredReader{
		c: c,
		header: Header{
			GeneIDLabel:     row[0],
			GeneSymbolLabel: row[1],
			Samples:         row[DescriptiveColumns:],
		},
		keep:    append([]string{}, keep...),
		indexes: indexes,
		line:    3,
	}, nil
}

// Header returns the header parsed when the reader was created.
func (fr *FilteredReader) Header() Header { return fr.header }

// Samples returns the retained sample IDs, in keep order.
func (fr *FilteredReader) Samples() []string { return fr.keep }

// Read returns the next gene row, or io.EOF once the matrix is
// exhausted.
func (fr *FilteredReader) Read() (Row, error) {
	record, err := fr.c.Read()
	if err == io.EOF {
		return Row{}, io.EOF
	} else if err != nil {
		return Row{}, pfx.Err(err)
	}
	fr.line++

	if len(record) != len(fr.header.Samples)+DescriptiveColumns {
		return Row{}, pfx.Err(fmt.Errorf("line %d: %d columns; header defines %d", fr.line, len(record), len(fr.header.Samples)+DescriptiveColumns))
	}

	row := Row{
		GeneID:     record[0],
		GeneSymbol: record[1],
		Counts:     make([]int64, len(fr.indexes)),
	}

	for i, idx := range fr.indexes {
		v, err := strconv.ParseInt(record[idx], 10, 64)
		if err != nil {
			return Row{}, pfx.Err(fmt.Errorf("line %d, sample %s: parsing read count %q: %w", fr.line, fr.keep[i], record[idx], err))
		}
		if v < 0 {
			return Row{}, pfx.Err(fmt.Errorf("line %d, sample %s: negative read count %d", fr.line, fr.keep[i], v))
		}
		row.Counts[i] = v
	}

	return row, nil
}

func newGCTCSVReader(r io.Reader) *csv.Reader {
	c := csv.NewReader(r)
	c.Comma = '\t'
	c.LazyQuotes = true
	// The version and dimension lines have fewer fields than the data.
	c.FieldsPerRecord = -1
	return c
}
