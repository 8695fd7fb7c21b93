// Package sampleattrs loads the GTEx sample-attributes annotation table
// and derives tissue-based sample filters from it.
package sampleattrs

import (
	"encoding/csv"
	"io"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"
)

// SampleAttribute is one row of the SampleAttributesDS annotation file.
// Only the two columns the pipeline consumes are mapped; every mapped
// column is required, so nothing beyond SAMPID and SMTSD may appear
// here. The file carries dozens more columns, which gocsv ignores.
type SampleAttribute struct {
	SampleID     string `csv:"SAMPID"`
	TissueDetail string `csv:"SMTSD"`
}

// Load parses the annotation table from r. The file is delimited text
// with a header row; delim is typically '\t' for the GTEx release
// files.
func Load(r io.Reader, delim rune) ([]SampleAttribute, error) {
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		c := csv.NewReader(in)
		c.Comma = delim
		c.LazyQuotes = true
		return c
	})

	// A file missing SAMPID or SMTSD is the wrong file, not an empty
	// filter.
	gocsv.FailIfUnmatchedStructTags = true

	attrs := []SampleAttribute{}
	if err := gocsv.Unmarshal(r, &attrs); err != nil {
		return nil, pfx.Err(err)
	}

	return attrs, nil
}

// SampleIDsForTissue returns the sample IDs whose tissue detail (SMTSD)
// equals tissueDetail, in file order. Identifiers are unique within a
// release, but a duplicated row in a hand-edited file must not yield a
// duplicated output column, so repeats are dropped here.
func SampleIDsForTissue(attrs []SampleAttribute, tissueDetail string) []string {
	var ids []string
	seen := make(map[string]struct{})

	for _, attr := range attrs {
		if attr.TissueDetail != tissueDetail {
			continue
		}
		if _, ok := seen[attr.SampleID]; ok {
			continue
		}
		seen[attr.SampleID] = struct{}{}
		ids = append(ids, attr.SampleID)
	}

	return ids
}
