package gtexetl

import (
	"io"

	"github.com/csimplestring/go-csv/detector"
)

// DetectDelimiter returns the most likely rune delimiting the values in
// r, assuming a CSV-like file, or fallback when detection is
// inconclusive. The GTEx annotation files are nominally tab-separated,
// but re-exported copies show up with commas often enough that guessing
// beats trusting.
func DetectDelimiter(r io.Reader, fallback rune) rune {
	d := detector.New()
	delimiters := d.DetectDelimiter(r, '"')

	if len(delimiters) > 0 {
		return rune(delimiters[0][0])
	}

	return fallback
}
