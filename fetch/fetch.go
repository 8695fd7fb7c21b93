// Package fetch downloads the GTEx v8 release files used by the liver
// ETL, skipping anything already present on disk.
package fetch

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/carbocation/pfx"
)

// File describes one remote file: a short tag for log messages, the
// exact local filename to persist under, and the source URL.
type File struct {
	Tag  string
	Name string
	URL  string
}

// Local filenames the two GTEx inputs are persisted under. The ETL
// command reads the same names, so they live here as constants.
const (
	GCTName         = "GTEx_gene_reads.gct.gz"
	SampleAttrsName = "GTEx_sample_attrs.txt"
)

// GTExFiles is the fixed download table for the GTEx v8 release: the
// gene-read matrix (GCT) and the sample-attributes annotation file.
var GTExFiles = []File{
	{
		Tag:  "gct",
		Name: GCTName,
		URL:  "https://storage.googleapis.com/gtex_analysis_v8/rna_seq_data/GTEx_Analysis_2017-06-05_v8_RNASeQCv1.1.9_gene_reads.gct.gz",
	},
	{
		Tag:  "samp",
		Name: SampleAttrsName,
		URL:  "https://storage.googleapis.com/gtex_analysis_v8/annotations/GTEx_Analysis_v8_Annotations_SampleAttributesDS.txt",
	},
}

// Fetch ensures destDir/f.Name exists, downloading from f.URL when it
// does not. It returns the destination path and whether a download
// happened (false means the file was already present and was left
// untouched).
//
// The transfer streams into a temp file that is renamed into place only
// after the full body has been read, so a failed download never leaves
// a truncated file that a later invocation would mistake for a complete
// one.
func Fetch(destDir string, f File) (string, bool, error) {
	dest := filepath.Join(destDir, f.Name)

	if _, err := os.Stat(dest); err == nil {
		return dest, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, pfx.Err(err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", false, pfx.Err(err)
	}

	resp, err := http.Get(f.URL)
	if err != nil {
		return "", false, pfx.Err(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, pfx.Err(fmt.Errorf("fetching %s: %s returned status %s", f.Tag, f.URL, resp.Status))
	}

	tmp, err := os.CreateTemp(destDir, f.Name+".partial-*")
	if err != nil {
		return "", false, pfx.Err(err)
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", false, pfx.Err(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", false, pfx.Err(err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", false, pfx.Err(err)
	}

	return dest, true, nil
}
