// etlgtex filters the GTEx v8 gene-read matrix down to the sample
// columns of one tissue (liver by default), writes the result as a
// zstd-compressed Parquet table under <base>/data_parquet/, and records
// the run in the MLflow file store under <base>/mlruns/.
//
// It expects the raw inputs downloaded by downloadgtex to already exist
// under <base>/data_raw/.
package main

import (
	"flag"
	"io"
	"log"
	"path/filepath"

	"github.com/genomelab/gtexetl"
	_ "github.com/genomelab/gtexetl/compileinfoprint"
	"github.com/genomelab/gtexetl/fetch"
	"github.com/genomelab/gtexetl/gct"
	"github.com/genomelab/gtexetl/mlflow"
	"github.com/genomelab/gtexetl/pqtable"
	"github.com/genomelab/gtexetl/sampleattrs"
)

const (
	experimentName = "gtex_demo"
	runName        = "gtex_etl"

	// The delimiter detector only needs a sample of the file.
	delimiterSampleBytes = 1 << 20
)

func main() {
	var (
		base   string
		tissue string
	)

	flag.StringVar(&base, "base", ".", "Project base directory containing data_raw; outputs go to <base>/data_parquet and <base>/mlruns.")
	flag.StringVar(&tissue, "tissue", "Liver", "SMTSD tissue detail to retain sample columns for.")
	flag.Parse()

	base, err := gtexetl.ExpandHome(base)
	if err != nil {
		log.Fatalln(err)
	}

	if err := run(base, tissue); err != nil {
		log.Fatalln(err)
	}
}

func run(base, tissue string) error {
	gctPath := filepath.Join(gtexetl.RawDir(base), fetch.GCTName)
	metaPath := filepath.Join(gtexetl.RawDir(base), fetch.SampleAttrsName)
	outPath := filepath.Join(gtexetl.ParquetDir(base), gtexetl.ParquetOutputName)

	candidates, err := loadTissueSamples(metaPath, tissue)
	if err != nil {
		return err
	}
	log.Printf("%s samples in metadata: %d\n", tissue, len(candidates))

	// Pass 1: discover which samples the matrix actually carries. The
	// annotation table may reference samples a given matrix release
	// does not include.
	header, err := discoverSamples(gctPath)
	if err != nil {
		return err
	}

	keep := gct.IntersectSamples(candidates, header.SampleSet())
	log.Printf("%s samples requested: %d — found in GCT: %d\n", tissue, len(candidates), len(keep))
	if len(keep) == 0 {
		log.Printf("WARNING: no %s samples overlap the matrix columns; the output will contain gene columns only. Check that the metadata and matrix are from the same release.\n", tissue)
	} else if len(keep) < len(candidates) {
		log.Printf("WARNING: %d %s samples from the metadata are absent from the matrix; possible metadata/matrix version mismatch.\n", len(candidates)-len(keep), tissue)
	}

	// Pass 2: stream the matrix, keeping only the selected columns.
	rows, err := writeFiltered(gctPath, outPath, keep)
	if err != nil {
		return err
	}
	log.Printf("Parquet saved: %s (%d genes, %d sample columns)\n", outPath, rows, len(keep))

	return recordRun(base, gctPath, metaPath, outPath, len(candidates), rows)
}

// loadTissueSamples reads the sample-attributes table and returns the
// IDs whose tissue detail matches, in file order.
func loadTissueSamples(metaPath, tissue string) ([]string, error) {
	// Sniff the delimiter on a first open; the stream may be
	// decompressed on the fly, so it cannot be rewound.
	probe, err := gtexetl.OpenSmart(metaPath)
	if err != nil {
		return nil, err
	}
	delim := gtexetl.DetectDelimiter(io.LimitReader(probe, delimiterSampleBytes), '\t')
	probe.Close()

	rc, err := gtexetl.OpenSmart(metaPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	attrs, err := sampleattrs.Load(rc, delim)
	if err != nil {
		return nil, err
	}

	return sampleattrs.SampleIDsForTissue(attrs, tissue), nil
}

func discoverSamples(gctPath string) (gct.Header, error) {
	rc, err := gtexetl.OpenSmart(gctPath)
	if err != nil {
		return gct.Header{}, err
	}
	defer rc.Close()

	return gct.ReadHeader(rc)
}

// writeFiltered re-opens the matrix (the discovery pass consumed the
// first stream) and streams the kept columns into the Parquet writer.
func writeFiltered(gctPath, outPath string, keep []string) (int64, error) {
	rc, err := gtexetl.OpenSmart(gctPath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	fr, err := gct.NewFilteredReader(rc, keep)
	if err != nil {
		return 0, err
	}

	w, err := pqtable.NewWriter(outPath, keep)
	if err != nil {
		return 0, err
	}

	for {
		row, err := fr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			w.Abort()
			return 0, err
		}

		if err := w.Append(row); err != nil {
			w.Abort()
			return 0, err
		}
	}

	if err := w.Close(); err != nil {
		return 0, err
	}

	return w.Rows(), nil
}

// recordRun logs the provenance of one invocation to the MLflow file
// store: input filenames as params, candidate sample count and output
// gene count as metrics, and the Parquet table as the run artifact.
func recordRun(base, gctPath, metaPath, outPath string, candidateSamples int, genes int64) error {
	store, err := mlflow.Open(gtexetl.TrackingURI(base))
	if err != nil {
		return err
	}

	exp, err := store.SetExperiment(experimentName)
	if err != nil {
		return err
	}

	mlrun, err := exp.StartRun(runName)
	if err != nil {
		return err
	}

	if err := logRun(mlrun, gctPath, metaPath, outPath, candidateSamples, genes); err != nil {
		mlrun.End(mlflow.StatusFailed)
		return err
	}

	if err := mlrun.End(mlflow.StatusFinished); err != nil {
		return err
	}

	log.Printf("logged run %s to experiment %q\n", mlrun.ID(), experimentName)
	return nil
}

func logRun(mlrun *mlflow.Run, gctPath, metaPath, outPath string, candidateSamples int, genes int64) error {
	if err := mlrun.LogParam("gct_file", filepath.Base(gctPath)); err != nil {
		return err
	}
	if err := mlrun.LogParam("meta_file", filepath.Base(metaPath)); err != nil {
		return err
	}
	if err := mlrun.LogMetric("liver_samples", float64(candidateSamples)); err != nil {
		return err
	}
	if err := mlrun.LogMetric("genes", float64(genes)); err != nil {
		return err
	}
	return mlrun.LogArtifact(outPath)
}
