// Package gtexetl holds the shared helpers and fixed filesystem layout
// for the GTEx liver ETL commands.
package gtexetl

import "path/filepath"

// Directory layout under the project base directory.
const (
	RawDirName     = "data_raw"
	ParquetDirName = "data_parquet"
	MLRunsDirName  = "mlruns"
)

// ParquetOutputName is the fixed name of the filtered liver table.
const ParquetOutputName = "gtex_liver.parquet"

// RawDir returns the raw-input directory under base.
func RawDir(base string) string { return filepath.Join(base, RawDirName) }

// ParquetDir returns the columnar-output directory under base.
func ParquetDir(base string) string { return filepath.Join(base, ParquetDirName) }

// TrackingURI returns the file-store tracking URI under base.
func TrackingURI(base string) string {
	return "file://" + filepath.Join(base, MLRunsDirName)
}
