// downloadgtex fetches the GTEx v8 gene-read matrix (GCT) and the
// sample-attributes file into <base>/data_raw/, skipping any file that
// is already present.
package main

import (
	"flag"
	"log"

	"github.com/genomelab/gtexetl"
	_ "github.com/genomelab/gtexetl/compileinfoprint"
	"github.com/genomelab/gtexetl/fetch"
)

func main() {
	var base string

	flag.StringVar(&base, "base", ".", "Project base directory; raw files are saved under <base>/data_raw.")
	flag.Parse()

	base, err := gtexetl.ExpandHome(base)
	if err != nil {
		log.Fatalln(err)
	}

	rawDir := gtexetl.RawDir(base)

	for _, f := range fetch.GTExFiles {
		dest, downloaded, err := fetch.Fetch(rawDir, f)
		if err != nil {
			log.Fatalln(err)
		}

		if !downloaded {
			log.Printf("%s exists, skip\n", f.Name)
			continue
		}
		log.Printf("downloaded %s, saved %s\n", f.Tag, dest)
	}
}
