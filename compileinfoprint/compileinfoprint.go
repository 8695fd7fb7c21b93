// compileinfoprint is imported for the side effect of printing the compileinfo
// to os.StdErr
package compileinfoprint

import "github.com/genomelab/gtexetl/compileinfo"

func init() {
	compileinfo.PrintToStdErr()
}
