// Command casewise runs the case intake wizard tooling and the remote
// session service.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/casewise/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
