// Command scriptengine runs, tests and inspects object scripts.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/scriptengine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
