// Command certsync keeps live pending-certification counts per trainer.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/certsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
