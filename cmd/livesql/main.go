// Command livesql inspects and modifies livesql databases.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/livesql/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Commands report their own failures; only flag and argument errors
	// from cobra reach here unprinted.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
