// Command cadre drives a fleet of AI coding agents through a fixed
// five-phase pipeline -- analysis, planning, implementation, integration,
// and pull-request composition -- across a batch of tracked issues.
package main

import (
	"os"

	"github.com/cadreops/cadre/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
