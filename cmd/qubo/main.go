// Command qubo scans address ranges for Minecraft servers.
package main

import (
	"github.com/anstrom/qubo/cmd/cli"
)

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
