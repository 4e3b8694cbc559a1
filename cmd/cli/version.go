package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "qubo %s\n", version)
	fmt.Fprintf(w, "  commit:     %s\n", commit)
	fmt.Fprintf(w, "  built:      %s\n", buildTime)
	fmt.Fprintf(w, "  go version: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// printBanner writes the startup line shown before a scan begins.
func printBanner(w io.Writer) {
	fmt.Fprintf(w, "qubo %s - concurrent Minecraft server scanner\n", version)
}
