package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information, set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// VersionCmd prints build information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aide version %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}
