package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tmajic/go-dispatch-engine/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("trigger %s (commit %s, built %s, %s)\n",
			version.Version, version.GitCommit, version.BuildTime, version.GoVersion())
	},
}
