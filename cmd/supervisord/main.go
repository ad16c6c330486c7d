// Command supervisord runs the compute job supervisor: it loads a
// cluster configuration, wires the admission scheduler and its
// collaborators together, and serves the HTTP submission boundary
// until an interrupt signal requests shutdown. Grounded on
// cuemby-warren/cmd/warren's cobra root command — persistent
// log-level/log-json flags, cobra.OnInitialize(initLogging), and the
// signal.Notify-plus-staged-shutdown pattern in its "run" command.
package main

import (
	"fmt"
	"os"

	"github.com/cybergis/compute-supervisor/internal/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "supervisord",
	Short:   "Compute job supervisor for HPC clusters",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(jobCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
