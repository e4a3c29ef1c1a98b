package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "xvcd",
	Short: "Xilinx Virtual Cable daemon and JTAG probe utility",
	Long: `xvcd bridges a network client speaking the Xilinx Virtual Cable
protocol to a physical or simulated JTAG probe.

Examples:
  xvcd serve --adapter simulator --port 2542   # Run the XVC daemon
  xvcd interfaces                              # List detected USB JTAG adapters`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
