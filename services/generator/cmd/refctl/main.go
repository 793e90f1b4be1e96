package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"postcraft/internal/util"
)

var (
	logLevel string

	rootCmd = &cobra.Command{
		Use:           "refctl",
		Short:         "Operator tools for the postcraft generator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(logLevel)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "error", "log level (debug, info, warn, error); logs share stdout with results")
	rootCmd.AddCommand(newExtractCmd(), newSweepCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
