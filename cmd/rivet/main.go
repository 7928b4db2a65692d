package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rivet/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "rivet",
	Short: "An incremental-compilation REPL",
	Long:  `Rivet evaluates code submissions incrementally, carrying variables, items and dependencies from one submission to the next.`,
	RunE:  runRepl,
}

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(versionCmd)

	rootCmd.Flags().String("opt", "", "optimization level (0-3, s or z)")
	rootCmd.Flags().String("edition", "", "language edition for the generated crate")
	rootCmd.Flags().Bool("timing", false, "show per-phase timing after each evaluation")
	rootCmd.Flags().Bool("offline", false, "compile without network access")
	rootCmd.Flags().String("toolchain", "", "compiler toolchain to use, e.g. nightly")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().String("ui", "auto", "phase progress display (auto|on|off)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
