/*
main.go - Application entry point

PURPOSE:
  The franga command runs the ledger API server and offers one-shot
  maintenance commands against the same database.

COMMANDS:
  serve       HTTP API with the background allocation runner
  evaluate    Evaluate allocation rules for one owner (or all) on a date
  balances    Print an owner's balances

CONFIGURATION:
  Environment variables, optionally from a .env file (see config package).
  The --db flag overrides DB_PATH. Use ":memory:" for a throwaway database.

EXAMPLES:
  franga serve
  franga evaluate --owner alice --date 2024-05-25
  franga balances --owner alice --projected
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dbFlag string

var rootCmd = &cobra.Command{
	Use:   "franga",
	Short: "Personal multi-currency ledger",
	Long: `Franga records income and expenses in USD, CDF, EUR and GBP, keeps
per-currency balances, and applies the monthly allocations on the 10th
and the 25th exactly once.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite database path (overrides DB_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
