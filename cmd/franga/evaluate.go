package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franga/engine/ledger"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the allocation rules once",
	Long: `Evaluate the day-of-month allocation rules for one owner, or for every
owner known to the database when --owner is omitted. Rules already
committed for the date are skipped.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().String("owner", "", "Owner id (default: all owners)")
	evaluateCmd.Flags().String("date", "", "Evaluation date YYYY-MM-DD (default: today)")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	date := a.ledger.Today()
	if raw, _ := cmd.Flags().GetString("date"); raw != "" {
		if date, err = ledger.ParseDate(raw); err != nil {
			return err
		}
	}

	var owners []ledger.OwnerID
	if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
		owners = []ledger.OwnerID{ledger.OwnerID(owner)}
	} else if owners, err = a.store.ListOwners(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, owner := range owners {
		committed, err := a.scheduler.Evaluate(ctx, date, owner)
		if err != nil {
			return fmt.Errorf("owner %s: %w", owner, err)
		}
		fmt.Fprintf(out, "%s %s: %d entries committed\n", owner, date, len(committed))
		for _, e := range committed {
			fmt.Fprintf(out, "  %-7s %-12s %10s %s\n", e.Kind, e.Category, e.Amount.StringFixed(2), e.Currency)
		}
	}
	return nil
}
