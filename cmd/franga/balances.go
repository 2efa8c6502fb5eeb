package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franga/engine/ledger"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Print an owner's balances per currency",
	RunE:  runBalances,
}

func init() {
	rootCmd.AddCommand(balancesCmd)
	balancesCmd.Flags().String("owner", "", "Owner id")
	balancesCmd.Flags().String("as-of", "", "Date YYYY-MM-DD (default: today)")
	balancesCmd.Flags().Bool("projected", false, "Include forecast entries")
	_ = balancesCmd.MarkFlagRequired("owner")
}

func runBalances(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	owner, _ := cmd.Flags().GetString("owner")
	projected, _ := cmd.Flags().GetBool("projected")

	var asOf ledger.Date
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		if asOf, err = ledger.ParseDate(raw); err != nil {
			return err
		}
	}

	var b ledger.Balances
	if projected {
		b, err = a.ledger.Projected(ctx, ledger.OwnerID(owner), asOf)
	} else {
		b, err = a.ledger.Balances(ctx, ledger.OwnerID(owner), asOf)
	}
	if err != nil {
		return err
	}

	eq, missing := ledger.Equivalent(b, a.rates.All(ctx))
	out := cmd.OutOrStdout()
	for _, c := range ledger.SupportedCurrencies {
		fmt.Fprintf(out, "%-4s %14s  (%s USD)\n", c, b.Of(c).StringFixed(2), eq.InUSD[c].StringFixed(2))
	}
	fmt.Fprintf(out, "TOTAL %13s USD\n", eq.TotalUSD.StringFixed(2))
	if len(missing) > 0 {
		fmt.Fprintf(out, "no usable rate for %v\n", missing)
	}
	return nil
}
