package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/kiranshivaraju/folio/internal/holdings"
	"github.com/spf13/cobra"
)

func newHoldingsCmd(a *app) *cobra.Command {
	var (
		by      string
		entity  string
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Show the allocation breakdown of current holdings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dim, err := holdings.ParseDimension(by)
			if err != nil {
				return err
			}

			client, _, err := a.client()
			if err != nil {
				return err
			}

			hs, err := client.ListHoldings(cmd.Context(), entity)
			if err != nil {
				return fmt.Errorf("list holdings: %w", err)
			}

			breakdown, err := holdings.Aggregate(hs, dim)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(a.out, breakdown)
			}

			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "%s\tVALUE\tSHARE\tCOUNT\t\n", dim)
			for _, s := range breakdown.Slices {
				fmt.Fprintf(tw, "%s\t%s\t%s%%\t%d\t\n", s.Key, s.Value.StringFixed(2), s.Share.StringFixed(2), s.Count)
			}
			fmt.Fprintf(tw, "total\t%s\t\t%d\t\n", breakdown.Total.StringFixed(2), len(hs))
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&by, "by", string(holdings.ByAssetClass), "Group by asset_class, currency or entity")
	cmd.Flags().StringVar(&entity, "entity", "", "Only include holdings of this entity")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
