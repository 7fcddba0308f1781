package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/signaltrader/internal/exchange"
)

func newPairsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pairs",
		Short: "列出支持的交易所与交易对",
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := exchange.DefaultMetadata()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EXCHANGE\tPAIR\tDIRECT\tINFINITY\tMINIMAL ORDER")
			for _, p := range meta.Pairs() {
				fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s %s\n",
					p.Exchange, p.Pair, p.Capabilities.Direct, p.Capabilities.InfinityOrder,
					p.Capabilities.MinimalOrder.Amount, p.Capabilities.MinimalOrder.Unit)
			}
			return w.Flush()
		},
	}
}
