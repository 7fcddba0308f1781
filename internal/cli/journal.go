package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/signaltrader/internal/journal"
)

func newJournalCmd(opts *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "查询订单生命周期日志",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite 日志路径（默认取配置中的 journal.path）")
	cmd.AddCommand(newJournalTailCmd(opts, &dbPath))
	return cmd
}

func newJournalTailCmd(opts *rootOptions, dbPath *string) *cobra.Command {
	var n int
	var pair string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "显示最近的状态迁移（旧的在前）",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *dbPath
			if path == "" {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				path = cfg.JournalPath
			}
			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Tail(cmd.Context(), pair, n)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPAIR\tSIDE\t#\tFROM\tTO\tORDER\tAMOUNT\tPRICE\tREASON")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.Time.Format("2006-01-02 15:04:05"), e.Pair, e.Side, e.Attempt,
					e.From, e.To, e.OrderID, e.Amount, e.PriceString(), e.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "条数")
	cmd.Flags().StringVar(&pair, "pair", "", "只显示该交易对（如 USDT-BTC）")
	return cmd
}
