package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/pkg/logger"
)

func newTradeCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:       "trade buy|sell",
		Short:     "执行一次交易并等待生命周期结束",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"buy", "sell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := domain.ParseSide(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return tradeOnce(ctx, cmd, opts, side)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "等待结果的最长时间（0 表示不限）")
	return cmd
}

func tradeOnce(ctx context.Context, cmd *cobra.Command, opts *rootOptions, side domain.Side) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg, false); err != nil {
		return err
	}
	defer logger.Close()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(runCtx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.engine.Run(runCtx)
	out, err := a.engine.Trade(ctx, side)
	if err != nil {
		return err
	}
	cancel()
	a.engine.Wait()

	fmt.Fprintln(cmd.OutOrStdout(), out.String())
	return nil
}
