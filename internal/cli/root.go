// Package cli signaltrader 命令行：run / trade / secrets / journal / pairs。
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/betbot/signaltrader/pkg/config"
)

var log = logrus.WithField("component", "cli")

// rootOptions 全局参数
type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg *config.Config
}

// config 懒加载配置（PersistentPreRunE 中已加载时直接返回）
func (o *rootOptions) config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	o.cfg = cfg
	return cfg, nil
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "signaltrader",
		Short:         "把买卖信号转换为交易所订单并跟踪到成交",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "配置文件路径（.yaml/.yml/.json，可选）")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "日志级别覆盖：debug|info|warn|error")

	cmd.AddCommand(
		newRunCmd(opts),
		newTradeCmd(opts),
		newSecretsCmd(opts),
		newJournalCmd(opts),
		newPairsCmd(),
	)
	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
