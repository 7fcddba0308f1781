package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/betbot/signaltrader/pkg/secretstore"
)

func newSecretsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "管理本地加密的交易所 API 凭证",
	}
	cmd.AddCommand(newSecretsSetCmd(opts), newSecretsShowCmd(opts))
	return cmd
}

func openSecrets(opts *rootOptions, readOnly bool) (*secretstore.Store, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	key, err := secretstore.ParseKey(cfg.SecretsKey)
	if err != nil {
		return nil, err
	}
	if key == nil {
		log.Warn("未设置 TRADER_SECRETS_KEY，凭证将以明文存储")
	}
	return secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretsPath, EncryptionKey: key, ReadOnly: readOnly})
}

func newSecretsSetCmd(opts *rootOptions) *cobra.Command {
	var exchangeName, apiKey, apiSecret string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "保存交易所 API key/secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if exchangeName == "" {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				exchangeName = cfg.Exchange
			}
			store, err := openSecrets(opts, false)
			if err != nil {
				return err
			}
			defer store.Close()

			creds := secretstore.Credentials{APIKey: apiKey, APISecret: apiSecret}
			if err := store.SetCredentials(exchangeName, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已保存 %s 凭证 %s\n", exchangeName, creds.MaskedKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&exchangeName, "exchange", "", "交易所名称（默认取配置中的 exchange）")
	cmd.Flags().StringVar(&apiKey, "key", "", "API key")
	cmd.Flags().StringVar(&apiSecret, "secret", "", "API secret")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}

func newSecretsShowCmd(opts *rootOptions) *cobra.Command {
	var exchangeName string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "显示已保存的凭证（key 脱敏）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if exchangeName == "" {
				cfg, err := opts.config()
				if err != nil {
					return err
				}
				exchangeName = cfg.Exchange
			}
			store, err := openSecrets(opts, true)
			if err != nil {
				return err
			}
			defer store.Close()

			creds, found, err := store.Credentials(exchangeName)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: 未配置\n", exchangeName)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", exchangeName, creds.MaskedKey())
			return nil
		},
	}
	cmd.Flags().StringVar(&exchangeName, "exchange", "", "交易所名称（默认取配置中的 exchange）")
	return cmd
}
