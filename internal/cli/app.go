package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/signaltrader/internal/coordinator"
	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/exchange"
	"github.com/betbot/signaltrader/internal/exchange/binance"
	"github.com/betbot/signaltrader/internal/exchange/paper"
	"github.com/betbot/signaltrader/internal/journal"
	"github.com/betbot/signaltrader/internal/lifecycle"
	"github.com/betbot/signaltrader/internal/metrics"
	"github.com/betbot/signaltrader/internal/ports"
	"github.com/betbot/signaltrader/internal/risk"
	"github.com/betbot/signaltrader/pkg/config"
	"github.com/betbot/signaltrader/pkg/logger"
	"github.com/betbot/signaltrader/pkg/secretstore"
)

// app 一次命令执行所需的完整交易栈
type app struct {
	cfg     *config.Config
	pair    domain.Pair
	ex      ports.Exchange
	stream  *binance.BookTickerStream
	journal *journal.Journal
	breaker *risk.CircuitBreaker
	coord   *coordinator.Coordinator
	engine  *coordinator.Engine
}

func setupLogger(cfg *config.Config, quiet bool) error {
	return logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		LogByDay:   cfg.Log.ByDay,
		Quiet:      quiet,
	})
}

func pairOf(cfg *config.Config) domain.Pair {
	return domain.Pair{Currency: strings.ToUpper(cfg.Currency), Asset: strings.ToUpper(cfg.Asset)}
}

// credentials 环境变量优先，其次 secretstore
func credentials(cfg *config.Config) (secretstore.Credentials, error) {
	if cfg.Binance.APIKey != "" && cfg.Binance.APISecret != "" {
		return secretstore.Credentials{APIKey: cfg.Binance.APIKey, APISecret: cfg.Binance.APISecret}, nil
	}
	key, err := secretstore.ParseKey(cfg.SecretsKey)
	if err != nil {
		return secretstore.Credentials{}, err
	}
	store, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretsPath, EncryptionKey: key, ReadOnly: true})
	if err != nil {
		return secretstore.Credentials{}, err
	}
	defer store.Close()

	creds, found, err := store.Credentials(cfg.Exchange)
	if err != nil {
		return secretstore.Credentials{}, err
	}
	if !found {
		return secretstore.Credentials{}, fmt.Errorf("%s 未配置 API 凭证（signaltrader secrets set 或 TRADER_BINANCE_API_KEY/SECRET）", cfg.Exchange)
	}
	return creds, nil
}

// buildExchange 按配置选择交易所实现：
//   - exchange=paper：纯模拟，行情来自币安公开接口
//   - dry_run：模拟撮合，下单限制沿用目标交易所
//   - 否则：币安实盘
func buildExchange(cfg *config.Config) (ports.Exchange, *binance.BookTickerStream, error) {
	pair := pairOf(cfg)
	bcfg := binance.Config{
		BaseURL:         cfg.Binance.BaseURL,
		RecvWindow:      cfg.Binance.RecvWindow,
		WeightPerMinute: cfg.Binance.WeightPerMinute,
		Pair:            pair,
	}
	var stream *binance.BookTickerStream
	if cfg.Binance.UseStream {
		stream = binance.NewBookTickerStream(cfg.Binance.WSURL, binance.Symbol(pair))
	}

	if cfg.DryRun || cfg.Exchange == "paper" {
		feed := binance.NewClient(bcfg)
		if stream != nil {
			feed.WithStream(stream)
		}
		ex := paper.New(pair, domain.Balance(cfg.Paper.Balances), cfg.Paper.Fee, paper.WithTickerFeed(feed))
		return ex, stream, nil
	}

	if cfg.Exchange != "binance" {
		return nil, nil, errors.Errorf("exchange %q 不支持实盘（仅 binance）", cfg.Exchange)
	}
	creds, err := credentials(cfg)
	if err != nil {
		return nil, nil, err
	}
	bcfg.APIKey, bcfg.APISecret = creds.APIKey, creds.APISecret
	client := binance.NewClient(bcfg)
	if stream != nil {
		client.WithStream(stream)
	}
	log.Infof("币安实盘 %s，API key %s", binance.Symbol(pair), creds.MaskedKey())
	return client, stream, nil
}

// newApp 组装交易栈。extra 为额外的事件接收者（例如终端仪表盘）。
func newApp(ctx context.Context, cfg *config.Config, extra ...ports.EventSink) (*app, error) {
	a := &app{cfg: cfg, pair: pairOf(cfg)}

	meta, err := exchange.DefaultMetadata()
	if err != nil {
		return nil, err
	}
	a.ex, a.stream, err = buildExchange(cfg)
	if err != nil {
		return nil, err
	}
	if a.stream != nil {
		a.stream.Start(ctx)
	}

	sinks := ports.MultiSink{ports.LogSink{}, metrics.Sink{}}
	if cfg.JournalPath != "" {
		a.journal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.journal)
	}
	sinks = append(sinks, extra...)

	coord, err := coordinator.New(ctx, coordinator.Config{
		Exchange:     cfg.Exchange,
		Pair:         a.pair,
		LossAvoidant: cfg.LossAvoidant,
		TradePercent: cfg.TradePercent,
		Lifecycle: lifecycle.Config{
			FillCheckDelay: cfg.FillCheckDelay,
			CancelCooldown: cfg.CancelCooldown,
		},
	}, a.ex, meta, lifecycle.WithEventSink(sinks))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coord = coord
	a.breaker = risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveErrors: cfg.MaxConsecutiveErrors})
	a.engine = coordinator.NewEngine(coord, coordinator.EngineConfig{
		BalanceRefreshInterval: cfg.BalanceRefreshInterval,
		Breaker:                a.breaker,
	})
	return a, nil
}

// Close 关闭本地存储；行情流随 ctx 结束
func (a *app) Close() error {
	if a.journal != nil {
		return a.journal.Close()
	}
	return nil
}
