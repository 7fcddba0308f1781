package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ConfigFile 配置文件结构（YAML/JSON）。时长使用 Go duration 字符串（"30s"），金额使用字符串。
type ConfigFile struct {
	Exchange               string `yaml:"exchange" json:"exchange"`
	Currency               string `yaml:"currency" json:"currency"`
	Asset                  string `yaml:"asset" json:"asset"`
	LossAvoidant           *bool  `yaml:"loss_avoidant" json:"loss_avoidant"`
	TradePercent           string `yaml:"trade_percent" json:"trade_percent"`
	DryRun                 *bool  `yaml:"dry_run" json:"dry_run"`
	FillCheckDelay         string `yaml:"fill_check_delay" json:"fill_check_delay"`
	CancelCooldown         string `yaml:"cancel_cooldown" json:"cancel_cooldown"`
	BalanceRefreshInterval string `yaml:"balance_refresh_interval" json:"balance_refresh_interval"`

	Paper struct {
		Balances map[string]string `yaml:"balances" json:"balances"`
		Fee      string            `yaml:"fee" json:"fee"`
	} `yaml:"paper" json:"paper"`

	Log struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   *bool  `yaml:"compress" json:"compress"`
		ByDay      *bool  `yaml:"by_day" json:"by_day"`
	} `yaml:"log" json:"log"`

	API struct {
		Listen       string `yaml:"listen" json:"listen"`
		Token        string `yaml:"token" json:"token"`
		DedupeWindow string `yaml:"dedupe_window" json:"dedupe_window"`
	} `yaml:"api" json:"api"`

	Journal struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"journal" json:"journal"`

	Secrets struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"secrets" json:"secrets"`

	Binance struct {
		BaseURL         string `yaml:"base_url" json:"base_url"`
		WSURL           string `yaml:"ws_url" json:"ws_url"`
		RecvWindow      string `yaml:"recv_window" json:"recv_window"`
		WeightPerMinute int    `yaml:"weight_per_minute" json:"weight_per_minute"`
		UseStream       *bool  `yaml:"use_stream" json:"use_stream"`
	} `yaml:"binance" json:"binance"`

	CircuitBreaker struct {
		MaxConsecutiveErrors int64 `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
	} `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
	ByDay      bool
}

// APIConfig 信号 webhook 配置
type APIConfig struct {
	Listen       string // 为空则不启动
	Token        string
	DedupeWindow time.Duration
}

// BinanceConfig 币安现货接口配置
type BinanceConfig struct {
	BaseURL         string
	WSURL           string
	RecvWindow      time.Duration
	WeightPerMinute int
	UseStream       bool
	APIKey          string // 仅来自环境变量；否则从 secretstore 读取
	APISecret       string
}

// PaperConfig 模拟交易配置
type PaperConfig struct {
	Balances map[string]decimal.Decimal
	Fee      decimal.Decimal
}

// Config 运行配置
type Config struct {
	Exchange               string
	Currency               string
	Asset                  string
	LossAvoidant           bool
	TradePercent           *decimal.Decimal
	DryRun                 bool
	FillCheckDelay         time.Duration
	CancelCooldown         time.Duration
	BalanceRefreshInterval time.Duration

	Paper                PaperConfig
	Log                  LogConfig
	API                  APIConfig
	JournalPath          string
	SecretsPath          string
	SecretsKey           string // 仅来自环境变量 TRADER_SECRETS_KEY
	Binance              BinanceConfig
	MaxConsecutiveErrors int64
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Exchange:       "binance",
		Currency:       "USDT",
		Asset:          "BTC",
		LossAvoidant:   true,
		DryRun:         true,
		FillCheckDelay: 30 * time.Second,
		CancelCooldown: time.Second,
		Paper: PaperConfig{
			Balances: map[string]decimal.Decimal{
				"USDT": decimal.NewFromInt(1000),
				"BTC":  decimal.Zero,
			},
			Fee: decimal.RequireFromString("0.001"),
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/signaltrader.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
			ByDay:      true,
		},
		API: APIConfig{
			DedupeWindow: 10 * time.Second,
		},
		JournalPath: "data/journal.db",
		SecretsPath: "data/secrets",
		Binance: BinanceConfig{
			BaseURL:         "https://api.binance.com",
			WSURL:           "wss://stream.binance.com:9443/ws",
			RecvWindow:      5 * time.Second,
			WeightPerMinute: 1200,
			UseStream:       true,
		},
		MaxConsecutiveErrors: 5,
	}
}

// Load 加载配置：默认值 → 配置文件（path 为空则跳过）→ .env / 环境变量，最后校验
func Load(path string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		cf, err := loadConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, fmt.Errorf("配置文件 %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &cf, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	setString(&c.Exchange, cf.Exchange)
	setString(&c.Currency, cf.Currency)
	setString(&c.Asset, cf.Asset)
	setBool(&c.LossAvoidant, cf.LossAvoidant)
	setBool(&c.DryRun, cf.DryRun)

	if cf.TradePercent != "" {
		p, err := decimal.NewFromString(cf.TradePercent)
		if err != nil {
			return fmt.Errorf("trade_percent: %w", err)
		}
		c.TradePercent = &p
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"fill_check_delay", cf.FillCheckDelay, &c.FillCheckDelay},
		{"cancel_cooldown", cf.CancelCooldown, &c.CancelCooldown},
		{"balance_refresh_interval", cf.BalanceRefreshInterval, &c.BalanceRefreshInterval},
		{"api.dedupe_window", cf.API.DedupeWindow, &c.API.DedupeWindow},
		{"binance.recv_window", cf.Binance.RecvWindow, &c.Binance.RecvWindow},
	} {
		if err := setDuration(d.dst, d.raw); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}

	if len(cf.Paper.Balances) > 0 {
		c.Paper.Balances = make(map[string]decimal.Decimal, len(cf.Paper.Balances))
		for sym, raw := range cf.Paper.Balances {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("paper.balances.%s: %w", sym, err)
			}
			c.Paper.Balances[strings.ToUpper(sym)] = v
		}
	}
	if cf.Paper.Fee != "" {
		fee, err := decimal.NewFromString(cf.Paper.Fee)
		if err != nil {
			return fmt.Errorf("paper.fee: %w", err)
		}
		c.Paper.Fee = fee
	}

	setString(&c.Log.Level, cf.Log.Level)
	setString(&c.Log.File, cf.Log.File)
	setInt(&c.Log.MaxSize, cf.Log.MaxSize)
	setInt(&c.Log.MaxBackups, cf.Log.MaxBackups)
	setInt(&c.Log.MaxAge, cf.Log.MaxAge)
	setBool(&c.Log.Compress, cf.Log.Compress)
	setBool(&c.Log.ByDay, cf.Log.ByDay)

	setString(&c.API.Listen, cf.API.Listen)
	setString(&c.API.Token, cf.API.Token)
	setString(&c.JournalPath, cf.Journal.Path)
	setString(&c.SecretsPath, cf.Secrets.Path)

	setString(&c.Binance.BaseURL, cf.Binance.BaseURL)
	setString(&c.Binance.WSURL, cf.Binance.WSURL)
	setInt(&c.Binance.WeightPerMinute, cf.Binance.WeightPerMinute)
	setBool(&c.Binance.UseStream, cf.Binance.UseStream)

	if cf.CircuitBreaker.MaxConsecutiveErrors != 0 {
		c.MaxConsecutiveErrors = cf.CircuitBreaker.MaxConsecutiveErrors
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Exchange = getEnv("TRADER_EXCHANGE", c.Exchange)
	c.Currency = getEnv("TRADER_CURRENCY", c.Currency)
	c.Asset = getEnv("TRADER_ASSET", c.Asset)
	c.LossAvoidant = parseBoolEnv("TRADER_LOSS_AVOIDANT", c.LossAvoidant)
	c.DryRun = parseBoolEnv("TRADER_DRY_RUN", c.DryRun)
	if v := os.Getenv("TRADER_TRADE_PERCENT"); v != "" {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("TRADER_TRADE_PERCENT: %w", err)
		}
		c.TradePercent = &p
	}
	if err := setDuration(&c.BalanceRefreshInterval, os.Getenv("TRADER_BALANCE_REFRESH_INTERVAL")); err != nil {
		return fmt.Errorf("TRADER_BALANCE_REFRESH_INTERVAL: %w", err)
	}

	c.Log.Level = getEnv("TRADER_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("TRADER_LOG_FILE", c.Log.File)
	c.API.Listen = getEnv("TRADER_API_LISTEN", c.API.Listen)
	c.API.Token = getEnv("TRADER_API_TOKEN", c.API.Token)
	c.JournalPath = getEnv("TRADER_JOURNAL_PATH", c.JournalPath)
	c.SecretsPath = getEnv("TRADER_SECRETS_PATH", c.SecretsPath)
	c.SecretsKey = getEnv("TRADER_SECRETS_KEY", c.SecretsKey)

	c.Binance.BaseURL = getEnv("TRADER_BINANCE_BASE_URL", c.Binance.BaseURL)
	c.Binance.APIKey = getEnv("TRADER_BINANCE_API_KEY", c.Binance.APIKey)
	c.Binance.APISecret = getEnv("TRADER_BINANCE_API_SECRET", c.Binance.APISecret)
	c.Binance.WeightPerMinute = parseIntEnv("TRADER_BINANCE_WEIGHT_PER_MINUTE", c.Binance.WeightPerMinute)
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.Exchange == "" {
		errs = append(errs, errors.New("exchange 不能为空"))
	}
	if c.Currency == "" || c.Asset == "" {
		errs = append(errs, errors.New("currency 和 asset 不能为空"))
	}
	if strings.EqualFold(c.Currency, c.Asset) {
		errs = append(errs, fmt.Errorf("currency 与 asset 相同: %s", c.Currency))
	}
	if c.TradePercent != nil {
		p := *c.TradePercent
		if !p.IsPositive() || p.GreaterThan(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("trade_percent 必须在 (0, 100] 之间: %s", p))
		}
	}
	if c.FillCheckDelay <= 0 {
		errs = append(errs, errors.New("fill_check_delay 必须大于 0"))
	}
	if c.CancelCooldown <= 0 {
		errs = append(errs, errors.New("cancel_cooldown 必须大于 0"))
	}
	if c.BalanceRefreshInterval < 0 {
		errs = append(errs, errors.New("balance_refresh_interval 不能为负"))
	}
	if c.API.Listen != "" && c.API.Token == "" {
		errs = append(errs, errors.New("启用 api.listen 时必须配置 api.token（或 TRADER_API_TOKEN）"))
	}
	if c.DryRun {
		for _, sym := range []string{c.Currency, c.Asset} {
			if _, ok := c.Paper.Balances[strings.ToUpper(sym)]; !ok {
				errs = append(errs, fmt.Errorf("dry_run 模式下 paper.balances 缺少 %s", sym))
			}
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
