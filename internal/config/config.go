// Package config defines all configuration for the engine. Config is loaded
// from a YAML file (default: configs/engine.yaml) with sensitive fields
// overridable via ENGINE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Bus       BusConfig       `mapstructure:"bus"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ExchangeConfig holds Binance connectivity and credentials. Keys are only
// required for live order placement; market data is public.
type ExchangeConfig struct {
	// Mode selects the order sink: "paper" fills in-process, "live" places
	// signed orders on Binance.
	Mode         string        `mapstructure:"mode"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	Testnet      bool          `mapstructure:"testnet"`
	DataTimeout  time.Duration `mapstructure:"data_timeout"`
	OrderTimeout time.Duration `mapstructure:"order_timeout"`
}

// EvaluatorConfig tunes the shared evaluation loop.
//
//   - CyclePeriod: how often a full evaluation cycle runs.
//   - KlineLimit:  bars fetched per (symbol, timeframe) group.
//   - AlignToBars: sleep to bar-close boundaries on sub-cycle timeframes.
//   - JitterMax:   random extra sleep after a bar close, avoids herding on
//     the exchange right at the boundary.
type EvaluatorConfig struct {
	CyclePeriod time.Duration `mapstructure:"cycle_period"`
	KlineLimit  int           `mapstructure:"kline_limit"`
	AlignToBars bool          `mapstructure:"align_to_bars"`
	JitterMax   time.Duration `mapstructure:"jitter_max"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	MailboxSize int `mapstructure:"mailbox_size"`
}

// ExecutorConfig tunes per-bot executors.
type ExecutorConfig struct {
	MailboxSize  int           `mapstructure:"mailbox_size"`
	StopDeadline time.Duration `mapstructure:"stop_deadline"`
}

// PaperConfig tunes the paper-trading simulator.
type PaperConfig struct {
	InitialBalance float64 `mapstructure:"initial_balance"`
	SlippageBps    float64 `mapstructure:"slippage_bps"`
	FeeBps         float64 `mapstructure:"fee_bps"`
}

// StoreConfig selects the datastore backing.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Dir   string `mapstructure:"dir"`
	Debug bool   `mapstructure:"debug"`
}

type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads configuration from the given path (or the default search path
// when empty), applies defaults and ENGINE_* env overrides, and validates.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("exchange.mode", "paper")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.data_timeout", 10*time.Second)
	v.SetDefault("exchange.order_timeout", 15*time.Second)
	v.SetDefault("evaluator.cycle_period", 60*time.Second)
	v.SetDefault("evaluator.kline_limit", 200)
	v.SetDefault("evaluator.align_to_bars", true)
	v.SetDefault("evaluator.jitter_max", 2*time.Second)
	v.SetDefault("bus.mailbox_size", 256)
	v.SetDefault("executor.mailbox_size", 64)
	v.SetDefault("executor.stop_deadline", 5*time.Second)
	v.SetDefault("paper.initial_balance", 10000.0)
	v.SetDefault("paper.slippage_bps", 0.0)
	v.SetDefault("paper.fee_bps", 10.0)
	v.SetDefault("store.dir", "data")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.debug", false)
	v.SetDefault("metrics.listen_addr", ":9090")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("engine")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults plus env cover local runs.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	switch c.Exchange.Mode {
	case "paper":
	case "live":
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("live mode requires exchange.api_key and exchange.api_secret")
		}
	default:
		return fmt.Errorf("exchange.mode must be paper or live, got %q", c.Exchange.Mode)
	}
	if c.Evaluator.CyclePeriod <= 0 {
		return fmt.Errorf("evaluator.cycle_period must be positive")
	}
	if c.Evaluator.KlineLimit < 2 {
		return fmt.Errorf("evaluator.kline_limit must be at least 2")
	}
	if c.Bus.MailboxSize < 1 {
		return fmt.Errorf("bus.mailbox_size must be at least 1")
	}
	if c.Executor.MailboxSize < 1 {
		return fmt.Errorf("executor.mailbox_size must be at least 1")
	}
	if c.Paper.InitialBalance <= 0 {
		return fmt.Errorf("paper.initial_balance must be positive")
	}
	if c.Paper.SlippageBps < 0 || c.Paper.FeeBps < 0 {
		return fmt.Errorf("paper slippage/fee bps must be non-negative")
	}
	return nil
}
