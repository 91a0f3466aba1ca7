package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"strategy-engine/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env       string          `yaml:"env"`
	Log       logger.Config   `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	API       APIConfig       `yaml:"api"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Feed      FeedConfig      `yaml:"feed"`
	Engine    EngineConfig    `yaml:"engine"`
	Journal   JournalConfig   `yaml:"journal"`
	Export    ExportConfig    `yaml:"export"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr"` // 为空时不启动指标服务
	Namespace string `yaml:"namespace"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

// GatewayConfig 交易网关。目前只支持 paper 模拟撮合。
type GatewayConfig struct {
	Mode    string                  `yaml:"mode"`
	Rate    float64                 `yaml:"rate"`  // 每秒请求数，0 表示不限流
	Burst   int                     `yaml:"burst"` // 令牌桶容量
	Symbols map[string]SymbolConfig `yaml:"symbols"`
	NoShort bool                    `yaml:"no_short"`
	NodeID  int64                   `yaml:"node_id"` // snowflake 节点号
}

// SymbolConfig 保存标的的价格精度与数量限制。
type SymbolConfig struct {
	TickSize float64 `yaml:"tick_size"`
	MinQty   int     `yaml:"min_qty"`
	MaxQty   int     `yaml:"max_qty"`
}

type FeedConfig struct {
	WSURL            string        `yaml:"ws_url"` // 为空时只使用进程内行情
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	MaxRetries       int           `yaml:"max_retries"` // 0 表示无限重连
	BarInterval      time.Duration `yaml:"bar_interval"`
}

type EngineConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`
	MailboxSize     int           `yaml:"mailbox_size"`
	VWAPBarInterval time.Duration `yaml:"vwap_bar_interval"`
}

type JournalConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type ExportConfig struct {
	OTODir string `yaml:"oto_dir"`
}

type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Default returns a config that runs the paper broker locally.
func Default() AppConfig {
	return AppConfig{
		Env:     "dev",
		Log:     logger.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9102", Namespace: "strat"},
		API:     APIConfig{Addr: ":8080"},
		Gateway: GatewayConfig{
			Mode:  "paper",
			Rate:  10,
			Burst: 20,
		},
		Feed: FeedConfig{
			ReconnectBackoff: time.Second,
			BarInterval:      time.Minute,
		},
		Engine: EngineConfig{
			TickInterval:    time.Second,
			StopTimeout:     10 * time.Second,
			MailboxSize:     64,
			VWAPBarInterval: time.Minute,
		},
		Journal:   JournalConfig{Path: "data/journal.db"},
		Export:    ExportConfig{OTODir: "data/oto"},
		HotReload: HotReloadConfig{Enabled: false, Cooldown: 5 * time.Second},
	}
}

// Load reads YAML config from path on top of Default() and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("STRAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STRAT_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("STRAT_FEED_WS_URL"); v != "" {
		cfg.Feed.WSURL = v
	}
	return cfg, Validate(cfg)
}

// Validate reports every invalid field at once.
func Validate(cfg AppConfig) error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Env == "" {
		errs = multierr.Append(errs, errors.New("env is required"))
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level %q is invalid", cfg.Log.Level)
	}
	if cfg.API.Addr == "" {
		add("api.addr is required")
	}

	if cfg.Gateway.Mode != "paper" {
		add("gateway.mode %q is not supported (want paper)", cfg.Gateway.Mode)
	}
	if cfg.Gateway.Rate < 0 || cfg.Gateway.Burst < 0 {
		add("gateway.rate/burst must be >= 0")
	}
	if cfg.Gateway.NodeID < 0 || cfg.Gateway.NodeID > 1023 {
		add("gateway.node_id must be in [0, 1023]")
	}
	for sym, sc := range cfg.Gateway.Symbols {
		if sc.TickSize < 0 {
			add("symbol %s tick_size must be >= 0", sym)
		}
		if sc.MinQty < 0 || sc.MaxQty < 0 {
			add("symbol %s qty bounds must be >= 0", sym)
		}
		if sc.MaxQty > 0 && sc.MaxQty < sc.MinQty {
			add("symbol %s max_qty must be >= min_qty", sym)
		}
	}

	if cfg.Feed.ReconnectBackoff < 0 {
		add("feed.reconnect_backoff must be >= 0")
	}
	if cfg.Feed.MaxRetries < 0 {
		add("feed.max_retries must be >= 0")
	}
	if cfg.Feed.BarInterval <= 0 {
		add("feed.bar_interval must be > 0")
	}

	if cfg.Engine.TickInterval <= 0 {
		add("engine.tick_interval must be > 0")
	}
	if cfg.Engine.PollInterval < 0 {
		add("engine.poll_interval must be >= 0")
	}
	if cfg.Engine.StopTimeout <= 0 {
		add("engine.stop_timeout must be > 0")
	}
	if cfg.Engine.MailboxSize <= 0 {
		add("engine.mailbox_size must be > 0")
	}
	if cfg.Engine.VWAPBarInterval <= 0 {
		add("engine.vwap_bar_interval must be > 0")
	}

	if !cfg.Journal.InMemory && cfg.Journal.Path == "" {
		add("journal.path is required unless journal.in_memory is set")
	}
	if cfg.Export.OTODir == "" {
		add("export.oto_dir is required")
	}
	if cfg.HotReload.Cooldown < 0 {
		add("hot_reload.cooldown must be >= 0")
	}
	return errs
}
