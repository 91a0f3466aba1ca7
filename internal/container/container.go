package container

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"strategy-engine/config"
	"strategy-engine/gateway"
	"strategy-engine/infrastructure/alert"
	"strategy-engine/infrastructure/logger"
	"strategy-engine/infrastructure/monitor"
	"strategy-engine/internal/api"
	hotreload "strategy-engine/internal/config"
	"strategy-engine/internal/engine"
	"strategy-engine/internal/export"
	"strategy-engine/internal/journal"
	"strategy-engine/market"
	"strategy-engine/order"
	"strategy-engine/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 行情与交易网关
	marketData *market.Service
	paper      *gateway.Paper
	gateway    gateway.Gateway
	stream     *market.Stream

	// 核心服务
	journal  *journal.Journal
	registry *engine.Registry
	reloader *hotreload.HotReloader

	// HTTP服务器
	apiServer     *httpServerComponent
	metricsServer *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置创建容器，configPath 仅用于热更新
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	if err := c.registerLifecycleComponents(); err != nil {
		return fmt.Errorf("register components failed: %w", err)
	}
	c.logger.Info("container built successfully", zap.String("env", c.cfg.Env))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	monitorCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monitorCfg.Namespace = c.cfg.Metrics.Namespace
	}
	c.monitor = monitor.New(monitorCfg)

	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", c.logger.Named("alert")),
	}, time.Minute)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	symbols := c.symbols()
	constraints := make(map[string]order.SymbolConstraints, len(symbols))
	for sym, sc := range c.cfg.Gateway.Symbols {
		constraints[sym] = order.SymbolConstraints{
			TickSize: sc.TickSize,
			MinQty:   sc.MinQty,
			MaxQty:   sc.MaxQty,
		}
	}

	paper, err := gateway.NewPaper(gateway.PaperConfig{
		Symbols:     symbols,
		NoShort:     c.cfg.Gateway.NoShort,
		Constraints: constraints,
		NodeID:      c.cfg.Gateway.NodeID,
	}, c.logger.Named("paper"))
	if err != nil {
		return fmt.Errorf("create paper broker failed: %w", err)
	}
	c.paper = paper

	var gw gateway.Gateway = paper
	if c.cfg.Gateway.Rate > 0 {
		gw = gateway.NewRateLimited(gw, gateway.NewTokenBucketLimiter(c.cfg.Gateway.Rate, c.cfg.Gateway.Burst))
	}
	c.gateway = gateway.NewInstrumented(gw, c.monitor.RecordGatewayCall)

	c.logger.Info("gateway built",
		zap.String("mode", c.cfg.Gateway.Mode),
		zap.Strings("symbols", symbols),
		zap.Float64("rate", c.cfg.Gateway.Rate))
	return nil
}

func (c *Container) buildCoreServices() error {
	publisher := market.NewPublisher(c.cfg.Engine.MailboxSize)
	publisher.OnDrop(func(symbol string) {
		c.monitor.RecordQuoteDropped()
		c.logger.Debug("quote dropped", zap.String("symbol", symbol))
	})
	c.marketData = market.NewService(publisher, c.cfg.Feed.BarInterval)

	if c.cfg.Feed.WSURL != "" {
		c.stream = market.NewStream(c.cfg.Feed.WSURL, c.symbols(), c.PublishQuote, c.logger.Named("stream"))
		c.stream.MaxRetries = c.cfg.Feed.MaxRetries
		if c.cfg.Feed.ReconnectBackoff > 0 {
			c.stream.RetryBackoff = c.cfg.Feed.ReconnectBackoff
		}
		c.stream.OnConnect = c.monitor.RecordWSConnection
		c.stream.OnDisconnect = c.monitor.RecordWSDisconnect
	}

	sink, err := export.NewFileSink(c.cfg.Export.OTODir, c.logger.Logger)
	if err != nil {
		return err
	}

	c.journal, err = journal.Open(c.cfg.Journal, c.logger.Logger)
	if err != nil {
		return err
	}

	factory := strategy.NewStrategyFactory(strategy.Deps{
		Gateway:         c.gateway,
		Feed:            c.marketData,
		PlanSink:        sink,
		Logger:          c.logger.Logger,
		VWAPBarInterval: c.cfg.Engine.VWAPBarInterval,
	})

	c.registry, err = engine.New(engine.Config{
		TickInterval: c.cfg.Engine.TickInterval,
		PollInterval: c.cfg.Engine.PollInterval,
		StopTimeout:  c.cfg.Engine.StopTimeout,
	}, engine.Components{
		Factory:      factory,
		Feed:         c.marketData,
		Gateway:      c.gateway,
		Monitor:      c.monitor,
		AlertManager: c.alerts,
		Logger:       c.logger,
		Observer:     c.journal.Observer(),
	})
	if err != nil {
		return fmt.Errorf("create registry failed: %w", err)
	}

	if c.cfg.HotReload.Enabled && c.configPath != "" {
		c.reloader, err = hotreload.NewHotReloader(c.configPath, hotreload.HotReloadConfig{
			Enabled:      true,
			CooldownTime: c.cfg.HotReload.Cooldown,
		}, c.logger.Logger)
		if err != nil {
			return fmt.Errorf("create hot reloader failed: %w", err)
		}
		c.reloader.RegisterApplier("log_level", func(cfg config.AppConfig) error {
			if cfg.Log.Level == c.logger.Level() {
				return nil
			}
			c.logger.Info("log level changed", zap.String("from", c.logger.Level()), zap.String("to", cfg.Log.Level))
			return c.logger.SetLevel(cfg.Log.Level)
		})
	}

	c.logger.Info("core services built")
	return nil
}

func (c *Container) registerLifecycleComponents() error {
	// 逆序停止：API 先下线，最后关闭交易日志
	c.lifecycle.Register(&hookComponent{name: "journal", stop: c.journal.Close})
	c.lifecycle.Register(&hookComponent{name: "registry", stop: c.registry.Close})

	if c.stream != nil {
		c.lifecycle.Register(&runnerComponent{name: "quote_stream", run: c.stream.Run, log: c.logger})
	}
	if c.reloader != nil {
		c.lifecycle.Register(&hookComponent{name: "hot_reload", start: c.reloader.Start, stop: c.reloader.Stop})
	}

	if c.cfg.Metrics.Addr != "" {
		c.metricsServer = &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		}
		c.lifecycle.Register(c.metricsServer)
	}

	if c.cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(c.registry, c.gateway, c.logger.Logger)
	c.apiServer = &httpServerComponent{
		name:    "api_server",
		handler: api.NewRouter(handler, c.logger.Logger),
		addr:    c.cfg.API.Addr,
		logger:  c.logger,
	}
	c.lifecycle.Register(c.apiServer)
	return nil
}

// PublishQuote 把报价同时送入行情服务与模拟券商撮合
func (c *Container) PublishQuote(q market.Quote) {
	c.marketData.OnQuote(q)
	c.paper.OnQuote(q)
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started", zap.String("api_addr", c.APIAddr()))
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	} else {
		c.logger.Info("container stopped")
	}

	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig    { return *c.cfg }
func (c *Container) Logger() *logger.Logger      { return c.logger }
func (c *Container) Registry() *engine.Registry  { return c.registry }
func (c *Container) Journal() *journal.Journal   { return c.journal }
func (c *Container) MarketData() *market.Service { return c.marketData }

// APIAddr 返回 API 实际监听地址
func (c *Container) APIAddr() string {
	if c.apiServer == nil {
		return ""
	}
	return c.apiServer.Addr()
}

// MetricsHandler 返回指标处理器，供未单独启动指标服务时挂载
func (c *Container) MetricsHandler() http.Handler {
	return c.monitor.Handler()
}

func (c *Container) symbols() []string {
	symbols := make([]string, 0, len(c.cfg.Gateway.Symbols))
	for sym := range c.cfg.Gateway.Symbols {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
