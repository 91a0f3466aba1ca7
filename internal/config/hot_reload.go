package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appcfg "strategy-engine/config"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 5 * time.Second,
	}
}

// Applier 把新配置应用到某个运行中的组件
type Applier func(cfg appcfg.AppConfig) error

// HotReloader 配置热更新器
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	loader     func(path string) (appcfg.AppConfig, error)

	mu         sync.Mutex
	appliers   map[string]Applier
	lastReload time.Time
	current    appcfg.AppConfig

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		logger:     logger.Named("hot_reload"),
		loader:     appcfg.LoadWithEnvOverrides,
		appliers:   make(map[string]Applier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterApplier 注册参数应用器，按名称顺序执行
func (h *HotReloader) RegisterApplier(name string, applier Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = applier
}

// Start 启动热更新监听。监听所在目录以兼容编辑器的原子替换写法。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	go h.watch(ctx)
	h.logger.Info("config hot reload enabled", zap.String("path", h.configPath))
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })

	select {
	case <-h.doneChan:
	case <-time.After(time.Second):
	}
	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if _, err := h.Reload(); err != nil {
					h.logger.Warn("config reload rejected", zap.Error(err))
				}
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload 重新加载并应用配置。冷却期内返回 false。
func (h *HotReloader) Reload() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return false, nil
	}

	cfg, err := h.loader(h.configPath)
	if err != nil {
		return false, fmt.Errorf("load config: %w", err)
	}

	names := make([]string, 0, len(h.appliers))
	for name := range h.appliers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.appliers[name](cfg); err != nil {
			return false, fmt.Errorf("apply %s: %w", name, err)
		}
	}

	h.current = cfg
	h.lastReload = time.Now()
	h.logger.Info("config reloaded", zap.Strings("appliers", names))
	return true, nil
}

// Current 返回最近一次成功加载的配置
func (h *HotReloader) Current() appcfg.AppConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}
