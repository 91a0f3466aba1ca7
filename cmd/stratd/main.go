package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strategy-engine/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	lg := c.Logger()
	notify(lg.Logger, daemon.SdNotifyReady)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		g.Go(func() error { return watchdog(gctx, c, interval/2, lg.Logger) })
	}

	if err := g.Wait(); err != nil {
		lg.Error("daemon loop exited", zap.Error(err))
	}

	lg.Info("shutdown signal received")
	notify(lg.Logger, daemon.SdNotifyStopping)
	if err := c.Stop(); err != nil {
		log.Printf("停止时出现错误: %v", err)
	}
}

// watchdog 组件健康时定期喂狗，不健康时停止喂狗交给 systemd 处理
func watchdog(ctx context.Context, c *container.Container, every time.Duration, lg *zap.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				lg.Warn("health check failed, skipping watchdog ping", zap.Error(err))
				continue
			}
			notify(lg, daemon.SdNotifyWatchdog)
		}
	}
}

func notify(lg *zap.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		lg.Warn("systemd notify failed", zap.String("state", state), zap.Error(err))
	case sent:
		lg.Debug("systemd notified", zap.String("state", state))
	}
}
