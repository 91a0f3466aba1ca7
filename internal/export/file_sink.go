package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"strategy-engine/strategy"
)

// FileSink 把 OTO 计划写成 YAML 文件：<dir>/<SYMBOL>_oto_<unix>.yaml
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink 创建文件产物输出
func NewFileSink(dir string, logger *zap.Logger) (*FileSink, error) {
	if dir == "" {
		return nil, errors.New("export: dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{dir: dir, logger: logger.Named("export")}, nil
}

// SavePlan 写出计划并返回文件路径。同一秒内重复生成时追加序号，不覆盖已有文件。
func (s *FileSink) SavePlan(ctx context.Context, plan strategy.OTOPlan) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create dir %q: %w", s.dir, err)
	}

	raw, err := yaml.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("export: marshal plan: %w", err)
	}

	base := fmt.Sprintf("%s_oto_%d", strings.ToUpper(plan.Symbol), plan.GeneratedAt.Unix())
	for attempt := 0; attempt < 100; attempt++ {
		name := base + ".yaml"
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.yaml", base, attempt)
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("export: create %q: %w", path, err)
		}
		if _, err := f.Write(raw); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("export: write %q: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("export: close %q: %w", path, err)
		}

		s.logger.Info("oto plan exported",
			zap.String("symbol", plan.Symbol),
			zap.String("path", path),
			zap.Int("entries", len(plan.Entries)))
		return path, nil
	}
	return "", fmt.Errorf("export: too many plans for %s in one second", base)
}

// LoadPlan 读取已导出的计划
func LoadPlan(path string) (strategy.OTOPlan, error) {
	var plan strategy.OTOPlan
	raw, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("export: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &plan); err != nil {
		return plan, fmt.Errorf("export: parse %q: %w", path, err)
	}
	return plan, nil
}
