package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"strategy-engine/infrastructure/logger"
	"strategy-engine/sim"
	"strategy-engine/strategy"
)

// runsFile -runs 指定的 YAML，多组配置一起回放并排名。
type runsFile struct {
	Runs []sim.Config `yaml:"runs"`
}

// 用历史 Bar 回放策略并输出 JSON 结果。
// 用法：
//
//	go run ./cmd/backtest -bars data/aapl_1m.csv -symbol AAPL -strategy highlow -params '{"quantity":10,"low_threshold":180,"high_threshold":190}'
//	go run ./cmd/backtest -bars data/aapl_1m.csv -runs configs/backtest_runs.yaml -out compare.json
func main() {
	barsPath := flag.String("bars", "", "Bar CSV 路径（timestamp,open,high,low,close,volume）")
	symbol := flag.String("symbol", "", "标的代码")
	strat := flag.String("strategy", "", "策略类型: "+typeNames())
	params := flag.String("params", "{}", "策略参数 JSON")
	runsPath := flag.String("runs", "", "多组配置 YAML，指定后忽略 -strategy/-params")
	capital := flag.Float64("capital", 10000, "初始资金")
	noShort := flag.Bool("no-short", false, "禁止卖出超过持仓")
	start := flag.String("start", "", "回放起点（RFC3339），之前的 Bar 只作为历史")
	end := flag.String("end", "", "回放终点（RFC3339）")
	seed := flag.Int64("seed", 1, "随机种子")
	out := flag.String("out", "", "输出文件，留空写到标准输出")
	level := flag.String("log-level", "warn", "日志级别")
	logFile := flag.String("log-file", "logs/backtest.log", "结果写到标准输出时日志改写到该文件")
	flag.Parse()

	if *barsPath == "" {
		log.Fatal("必须指定 -bars")
	}
	lcfg := logger.DefaultConfig()
	lcfg.Level = *level
	lcfg.Format = "console"
	if *out == "" {
		lcfg.Outputs = []string{"file"}
		lcfg.OutputFile = *logFile
	}
	lg, err := logger.New(lcfg)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer lg.Sync()

	f, err := os.Open(*barsPath)
	if err != nil {
		log.Fatalf("打开 %s 失败: %v", *barsPath, err)
	}
	bars, err := sim.LoadBarsCSV(f)
	f.Close()
	if err != nil {
		log.Fatalf("读取 %s 失败: %v", *barsPath, err)
	}

	base := sim.Config{Symbol: *symbol, InitialCapital: *capital, NoShort: *noShort, Seed: *seed}
	if base.Start, err = parseTime(*start); err != nil {
		log.Fatalf("start 格式错误: %v", err)
	}
	if base.End, err = parseTime(*end); err != nil {
		log.Fatalf("end 格式错误: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runner := sim.NewRunner(lg.Logger)

	var result any
	if *runsPath != "" {
		cfgs, err := loadRuns(*runsPath, base)
		if err != nil {
			log.Fatalf("读取 %s 失败: %v", *runsPath, err)
		}
		cmp, err := runner.Compare(ctx, cfgs, bars)
		if err != nil {
			log.Fatalf("回测失败: %v", err)
		}
		lg.Info("compare finished", zap.Int("runs", len(cfgs)), zap.String("best", cmp.Best))
		result = cmp
	} else {
		if *strat == "" {
			log.Fatal("必须指定 -strategy 或 -runs")
		}
		cfg := base
		cfg.Strategy = strategy.StrategyType(strings.ToLower(*strat))
		if err := json.Unmarshal([]byte(*params), &cfg.Params); err != nil {
			log.Fatalf("params 不是合法 JSON: %v", err)
		}
		res, err := runner.Run(ctx, cfg, bars)
		if err != nil {
			log.Fatalf("回测失败: %v", err)
		}
		log.Printf("strategy=%s symbol=%s bars=%d trades=%d pnl=%.2f return=%.2f%% maxDD=%.2f%% sharpe=%.2f",
			res.Strategy, res.Symbol, res.Bars, len(res.Trades), res.PnL, res.TotalReturn, res.Metrics.MaxDrawdown, res.Metrics.Sharpe)
		result = res
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		of, err := os.Create(*out)
		if err != nil {
			log.Fatalf("创建 %s 失败: %v", *out, err)
		}
		defer of.Close()
		w = of
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("写出结果失败: %v", err)
	}
}

// loadRuns 读取多组配置，未填写的公共字段沿用命令行参数。
func loadRuns(path string, base sim.Config) ([]sim.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf runsFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, err
	}
	if len(rf.Runs) == 0 {
		return nil, fmt.Errorf("no runs in %s", path)
	}
	for i := range rf.Runs {
		r := &rf.Runs[i]
		if r.Symbol == "" {
			r.Symbol = base.Symbol
		}
		if r.InitialCapital <= 0 {
			r.InitialCapital = base.InitialCapital
		}
		if r.Start.IsZero() {
			r.Start = base.Start
		}
		if r.End.IsZero() {
			r.End = base.End
		}
		if r.Seed == 0 {
			r.Seed = base.Seed
		}
		r.NoShort = r.NoShort || base.NoShort
	}
	return rf.Runs, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func typeNames() string {
	var names []string
	for _, t := range strategy.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, ", ")
}
