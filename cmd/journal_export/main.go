package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"strategy-engine/config"
	"strategy-engine/internal/journal"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dbPath := flag.String("db", "", "交易日志路径，默认读取配置中的 journal.path")
	strategyID := flag.String("strategy", "", "只导出该策略实例")
	symbol := flag.String("symbol", "", "只导出该标的")
	since := flag.String("since", "", "起始时间（RFC3339）")
	until := flag.String("until", "", "结束时间（RFC3339，不含）")
	limit := flag.Int("limit", 0, "最多导出条数，0 表示不限")
	out := flag.String("out", "", "输出文件，留空写到标准输出")
	flag.Parse()

	jcfg := config.Default().Journal
	if *dbPath == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
		jcfg = cfg.Journal
	} else {
		jcfg.Path = *dbPath
	}
	if jcfg.InMemory {
		log.Fatalf("journal.in_memory 已开启，没有可导出的文件")
	}

	filter := journal.Filter{StrategyID: *strategyID, Symbol: *symbol, Limit: *limit}
	var err error
	if filter.Since, err = parseTime(*since); err != nil {
		log.Fatalf("since 格式错误: %v", err)
	}
	if filter.Until, err = parseTime(*until); err != nil {
		log.Fatalf("until 格式错误: %v", err)
	}

	j, err := journal.Open(jcfg, zap.NewNop())
	if err != nil {
		log.Fatalf("打开交易日志失败: %v", err)
	}
	defer j.Close()

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatalf("创建输出文件失败: %v", err)
		}
		defer f.Close()
		w = f
	}

	n, err := j.ExportCSV(context.Background(), w, filter)
	if err != nil {
		log.Fatalf("导出失败: %v", err)
	}
	if *out != "" {
		fmt.Fprintf(os.Stderr, "exported %d rows to %s\n", n, *out)
	}
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
