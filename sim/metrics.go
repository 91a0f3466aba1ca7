package sim

import (
	"context"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"strategy-engine/market"
	"strategy-engine/order"
)

const (
	tradingDays = 252
	riskFree    = 0.02 / tradingDays
)

// Metrics 回测绩效指标，百分比字段均已乘 100。
type Metrics struct {
	RoundTrips   int     `json:"round_trips"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	GrossProfit  float64 `json:"gross_profit"`
	GrossLoss    float64 `json:"gross_loss"`
	ProfitFactor float64 `json:"profit_factor"` // 无亏损时为 0，见 GrossProfit
	Expectancy   float64 `json:"expectancy"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
}

type lot struct {
	side  order.Side
	qty   int
	price float64
}

// RoundTrips 按 FIFO 配对开平仓，返回每次平仓的盈亏。
func RoundTrips(trades []Trade) []float64 {
	var (
		open []lot
		pnls []float64
	)
	for _, t := range trades {
		qty := t.Quantity
		for qty > 0 && len(open) > 0 && open[0].side != t.Side {
			head := &open[0]
			n := min(qty, head.qty)
			diff := t.Price - head.price
			if head.side == order.SideSell {
				diff = -diff
			}
			pnls = append(pnls, diff*float64(n))
			head.qty -= n
			qty -= n
			if head.qty == 0 {
				open = open[1:]
			}
		}
		if qty > 0 {
			open = append(open, lot{side: t.Side, qty: qty, price: t.Price})
		}
	}
	return pnls
}

// ComputeMetrics 由成交与权益曲线计算指标。
func ComputeMetrics(trades []Trade, equity []EquityPoint) Metrics {
	var m Metrics
	pnls := RoundTrips(trades)
	m.RoundTrips = len(pnls)
	for _, p := range pnls {
		switch {
		case p > 0:
			m.Wins++
			m.GrossProfit += p
		case p < 0:
			m.Losses++
			m.GrossLoss += -p
		}
	}
	if m.RoundTrips > 0 {
		winRate := float64(m.Wins) / float64(m.RoundTrips)
		m.WinRate = winRate * 100
		if m.Wins > 0 {
			m.AvgWin = m.GrossProfit / float64(m.Wins)
		}
		if m.Losses > 0 {
			m.AvgLoss = m.GrossLoss / float64(m.Losses)
		}
		m.Expectancy = winRate*m.AvgWin - (1-winRate)*m.AvgLoss
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}
	m.MaxDrawdown = maxDrawdown(equity)
	m.Sharpe = sharpe(equity)
	return m
}

func maxDrawdown(equity []EquityPoint) float64 {
	peak, dd := 0.0, 0.0
	for _, e := range equity {
		if e.Equity > peak {
			peak = e.Equity
		}
		if peak > 0 {
			dd = math.Max(dd, (peak-e.Equity)/peak*100)
		}
	}
	return dd
}

// sharpe 按每根 Bar 的收益率年化（252），无风险利率 2%。
func sharpe(equity []EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			continue
		}
		rets = append(rets, (equity[i].Equity-prev)/prev)
	}
	if len(rets) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(rets)))
	if std == 0 {
		return 0
	}
	return (mean - riskFree) / std * math.Sqrt(tradingDays)
}

// Ranking 单个结果在各指标上的名次，1 为最好。
type Ranking struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Ranks map[string]int `json:"ranks"`
	Score int            `json:"score"`
}

// Comparison 多策略对比结果
type Comparison struct {
	Results []Result  `json:"results"`
	Failed  []string  `json:"failed,omitempty"`
	Ranking []Ranking `json:"ranking"`
	Best    string    `json:"best,omitempty"`
}

type rankKey struct {
	name   string
	higher bool
	value  func(Result) float64
}

var rankKeys = []rankKey{
	{"total_return", true, func(r Result) float64 { return r.TotalReturn }},
	{"sharpe", true, func(r Result) float64 { return r.Metrics.Sharpe }},
	{"win_rate", true, func(r Result) float64 { return r.Metrics.WinRate }},
	{"profit_factor", true, profitFactorKey},
	{"max_drawdown", false, func(r Result) float64 { return r.Metrics.MaxDrawdown }},
}

// 只有盈利没有亏损视为无穷大
func profitFactorKey(r Result) float64 {
	if r.Metrics.GrossLoss == 0 && r.Metrics.GrossProfit > 0 {
		return math.Inf(1)
	}
	return r.Metrics.ProfitFactor
}

// Compare 并发回放多组配置，对成功的结果按各指标排名，名次之和最小者最佳。
func (r *Runner) Compare(ctx context.Context, cfgs []Config, bars []market.Bar) (Comparison, error) {
	results := make([]Result, len(cfgs))
	errs := make([]error, len(cfgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			res, err := r.Run(gctx, cfg, bars)
			if err != nil && gctx.Err() != nil {
				return err
			}
			results[i], errs[i] = res, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Comparison{}, err
	}

	var cmp Comparison
	for i, res := range results {
		if errs[i] != nil || res.Error != "" {
			cmp.Failed = append(cmp.Failed, string(cfgs[i].Strategy))
			r.logger.Sugar().Warnf("compare: %s excluded: %v", cfgs[i].Strategy, firstErr(errs[i], res.Error))
			continue
		}
		cmp.Results = append(cmp.Results, res)
	}
	cmp.Ranking = rank(cmp.Results)
	if len(cmp.Ranking) > 0 {
		cmp.Best = cmp.Ranking[0].ID
	}
	return cmp, nil
}

func firstErr(err error, msg string) string {
	if err != nil {
		return err.Error()
	}
	return msg
}

func rank(results []Result) []Ranking {
	out := make([]Ranking, len(results))
	for i, res := range results {
		out[i] = Ranking{ID: res.ID, Label: string(res.Strategy), Ranks: make(map[string]int, len(rankKeys))}
	}
	idx := make([]int, len(results))
	for _, k := range rankKeys {
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			va, vb := k.value(results[idx[a]]), k.value(results[idx[b]])
			if k.higher {
				return va > vb
			}
			return va < vb
		})
		for pos, i := range idx {
			out[i].Ranks[k.name] = pos + 1
			out[i].Score += pos + 1
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score < out[b].Score })
	return out
}
