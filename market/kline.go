package market

import "time"

// Quote 某一时刻的报价快照。
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Volume    float64
	Timestamp time.Time
}

// Mid 返回买卖中间价；缺失一边时退化为 Last。
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return q.Last
	}
	return (q.Bid + q.Ask) / 2
}

// Bar represents OHLCV data.
type Bar struct {
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Ts     time.Time
}
