package sim

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"strategy-engine/market"
)

// LoadBarsCSV 读取 timestamp,open,high,low,close,volume 格式的 CSV。
// timestamp 支持 RFC3339 或 Unix 秒；首行无法解析时视为表头跳过。
func LoadBarsCSV(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	var bars []market.Bar
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("line %d: want 6 columns, got %d", line, len(rec))
		}
		ts, err := parseTimestamp(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+2, err)
			}
			vals[i] = v
		}
		bars = append(bars, market.Bar{Ts: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]})
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
