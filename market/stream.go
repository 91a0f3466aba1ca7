package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// quoteFrame 报价推送帧，ts 为 unix 毫秒。
type quoteFrame struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"`
	Ts     int64   `json:"ts"`
}

type subscribeFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// ParseQuote 解析一帧报价。
func ParseQuote(data []byte) (Quote, error) {
	var f quoteFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Quote{}, fmt.Errorf("decode quote frame: %w", err)
	}
	if f.Symbol == "" {
		return Quote{}, errors.New("quote frame without symbol")
	}
	if f.Last <= 0 {
		return Quote{}, fmt.Errorf("quote frame %s: invalid last %.4f", f.Symbol, f.Last)
	}
	q := Quote{
		Symbol: f.Symbol,
		Bid:    f.Bid,
		Ask:    f.Ask,
		Last:   f.Last,
		Volume: f.Volume,
	}
	if f.Ts > 0 {
		q.Timestamp = time.UnixMilli(f.Ts)
	}
	return q, nil
}

// Stream 通过 WebSocket 接收实时报价并交给 sink，断线自动重连。
type Stream struct {
	URL          string
	Symbols      []string
	MaxRetries   int
	RetryBackoff time.Duration
	ReadTimeout  time.Duration
	Dialer       *websocket.Dialer
	// OnConnect/OnDisconnect 连接状态回调，可为 nil
	OnConnect    func()
	OnDisconnect func()

	sink   func(Quote)
	logger *zap.Logger
}

func NewStream(url string, symbols []string, sink func(Quote), logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{
		URL:          url,
		Symbols:      symbols,
		MaxRetries:   5,
		RetryBackoff: 3 * time.Second,
		ReadTimeout:  30 * time.Second,
		Dialer:       websocket.DefaultDialer,
		sink:         sink,
		logger:       logger,
	}
}

// Run 阻塞运行直到 ctx 结束；连续重连失败超过 MaxRetries 时返回错误。
func (s *Stream) Run(ctx context.Context) error {
	retries := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if retries >= s.MaxRetries {
				return fmt.Errorf("quote stream reconnection failed after %d retries: %w", s.MaxRetries, err)
			}
			retries++
			backoff := time.Duration(retries) * s.RetryBackoff
			s.logger.Warn("quote stream dial failed",
				zap.Int("retry", retries),
				zap.Int("max_retries", s.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			continue
		}

		s.logger.Info("quote stream connected", zap.String("url", s.URL), zap.Strings("symbols", s.Symbols))
		retries = 0
		if s.OnConnect != nil {
			s.OnConnect()
		}
		if err := conn.WriteJSON(subscribeFrame{Action: "subscribe", Symbols: s.Symbols}); err != nil {
			s.logger.Warn("quote stream subscribe failed", zap.Error(err))
			_ = conn.Close()
			s.disconnected()
			if !sleepCtx(ctx, s.RetryBackoff) {
				return nil
			}
			continue
		}

		s.readLoop(ctx, conn)
		s.disconnected()
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("quote stream disconnected, reconnecting")
		if !sleepCtx(ctx, s.RetryBackoff) {
			return nil
		}
	}
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("quote stream read error", zap.Error(err))
			}
			return
		}
		q, err := ParseQuote(msg)
		if err != nil {
			s.logger.Debug("skip quote frame", zap.Error(err))
			continue
		}
		if q.Timestamp.IsZero() {
			q.Timestamp = time.Now()
		}
		s.sink(q)
	}
}

func (s *Stream) disconnected() {
	if s.OnDisconnect != nil {
		s.OnDisconnect()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
