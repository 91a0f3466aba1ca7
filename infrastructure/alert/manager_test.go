package alert

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewManager(t *testing.T) {
	ch := NewMockChannel("test")
	mgr := NewManager([]Channel{ch}, 5*time.Minute)

	channels := mgr.GetChannels()
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	if channels[0] != "test" {
		t.Errorf("channel name = %s, want test", channels[0])
	}
}

func TestSendAlertLevels(t *testing.T) {
	tests := []struct {
		name    string
		sendFn  func(*Manager) error
		wantLvl Level
	}{
		{
			name:    "SendInfo",
			sendFn:  func(m *Manager) error { return m.SendInfo("info msg", nil) },
			wantLvl: LevelInfo,
		},
		{
			name:    "SendWarning",
			sendFn:  func(m *Manager) error { return m.SendWarning("warning msg", nil) },
			wantLvl: LevelWarning,
		},
		{
			name:    "SendError",
			sendFn:  func(m *Manager) error { return m.SendError("error msg", nil) },
			wantLvl: LevelError,
		},
		{
			name:    "StrategyFailed",
			sendFn:  func(m *Manager) error { return m.StrategyFailed("s-1", "twap", "gateway_error", "rejected") },
			wantLvl: LevelError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockChannel("mock")
			mgr := NewManager([]Channel{mock}, 5*time.Minute)

			if err := tt.sendFn(mgr); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if mock.Count() != 1 {
				t.Fatalf("expected 1 alert, got %d", mock.Count())
			}
			alert := mock.GetAlerts()[0]
			if alert.Level != tt.wantLvl {
				t.Errorf("level = %s, want %s", alert.Level, tt.wantLvl)
			}
			if alert.Timestamp.IsZero() {
				t.Error("timestamp should be set")
			}
		})
	}
}

func TestThrottling(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Minute)
	now := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	mgr.throttle.now = func() time.Time { return now }

	_ = mgr.SendInfo("test", nil)
	_ = mgr.SendInfo("test", nil)
	if mock.Count() != 1 {
		t.Errorf("throttled send should not increase count, got %d", mock.Count())
	}

	now = now.Add(time.Minute)
	_ = mgr.SendInfo("test", nil)
	if mock.Count() != 2 {
		t.Errorf("after throttle period: expected 2 alerts, got %d", mock.Count())
	}
}

func TestStrategyFailedThrottledPerInstance(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	_ = mgr.StrategyFailed("s-1", "ladder", "execution_error", "a")
	_ = mgr.StrategyFailed("s-1", "ladder", "execution_error", "b")
	_ = mgr.StrategyFailed("s-2", "ladder", "execution_error", "a")

	if mock.Count() != 2 {
		t.Errorf("expected 2 alerts, got %d", mock.Count())
	}
}

func TestChannelFailures(t *testing.T) {
	failing := NewMockChannel("failing")
	failing.SetShouldError(true)

	mgr := NewManager([]Channel{failing}, 5*time.Minute)
	if err := mgr.SendInfo("test", nil); err == nil {
		t.Error("expected error when all channels fail")
	}

	ok := NewMockChannel("ok")
	mgr = NewManager([]Channel{failing, ok}, 5*time.Minute)
	if err := mgr.SendInfo("test", nil); err != nil {
		t.Errorf("should not return error when some channels succeed: %v", err)
	}
	if ok.Count() != 1 {
		t.Error("successful channel should receive alert")
	}
}

func TestAddRemoveChannel(t *testing.T) {
	mock1 := NewMockChannel("mock1")
	mgr := NewManager([]Channel{mock1}, 5*time.Minute)
	mgr.AddChannel(NewMockChannel("mock2"))

	if got := len(mgr.GetChannels()); got != 2 {
		t.Errorf("expected 2 channels, got %d", got)
	}

	mgr.RemoveChannel("mock1")
	channels := mgr.GetChannels()
	if len(channels) != 1 || channels[0] != "mock2" {
		t.Errorf("remaining channels = %v, want [mock2]", channels)
	}
}

func TestResetThrottle(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	_ = mgr.SendInfo("test", nil)
	_ = mgr.SendInfo("test", nil)
	mgr.ResetThrottle()
	_ = mgr.SendInfo("test", nil)

	if mock.Count() != 2 {
		t.Errorf("after reset: expected 2 alerts, got %d", mock.Count())
	}
}

func TestNilManager(t *testing.T) {
	var mgr *Manager
	if err := mgr.StrategyFailed("s", "ladder", "execution_error", "x"); err != nil {
		t.Errorf("nil manager should be a no-op, got %v", err)
	}
}

func TestLogChannel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ch := NewLogChannel("log", zap.New(core))

	if ch.Name() != "log" {
		t.Errorf("name = %s, want log", ch.Name())
	}
	_ = ch.Send(Alert{Level: LevelCritical, Message: "strategy entered error state", Fields: map[string]interface{}{"strategy_id": "s-1"}})
	_ = ch.Send(Alert{Level: LevelInfo, Message: "hello"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("critical alert should log at error, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["strategy_id"] != "s-1" {
		t.Errorf("missing strategy_id field: %v", entries[0].ContextMap())
	}
}
