package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNote() Notification {
	return Notification{
		SourceID:     "ethereum",
		ObservedAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		PriceGwei:    decimal.NewFromInt(85),
		AverageGwei:  decimal.NewFromInt(100),
		HighGwei:     decimal.NewFromInt(120),
		LowGwei:      decimal.NewFromInt(80),
		SavingsPct:   15,
		ThresholdPct: 10,
		Channels:     []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "ethereum") {
		t.Fatalf("text 应包含来源: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("非 2xx 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	msg := RenderMessage(sampleNote())
	for _, want := range []string{"ethereum", "85.000 gwei", "Savings: 15% (threshold 10%)", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("消息缺少 %q:\n%s", want, msg)
		}
	}
}

func TestCooldown(t *testing.T) {
	gate := NewCooldown(time.Minute)
	now := time.Unix(1_700_000_000, 0)

	if !gate.Allow("eth", now) {
		t.Fatal("首次信号应放行")
	}
	if gate.Allow("eth", now.Add(30*time.Second)) {
		t.Fatal("冷却期内应拦截")
	}
	if !gate.Allow("polygon", now.Add(30*time.Second)) {
		t.Fatal("不同来源互不影响")
	}
	if !gate.Allow("eth", now.Add(time.Minute)) {
		t.Fatal("冷却结束后应放行")
	}

	open := NewCooldown(0)
	if !open.Allow("eth", now) || !open.Allow("eth", now) {
		t.Fatal("零冷却应全部放行")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
