package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/observatory/internal/models"
)

type fakeSender struct {
	messages []string
	err      error
}

func (f *fakeSender) Send(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func flow(from, to string, heat float64) models.Flow {
	return models.Flow{
		FromCountry:     from,
		ToCountry:       to,
		Heat:            heat,
		SimilarityScore: heat,
		TimeDeltaHours:  1.5,
		SharedTopics:    []string{"election"},
	}
}

func response(flows ...models.Flow) *models.FlowsResponse {
	return &models.FlowsResponse{
		TimeWindow:  models.Window6h,
		GeneratedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Flows:       flows,
	}
}

func TestSelect(t *testing.T) {
	n := New(&fakeSender{}, Options{MinHeat: 0.5, TopK: 2})

	got := n.Select([]models.Flow{flow("US", "BR", 0.9), flow("US", "MX", 0.8), flow("GB", "FR", 0.7), flow("DE", "IT", 0.2)})
	if len(got) != 2 {
		t.Fatalf("Expected 2 flows, got %d", len(got))
	}
	if got[0].ToCountry != "BR" || got[1].ToCountry != "MX" {
		t.Errorf("Unexpected selection: %+v", got)
	}

	if got := n.Select(nil); got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", got)
	}
}

func TestNotifyCooldown(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	sender := &fakeSender{}
	n := New(sender, Options{MinHeat: 0.5, TopK: 5, Cooldown: time.Hour, Now: c.now})
	ctx := context.Background()

	sent, err := n.Notify(ctx, response(flow("US", "BR", 0.8)))
	if err != nil || sent != 1 {
		t.Fatalf("Expected 1 sent, got %d (%v)", sent, err)
	}

	// same flow inside cooldown is suppressed
	c.t = c.t.Add(30 * time.Minute)
	sent, err = n.Notify(ctx, response(flow("US", "BR", 0.85)))
	if err != nil || sent != 0 {
		t.Fatalf("Expected suppression, got %d (%v)", sent, err)
	}

	// reverse direction is a different flow
	sent, _ = n.Notify(ctx, response(flow("BR", "US", 0.8)))
	if sent != 1 {
		t.Errorf("Expected reverse flow to be sent, got %d", sent)
	}

	// entering the surge band breaks through the cooldown
	sent, _ = n.Notify(ctx, response(flow("US", "BR", 0.95)))
	if sent != 1 {
		t.Errorf("Expected surge to be sent, got %d", sent)
	}

	// after cooldown it is announced again
	c.t = c.t.Add(2 * time.Hour)
	sent, _ = n.Notify(ctx, response(flow("US", "BR", 0.95)))
	if sent != 1 {
		t.Errorf("Expected resend after cooldown, got %d", sent)
	}

	if len(sender.messages) != 4 {
		t.Errorf("Expected 4 messages, got %d", len(sender.messages))
	}
}

func TestNotifySendFailureDoesNotRecord(t *testing.T) {
	sender := &fakeSender{err: errors.New("network down")}
	n := New(sender, Options{MinHeat: 0.5, Cooldown: time.Hour})

	if _, err := n.Notify(context.Background(), response(flow("US", "BR", 0.8))); err == nil {
		t.Fatal("Expected error")
	}
	if got := n.FilterRecentlySent([]models.Flow{flow("US", "BR", 0.8)}); len(got) != 1 {
		t.Errorf("Failed sends must not start a cooldown")
	}
}

func TestNotifyNothingToSend(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, Options{MinHeat: 0.9})
	sent, err := n.Notify(context.Background(), response(flow("US", "BR", 0.3)))
	if err != nil || sent != 0 {
		t.Fatalf("Expected nothing sent, got %d (%v)", sent, err)
	}
	if len(sender.messages) != 0 {
		t.Errorf("Expected no message")
	}
	if sent, _ := n.Notify(context.Background(), nil); sent != 0 {
		t.Errorf("Expected nil response to send nothing")
	}
}

func TestFormatMessage(t *testing.T) {
	msg := formatMessage(response(flow("US", "BR", 0.72)), []models.Flow{flow("US", "BR", 0.72)})
	for _, want := range []string{
		"United States \\(US\\) → Brazil \\(BR\\)",
		"*0\\.72*",
		"1h30m",
		"window 6h",
		"2025\\-03\\-10 12:00:00",
		"election",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected message to contain %q:\n%s", want, msg)
		}
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a.b", "a\\.b"},
		{"(x)", "\\(x\\)"},
		{"1+1=2!", "1\\+1\\=2\\!"},
		{"back\\slash", "back\\\\slash"},
	}
	for _, tt := range tests {
		if got := escapeMarkdownV2(tt.in); got != tt.want {
			t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatHours(t *testing.T) {
	tests := []struct {
		hours    float64
		expected string
	}{
		{1, "1h"},
		{2, "2h"},
		{1.5, "1h30m"},
		{0.5, "30m"},
		{0, "0m"},
	}
	for _, tt := range tests {
		if got := formatHours(tt.hours); got != tt.expected {
			t.Errorf("formatHours(%v) = %s, expected %s", tt.hours, got, tt.expected)
		}
	}
}

func TestTelegramSend(t *testing.T) {
	var sends atomic.Int32
	var lastText atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"observatory","username":"observatory_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err == nil {
				lastText.Store(r.PostForm.Get("text"))
			}
			if sends.Add(1) == 1 {
				fmt.Fprint(w, `{"ok":false,"error_code":500,"description":"Internal Server Error"}`)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramOptions{
		BotToken:       "token",
		ChatID:         "42",
		RetryDelayBase: time.Millisecond,
		APIEndpoint:    srv.URL + "/bot%s/%s",
	})
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}

	if err := tg.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if sends.Load() != 2 {
		t.Errorf("Expected one retry, got %d sends", sends.Load())
	}
	if got, _ := lastText.Load().(string); got != "hello" {
		t.Errorf("Unexpected text %q", got)
	}
}

func TestNewTelegramInvalidChatID(t *testing.T) {
	if _, err := NewTelegram(TelegramOptions{BotToken: "token", ChatID: "not-a-number"}); err == nil {
		t.Error("Expected error for invalid chat ID")
	}
}

func TestSendErrorAndRecovery(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, Options{})

	if err := n.SendError(context.Background(), errors.New("gdelt: 503")); err != nil {
		t.Fatalf("SendError failed: %v", err)
	}
	if err := n.SendRecovery(context.Background(), 3); err != nil {
		t.Fatalf("SendRecovery failed: %v", err)
	}
	if len(sender.messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0], "gdelt: 503") {
		t.Errorf("Unexpected error message: %s", sender.messages[0])
	}
	if !strings.Contains(sender.messages[1], "3 failed cycles") {
		t.Errorf("Unexpected recovery message: %s", sender.messages[1])
	}
}
