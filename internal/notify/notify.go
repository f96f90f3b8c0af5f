// Package notify sends alerts for hot narrative flows.
//
// A Notifier picks the hottest flows of a response, drops flows that were already
// announced within the cooldown and delivers the rest as one MarkdownV2 message.
// A flow is announced again inside the cooldown only when it crosses into the
// surge band for the first time.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/observatory/internal/countries"
	"github.com/rewired-gh/observatory/internal/metrics"
	"github.com/rewired-gh/observatory/internal/models"
)

// SurgeHeat is the heat above which a flow is re-announced despite the cooldown.
const SurgeHeat = 0.9

// Sender delivers a formatted message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Options configures a Notifier.
type Options struct {
	MinHeat  float64
	TopK     int
	Cooldown time.Duration
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// notifiedRecord tracks a previously sent flow for cooldown deduplication.
type notifiedRecord struct {
	Heat   float64
	SentAt time.Time
}

// Notifier selects and announces hot flows
type Notifier struct {
	sender   Sender
	minHeat  float64
	topK     int
	cooldown time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	notified map[string]notifiedRecord // key = from->to
}

// New creates a Notifier
func New(sender Sender, opts Options) *Notifier {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Notifier{
		sender:   sender,
		minHeat:  opts.MinHeat,
		topK:     opts.TopK,
		cooldown: opts.Cooldown,
		metrics:  opts.Metrics,
		now:      opts.Now,
		notified: make(map[string]notifiedRecord),
	}
}

func flowKey(f models.Flow) string {
	return f.FromCountry + "->" + f.ToCountry
}

// Select returns at most TopK flows with heat ≥ MinHeat, hottest first.
// flows must already be sorted by heat descending.
func (n *Notifier) Select(flows []models.Flow) []models.Flow {
	result := []models.Flow{}
	for _, f := range flows {
		if f.Heat < n.minHeat {
			continue
		}
		result = append(result, f)
		if len(result) == n.topK {
			break
		}
	}
	return result
}

// FilterRecentlySent removes flows announced within the cooldown unless they
// enter the surge band for the first time. Returns a non-nil slice.
func (n *Notifier) FilterRecentlySent(flows []models.Flow) []models.Flow {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	result := []models.Flow{}
	for _, f := range flows {
		rec, exists := n.notified[flowKey(f)]
		if exists && now.Sub(rec.SentAt) < n.cooldown {
			enteringSurge := f.Heat >= SurgeHeat && rec.Heat < SurgeHeat
			if !enteringSurge {
				continue
			}
		}
		result = append(result, f)
	}
	return result
}

// RecordNotified records flows as notified at the current time.
// Call this after a successful send to enable cooldown deduplication.
func (n *Notifier) RecordNotified(flows []models.Flow) {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	for _, f := range flows {
		n.notified[flowKey(f)] = notifiedRecord{Heat: f.Heat, SentAt: now}
	}
	for key, rec := range n.notified {
		if now.Sub(rec.SentAt) >= n.cooldown {
			delete(n.notified, key)
		}
	}
}

// Notify announces the new hot flows of resp and returns how many were sent.
func (n *Notifier) Notify(ctx context.Context, resp *models.FlowsResponse) (int, error) {
	if resp == nil {
		return 0, nil
	}
	flows := n.FilterRecentlySent(n.Select(resp.Flows))
	if len(flows) == 0 {
		return 0, nil
	}

	err := n.sender.Send(ctx, formatMessage(resp, flows))
	n.metrics.Notification(err)
	if err != nil {
		return 0, fmt.Errorf("failed to notify: %w", err)
	}
	n.RecordNotified(flows)
	return len(flows), nil
}

// formatMessage formats flows into a Telegram message
func formatMessage(resp *models.FlowsResponse, flows []models.Flow) string {
	var b strings.Builder
	b.WriteString("🔥 *Hot Narrative Flows*\n\n")
	fmt.Fprintf(&b, "📅 %s · window %s\n\n",
		escapeMarkdownV2(resp.GeneratedAt.UTC().Format("2006-01-02 15:04:05")),
		escapeMarkdownV2(string(resp.TimeWindow)))

	for i, f := range flows {
		fmt.Fprintf(&b, "%d\\. %s → %s\n", i+1, countryLabel(f.FromCountry), countryLabel(f.ToCountry))
		fmt.Fprintf(&b, "   🌡 Heat: *%s* \\(similarity %s\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.2f", f.Heat)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", f.SimilarityScore)))
		fmt.Fprintf(&b, "   ⏱ Lag: %s\n", escapeMarkdownV2(formatHours(f.TimeDeltaHours)))
		if len(f.SharedTopics) > 0 {
			fmt.Fprintf(&b, "   🏷 %s\n", escapeMarkdownV2(strings.Join(f.SharedTopics, ", ")))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func countryLabel(code string) string {
	if m, ok := countries.Lookup(code); ok {
		return escapeMarkdownV2(fmt.Sprintf("%s (%s)", m.Name, code))
	}
	return escapeMarkdownV2(code)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatHours formats a lag in hours in a human-readable way
func formatHours(h float64) string {
	d := time.Duration(h * float64(time.Hour))
	if d >= time.Hour {
		hours := int(d.Hours())
		if mins := int(d.Minutes()) % 60; mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dm", int(d.Minutes()))
}

// SendError reports a failed ingestion cycle.
func (n *Notifier) SendError(ctx context.Context, cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Ingestion cycle failed*\n\n%s", escapeMarkdownV2(cycleErr.Error()))
	err := n.sender.Send(ctx, text)
	n.metrics.Notification(err)
	return err
}

// SendRecovery reports that ingestion works again after failures.
func (n *Notifier) SendRecovery(ctx context.Context, failures int) error {
	text := fmt.Sprintf("✅ *Ingestion recovered* after %d failed cycle%s", failures, plural(failures))
	err := n.sender.Send(ctx, text)
	n.metrics.Notification(err)
	return err
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
