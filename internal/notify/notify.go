// Package notify carries outbound notification events from the core
// operations to the Telegram worker. Delivery is fire-and-forget: nothing in
// here may fail a check-in or a leave submission.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"absensi/internal/queue"
	"absensi/internal/settings"
)

var publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "absensi_notifications_published_total",
	Help: "Notification events handed to the queue, by kind.",
}, []string{"kind"})

func init() {
	prometheus.MustRegister(publishedTotal)
}

// Event kinds.
const (
	KindCheckIn       = "checkin"
	KindLeaveRequest  = "leave_request"
	KindAbsentSummary = "absent_summary"
	KindTest          = "test"
)

// AbsentEntry names one student missing from today's ledger.
type AbsentEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Event is one notification. Fields are populated per kind.
type Event struct {
	Kind        string        `json:"kind"`
	StudentID   string        `json:"student_id,omitempty"`
	StudentName string        `json:"student_name,omitempty"`
	Status      string        `json:"status,omitempty"`
	Date        string        `json:"date,omitempty"`
	Time        string        `json:"time,omitempty"`
	LeaveType   string        `json:"leave_type,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Total       int           `json:"total,omitempty"`
	Present     int           `json:"present,omitempty"`
	Absent      []AbsentEntry `json:"absent,omitempty"`
}

// Text renders the Telegram message for the event, HTML parse mode.
func (e Event) Text() string {
	var b strings.Builder
	switch e.Kind {
	case KindCheckIn:
		emoji := "✅"
		if e.Status == "late" {
			emoji = "⚠️"
		}
		fmt.Fprintf(&b, "%s <b>New Check-in</b>\n\n", emoji)
		fmt.Fprintf(&b, "Name: %s\n", e.StudentName)
		fmt.Fprintf(&b, "ID: %s\n", e.StudentID)
		fmt.Fprintf(&b, "Status: %s\n", e.Status)
		fmt.Fprintf(&b, "Time: %s\n", e.Time)
		fmt.Fprintf(&b, "Date: %s", e.Date)
	case KindLeaveRequest:
		b.WriteString("📝 <b>New Leave Request</b>\n\n")
		fmt.Fprintf(&b, "Name: %s\n", e.StudentName)
		fmt.Fprintf(&b, "ID: %s\n", e.StudentID)
		fmt.Fprintf(&b, "Type: %s\n", e.LeaveType)
		fmt.Fprintf(&b, "Reason: %s\n", truncate(e.Reason, 100))
		fmt.Fprintf(&b, "Date: %s %s\n\n", e.Date, e.Time)
		b.WriteString("Open the admin panel to approve or reject.")
	case KindAbsentSummary:
		b.WriteString("📊 <b>Today's Attendance Report</b>\n\n")
		fmt.Fprintf(&b, "Total students: %d\n", e.Total)
		fmt.Fprintf(&b, "Present: %d\n", e.Present)
		fmt.Fprintf(&b, "Absent: %d\n", len(e.Absent))
		if len(e.Absent) > 0 {
			b.WriteString("\n<b>Absent students:</b>\n")
			shown := e.Absent
			if len(shown) > 10 {
				shown = shown[:10]
			}
			for _, s := range shown {
				fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.ID)
			}
			if rest := len(e.Absent) - len(shown); rest > 0 {
				fmt.Fprintf(&b, "...and %d more", rest)
			}
		}
	case KindTest:
		b.WriteString("🤖 <b>Telegram Bot Connection Test</b>\n\n")
		b.WriteString("If you can read this, the bot is configured correctly.\n\n")
		fmt.Fprintf(&b, "Time: %s", e.Time)
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Sink accepts events from the core operations.
type Sink interface {
	Publish(e Event)
}

// Dispatcher filters events against the per-event settings toggles and
// hands the survivors to the queue. Publish never blocks for longer than the
// configured timeout and never reports failure to its caller.
type Dispatcher struct {
	settings *settings.Resolver
	queue    queue.Queue
	timeout  time.Duration
}

func NewDispatcher(res *settings.Resolver, q queue.Queue) *Dispatcher {
	return &Dispatcher{settings: res, queue: q, timeout: 250 * time.Millisecond}
}

// Publish enqueues the event if notifications for its kind are enabled.
func (d *Dispatcher) Publish(e Event) {
	cfg := d.settings.Current()
	if !enabled(cfg, e) {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("notify: marshal %s event failed: %v", e.Kind, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.queue.Publish(ctx, queue.Message{Type: e.Kind, Body: body}); err != nil {
		log.Printf("notify: publish %s event failed: %v", e.Kind, err)
		return
	}
	publishedTotal.WithLabelValues(e.Kind).Inc()
}

func enabled(cfg settings.Settings, e Event) bool {
	if e.Kind != KindTest && !cfg.TelegramEnabled {
		return false
	}
	switch e.Kind {
	case KindCheckIn:
		if e.Status == "late" {
			return cfg.NotifyLate
		}
		return cfg.NotifyCheckin
	case KindLeaveRequest:
		return cfg.NotifyLeave
	case KindAbsentSummary:
		return cfg.NotifyAbsent
	}
	return true
}
