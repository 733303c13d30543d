package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"absensi/internal/queue"
	"absensi/internal/settings"
	"absensi/internal/store"
)

func newResolver(t *testing.T, mutate func(*settings.Settings)) *settings.Resolver {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	res := settings.NewResolver(st)
	if mutate != nil {
		if err := res.Update(mutate); err != nil {
			t.Fatalf("seed settings: %v", err)
		}
	}
	return res
}

func drain(t *testing.T, q *queue.InMemory) []queue.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	var msgs []queue.Message
	for {
		select {
		case msg := <-ch:
			msgs = append(msgs, msg)
		case <-time.After(50 * time.Millisecond):
			return msgs
		}
	}
}

func TestDispatcherHonorsToggles(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*settings.Settings)
		event  Event
		want   int
	}{
		{
			name:   "telegram disabled drops checkin",
			mutate: nil, // defaults: telegram off
			event:  Event{Kind: KindCheckIn, Status: "present"},
			want:   0,
		},
		{
			name:   "test event bypasses telegram toggle",
			mutate: nil,
			event:  Event{Kind: KindTest},
			want:   1,
		},
		{
			name: "enabled checkin passes",
			mutate: func(s *settings.Settings) {
				s.TelegramEnabled = true
			},
			event: Event{Kind: KindCheckIn, Status: "present"},
			want:  1,
		},
		{
			name: "checkin toggle off still notifies late",
			mutate: func(s *settings.Settings) {
				s.TelegramEnabled = true
				s.NotifyCheckin = false
			},
			event: Event{Kind: KindCheckIn, Status: "late"},
			want:  1,
		},
		{
			name: "late toggle off drops late",
			mutate: func(s *settings.Settings) {
				s.TelegramEnabled = true
				s.NotifyLate = false
			},
			event: Event{Kind: KindCheckIn, Status: "late"},
			want:  0,
		},
		{
			name: "leave toggle off drops leave",
			mutate: func(s *settings.Settings) {
				s.TelegramEnabled = true
				s.NotifyLeave = false
			},
			event: Event{Kind: KindLeaveRequest},
			want:  0,
		},
		{
			name: "absent summary passes",
			mutate: func(s *settings.Settings) {
				s.TelegramEnabled = true
			},
			event: Event{Kind: KindAbsentSummary, Total: 3},
			want:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.NewInMemory(4)
			d := NewDispatcher(newResolver(t, tt.mutate), q)

			d.Publish(tt.event)

			msgs := drain(t, q)
			if len(msgs) != tt.want {
				t.Fatalf("queued %d messages, want %d", len(msgs), tt.want)
			}
			if tt.want == 1 {
				if msgs[0].Type != tt.event.Kind {
					t.Fatalf("message type = %q, want %q", msgs[0].Type, tt.event.Kind)
				}
				var got Event
				if err := json.Unmarshal(msgs[0].Body, &got); err != nil {
					t.Fatalf("unmarshal body: %v", err)
				}
				if got.Kind != tt.event.Kind {
					t.Fatalf("body kind = %q, want %q", got.Kind, tt.event.Kind)
				}
			}
		})
	}
}

func TestDispatcherSwallowsFullQueue(t *testing.T) {
	q := queue.NewInMemory(1)
	d := NewDispatcher(newResolver(t, func(s *settings.Settings) {
		s.TelegramEnabled = true
	}), q)
	d.timeout = 10 * time.Millisecond

	// Second publish hits a full queue and must return without blocking.
	d.Publish(Event{Kind: KindCheckIn, Status: "present"})
	done := make(chan struct{})
	go func() {
		d.Publish(Event{Kind: KindCheckIn, Status: "present"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}
}

func TestEventText(t *testing.T) {
	late := Event{Kind: KindCheckIn, StudentID: "stu-01", StudentName: "Budi",
		Status: "late", Date: "2024-03-11", Time: "07:45:00"}
	text := late.Text()
	if !strings.HasPrefix(text, "⚠️") {
		t.Fatalf("late check-in text = %q, want warning emoji prefix", text)
	}
	if !strings.Contains(text, "Budi") || !strings.Contains(text, "stu-01") {
		t.Fatalf("check-in text missing student fields: %q", text)
	}

	leave := Event{Kind: KindLeaveRequest, StudentName: "Budi", StudentID: "stu-01",
		LeaveType: "sick", Reason: strings.Repeat("x", 150)}
	text = leave.Text()
	if strings.Contains(text, strings.Repeat("x", 101)) {
		t.Fatal("leave reason not truncated to 100 chars")
	}
	if !strings.Contains(text, strings.Repeat("x", 100)) {
		t.Fatal("leave reason truncated too aggressively")
	}
}

func TestEventTextReasonTruncatesOnRuneBoundary(t *testing.T) {
	// 60 two-byte runes is 120 bytes; a byte-index cut at 100 would land
	// mid-rune.
	e := Event{Kind: KindLeaveRequest, StudentName: "Budi", StudentID: "stu-01",
		LeaveType: "sick", Reason: strings.Repeat("é", 60)}
	text := e.Text()
	if !utf8.ValidString(text) {
		t.Fatalf("truncated text is not valid UTF-8: %q", text)
	}
	if strings.Contains(text, strings.Repeat("é", 51)) {
		t.Fatal("reason not truncated")
	}
	if !strings.Contains(text, strings.Repeat("é", 50)) {
		t.Fatal("reason truncated too aggressively")
	}
}

func TestEventTextAbsentSummaryTruncation(t *testing.T) {
	e := Event{Kind: KindAbsentSummary, Total: 20, Present: 8}
	for i := 0; i < 12; i++ {
		e.Absent = append(e.Absent, AbsentEntry{ID: "stu", Name: "Name"})
	}
	text := e.Text()
	if !strings.Contains(text, "Absent: 12") {
		t.Fatalf("summary text = %q", text)
	}
	if !strings.Contains(text, "...and 2 more") {
		t.Fatalf("summary text missing overflow note: %q", text)
	}
	if got := strings.Count(text, "- Name (stu)"); got != 10 {
		t.Fatalf("listed %d absentees, want 10", got)
	}
}

func TestTelegramSend(t *testing.T) {
	var gotPath string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = map[string]string{
			"chat_id":    r.PostFormValue("chat_id"),
			"text":       r.PostFormValue("text"),
			"parse_mode": r.PostFormValue("parse_mode"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res := newResolver(t, func(s *settings.Settings) {
		s.TelegramEnabled = true
		s.TelegramBotToken = "123:abc"
		s.TelegramAdminChatID = "-100200"
	})
	tg := NewTelegram(res)
	tg.baseURL = srv.URL

	if err := tg.Send(context.Background(), "<b>hello</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotForm["chat_id"] != "-100200" || gotForm["text"] != "<b>hello</b>" || gotForm["parse_mode"] != "HTML" {
		t.Fatalf("form = %+v", gotForm)
	}
}

func TestTelegramSendErrors(t *testing.T) {
	// Disabled bot and missing credentials are both ErrNotConfigured.
	tg := NewTelegram(newResolver(t, nil))
	if err := tg.Send(context.Background(), "hi"); err != ErrNotConfigured {
		t.Fatalf("disabled bot: err = %v, want ErrNotConfigured", err)
	}

	tg = NewTelegram(newResolver(t, func(s *settings.Settings) {
		s.TelegramEnabled = true
	}))
	if err := tg.Send(context.Background(), "hi"); err != ErrNotConfigured {
		t.Fatalf("missing token: err = %v, want ErrNotConfigured", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	tg = NewTelegram(newResolver(t, func(s *settings.Settings) {
		s.TelegramEnabled = true
		s.TelegramBotToken = "bad"
		s.TelegramAdminChatID = "1"
	}))
	tg.baseURL = srv.URL
	if err := tg.Send(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
