package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"absensi/internal/queue"
)

// Deliver drains the queue and sends each event through Telegram until ctx is
// cancelled. Send failures are logged and the message is dropped; the worker
// never retries, the next event will surface a persistent misconfiguration
// soon enough.
func Deliver(ctx context.Context, q queue.Queue, tg *Telegram) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		var e Event
		if err := json.Unmarshal(msg.Body, &e); err != nil {
			log.Printf("notify: drop undecodable %s message: %v", msg.Type, err)
			continue
		}
		if err := tg.Send(ctx, e.Text()); err != nil {
			if errors.Is(err, ErrNotConfigured) {
				continue
			}
			log.Printf("notify: telegram send failed for %s: %v", e.Kind, err)
			continue
		}
		log.Printf("notify: delivered %s", e.Kind)
	}
	return nil
}
