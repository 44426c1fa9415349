package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oh-yeah-sea-kit2/slamp/internal/stamp"
	"github.com/oh-yeah-sea-kit2/slamp/internal/utils"
)

type publisher interface {
	Publish(ctx context.Context, queueName string, payload []byte) error
}

type popper interface {
	Pop(queueName string) (*Message, error)
}

// UsagePublisher hands usage events to the broker so posting a stamp never
// waits on the database.
type UsagePublisher struct {
	client publisher
	queue  string
}

func NewUsagePublisher(client *Client, queueName string) *UsagePublisher {
	return &UsagePublisher{client: client, queue: queueName}
}

func (p *UsagePublisher) RecordUsage(ctx context.Context, e stamp.UsageEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.queue, payload)
}

// ConsumeOptions controls ConsumeUsage polling.
type ConsumeOptions struct {
	Queue string
	Sleep time.Duration
	// Once returns after the first empty poll.
	Once bool
}

// ConsumeUsage drains usage events into sink until ctx is done. Undecodable
// messages are acked and dropped; sink failures are requeued.
func ConsumeUsage(ctx context.Context, client popper, sink stamp.UsageRecorder, opts ConsumeOptions) (int, error) {
	sleep := opts.Sleep
	if sleep <= 0 {
		sleep = 30 * time.Second
	}

	stored := 0
	for {
		if err := ctx.Err(); err != nil {
			return stored, nil
		}
		msg, err := client.Pop(opts.Queue)
		if err != nil {
			return stored, err
		}
		if msg == nil {
			if opts.Once {
				return stored, nil
			}
			utils.Debug("queue empty", "queue", opts.Queue, "sleep", sleep.String())
			select {
			case <-ctx.Done():
				return stored, nil
			case <-time.After(sleep):
			}
			continue
		}

		var event stamp.UsageEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			utils.Warn("usage payload json decode failed", "queue", opts.Queue, "err", err)
			_ = msg.Ack()
			continue
		}
		if event.UserID == "" || event.Emoji == "" {
			utils.Warn("usage payload invalid (missing user_id/emoji)", "queue", opts.Queue)
			_ = msg.Ack()
			continue
		}

		if err := sink.RecordUsage(ctx, event); err != nil {
			utils.Error("usage store failed", "queue", opts.Queue, "user_id", event.UserID, "err", err)
			_ = msg.Nack(true)
			return stored, err
		}
		_ = msg.Ack()
		stored++
	}
}
