package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task types carried on the tasks topic.
const (
	TaskProcessMessage = "process_message"
	TaskSendMessage    = "send_message"
	TaskProgressGroup  = "progress_group"
	TaskEndGroup       = "end_group"
)

// TaskEnvelope wraps every queued job with an id for tracing and an
// attempt counter for retry accounting.
type TaskEnvelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ProcessMessagePayload is an inbound WhatsApp message to run through
// the bot pipeline.
type ProcessMessagePayload struct {
	Sender string `json:"sender"`
	Name   string `json:"name"`
	Text   string `json:"text"`
}

// SendMessagePayload is an outbound WhatsApp message.
type SendMessagePayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// GroupTaskPayload targets a single crawl group for progression or
// wind-down.
type GroupTaskPayload struct {
	GroupID uint `json:"group_id"`
}

// Publisher abstracts the broker producer so handlers and the sweeper
// can be tested without Kafka.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Enqueuer builds task envelopes and hands them to the publisher,
// keyed by a stable id so related messages keep their order within a
// partition.
type Enqueuer struct {
	pub Publisher
}

func NewEnqueuer(pub Publisher) *Enqueuer {
	return &Enqueuer{pub: pub}
}

func (e *Enqueuer) enqueue(ctx context.Context, taskType, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := TaskEnvelope{
		ID:         uuid.NewString(),
		Type:       taskType,
		EnqueuedAt: time.Now().UTC(),
		Payload:    raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.pub.Publish(ctx, key, value)
}

// ProcessMessage queues an inbound message, keyed by sender so one
// user's messages are handled in order.
func (e *Enqueuer) ProcessMessage(ctx context.Context, p ProcessMessagePayload) error {
	return e.enqueue(ctx, TaskProcessMessage, p.Sender, p)
}

// SendMessage queues an outbound message.
func (e *Enqueuer) SendMessage(ctx context.Context, p SendMessagePayload) error {
	return e.enqueue(ctx, TaskSendMessage, p.To, p)
}

// ProgressGroup queues a move-to-next-bar job for a group.
func (e *Enqueuer) ProgressGroup(ctx context.Context, groupID uint) error {
	return e.enqueue(ctx, TaskProgressGroup, groupKey(groupID), GroupTaskPayload{GroupID: groupID})
}

// EndGroup queues a wind-down job for a group.
func (e *Enqueuer) EndGroup(ctx context.Context, groupID uint) error {
	return e.enqueue(ctx, TaskEndGroup, groupKey(groupID), GroupTaskPayload{GroupID: groupID})
}

func groupKey(id uint) string {
	return fmt.Sprintf("group-%d", id)
}
