// Package events implements the event-stream producer/consumer described
// in spec.md §6/§9: a tagged envelope carrying its payload as raw JSON, and
// Redis Streams consumer groups for at-least-once, idempotent delivery.
// Generalized from the teacher's orchestration.RedisTaskQueue (LPUSH/BRPOP
// lists), upgraded to go-redis/v9 Streams for consumer-group semantics the
// spec requires (explicit ack, redelivery, per-process consumer name).
package events

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// Stream names spec.md §6 recognizes.
const (
	StreamOrchestration = "orchestration_events"
	StreamTaskUpdate    = "task_update_events"
	StreamDSM           = "dsm:events"
	StreamDailyScrum    = "daily_scrum_events"
)

// Event types the core produces.
const (
	TypeSprintStarted    = "SprintStarted"
	TypeTaskUpdated      = "TASK_UPDATED"
	TypeDecisionAudit    = "orchestration_decision_audit"
	TypeDailyScrumReport = "daily_scrum_report"
)

// Metadata carries provenance spec.md §6 requires on every event.
type Metadata struct {
	SourceService string `json:"source_service"`
	CorrelationID string `json:"correlation_id"`
}

// Envelope is the tagged event type (spec.md §9). EventData stays raw
// JSON: the consumer does not parse it per EventType and does not reject
// unknown event types; each Handler unmarshals the payload it expects
// (e.g. TaskUpdatedPayload).
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	EventData     json.RawMessage `json:"event_data"`
	Metadata      Metadata        `json:"metadata"`
}

// TaskUpdatedPayload is the typed payload for TASK_UPDATED events.
type TaskUpdatedPayload struct {
	TaskID             string `json:"task_id"`
	ProgressPercentage int    `json:"progress_percentage"`
	Status             string `json:"status"`
}

// NewEnvelope builds an envelope with a fresh event id and UTC timestamp.
func NewEnvelope(eventType, aggregateID, aggregateType string, data any, meta Metadata) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("events.NewEnvelope: %w", coreerrors.ErrMalformedRecord)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventData:     raw,
		Metadata:      meta,
	}, nil
}

// Producer appends events to a stream (fire-and-forget from the caller's
// point of view — spec.md §4.C13's "publish an orchestration event").
type Producer struct {
	client *redis.Client
	logger telemetry.Logger
}

func NewProducer(client *redis.Client, logger telemetry.Logger) *Producer {
	return &Producer{client: client, logger: logger.WithComponent("events/producer")}
}

func (p *Producer) Publish(ctx context.Context, stream string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events.Publish: %w", coreerrors.ErrMalformedRecord)
	}
	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": data},
	}).Result()
	if err != nil {
		return fmt.Errorf("events.Publish(%s): %w: %v", stream, coreerrors.ErrConnectionFailed, err)
	}
	return nil
}

// Handler processes one decoded envelope. Returning an error causes the
// message to remain unacked (and so be redelivered).
type Handler func(ctx context.Context, env Envelope) error

// dedupLRU is a small bounded set of (aggregate_id, event_id) pairs the
// consumer has already applied, making redelivery idempotent (spec.md §5
// "duplicate processing must be idempotent").
type dedupLRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	if capacity <= 0 {
		capacity = 10000
	}
	return &dedupLRU{capacity: capacity, order: list.New(), index: make(map[string]*list.Element)}
}

// seen records key and reports whether it had already been seen.
func (d *dedupLRU) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.MoveToFront(el)
		return true
	}
	el := d.order.PushFront(key)
	d.index[key] = el
	for d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(string))
	}
	return false
}

// Consumer reads a stream via a named consumer group, acknowledging each
// message after successful handling (spec.md §6: backlog reads start at
// '>' — new-only — with block 1000ms).
type Consumer struct {
	client       *redis.Client
	stream       string
	group        string
	consumerName string
	logger       telemetry.Logger
	dedup        *dedupLRU
	block        time.Duration
}

func NewConsumer(client *redis.Client, stream, group, consumerName string, logger telemetry.Logger) *Consumer {
	return &Consumer{
		client:       client,
		stream:       stream,
		group:        group,
		consumerName: consumerName,
		logger:       logger.WithComponent("events/consumer"),
		dedup:        newDedupLRU(10000),
		block:        1000 * time.Millisecond,
	}
}

// EnsureGroup creates the consumer group if it does not already exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("events.EnsureGroup(%s/%s): %w: %v", c.stream, c.group, coreerrors.ErrConnectionFailed, err)
	}
	return nil
}

// Run reads and dispatches messages until ctx is canceled. On restart,
// ReclaimPending should be called first to pick up unacked messages from a
// prior process.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumerName,
			Streams:  []string{c.stream, ">"},
			Count:    10,
			Block:    c.block,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			c.logger.Warn("consumer read failed", map[string]interface{}{"stream": c.stream, "error": err.Error()})
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				c.dispatch(ctx, msg, handle)
			}
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage, handle Handler) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("malformed stream message, acking to drop", map[string]interface{}{"id": msg.ID})
		c.ack(ctx, msg.ID)
		return
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.logger.Warn("unparseable event payload, acking to drop", map[string]interface{}{"id": msg.ID, "error": err.Error()})
		c.ack(ctx, msg.ID)
		return
	}

	dedupKey := env.AggregateID + ":" + env.EventID
	if c.dedup.seen(dedupKey) {
		c.ack(ctx, msg.ID)
		return
	}

	if err := handle(ctx, env); err != nil {
		c.logger.Warn("event handler failed, leaving unacked for redelivery", map[string]interface{}{"id": msg.ID, "event_type": env.EventType, "error": err.Error()})
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.Warn("ack failed", map[string]interface{}{"id": id, "error": err.Error()})
	}
}

// ReclaimPending re-delivers to this consumer any message in the group's
// pending list older than minIdle, per spec.md §5 "on restart, pending
// messages are reclaimed".
func (c *Consumer) ReclaimPending(ctx context.Context, minIdle time.Duration) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream, Group: c.group, Start: "-", End: "+", Count: 100,
	}).Result()
	if err != nil {
		return fmt.Errorf("events.ReclaimPending: %w: %v", coreerrors.ErrConnectionFailed, err)
	}

	var ids []string
	for _, p := range pending {
		if p.Idle >= minIdle {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream: c.stream, Group: c.group, Consumer: c.consumerName, MinIdle: minIdle, Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("events.ReclaimPending: claim: %w: %v", coreerrors.ErrConnectionFailed, err)
	}
	return nil
}
