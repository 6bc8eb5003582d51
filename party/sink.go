package party

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// TaskTypePartyEvent is the asynq task type for durable party events.
const TaskTypePartyEvent = "party:event"

// sinkPublishTimeout bounds one publish attempt against a slow backend.
const sinkPublishTimeout = 5 * time.Second

// SinkEvent is the durable form of one broadcast event.
type SinkEvent struct {
	PartyID string      `json:"party_id"`
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
	At      int64       `json:"at"`
}

// EventSink receives chat and poll broadcast events for the external
// persistence collaborator. Implementations may fail freely; delivery is
// best effort and never blocks the live path.
type EventSink interface {
	Publish(ctx context.Context, ev *SinkEvent) error
	Close() error
}

// sinkable reports whether an event type is offered to the sink.
func sinkable(t MessageType) bool {
	switch t {
	case MessageTypeChatMessage, MessageTypePollCreated, MessageTypePollClosed:
		return true
	}
	return false
}

// RedisSink publishes events to a per-party redis pub/sub channel.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink creates a sink publishing to prefix+partyID channels.
func NewRedisSink(client redis.UniversalClient, prefix string) *RedisSink {
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Publish(ctx context.Context, ev *SinkEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.prefix+ev.PartyID, b).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// AsynqSink enqueues events as background tasks for the persistence
// workers. Enqueue-only; this process never consumes the queue.
type AsynqSink struct {
	client *asynq.Client
	queue  string
}

// NewAsynqSink creates a sink enqueueing onto the given queue. An empty
// queue name uses the asynq default.
func NewAsynqSink(opt asynq.RedisConnOpt, queue string) *AsynqSink {
	return &AsynqSink{client: asynq.NewClient(opt), queue: queue}
}

func (s *AsynqSink) Publish(ctx context.Context, ev *SinkEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.MaxRetry(5)}
	if s.queue != "" {
		opts = append(opts, asynq.Queue(s.queue))
	}
	_, err = s.client.EnqueueContext(ctx, asynq.NewTask(TaskTypePartyEvent, b), opts...)
	return err
}

func (s *AsynqSink) Close() error {
	return s.client.Close()
}

// SinkQueue decouples the fanout path from the sink backend with a
// bounded buffer and a single drain goroutine. When the buffer is full
// the event is dropped rather than delaying live delivery.
type SinkQueue struct {
	inner   EventSink
	queue   chan *SinkEvent
	closing chan struct{}
	done    chan struct{}
}

// NewSinkQueue wraps inner and starts its drain goroutine.
func NewSinkQueue(inner EventSink, size int) *SinkQueue {
	if size < 1 {
		size = 1
	}
	q := &SinkQueue{
		inner:   inner,
		queue:   make(chan *SinkEvent, size),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.drain()
	return q
}

// Offer queues an event without blocking.
func (q *SinkQueue) Offer(partyID string, m *Message) {
	if !sinkable(m.Type) {
		return
	}
	ev := &SinkEvent{
		PartyID: partyID,
		Type:    m.Type,
		Payload: m.Payload,
		At:      time.Now().UnixMilli(),
	}
	select {
	case q.queue <- ev:
	default:
		log.Warn().Str("module", "party.sink").Str("party", partyID).Str("type", string(m.Type)).Msg("sink queue full, event dropped")
	}
}

func (q *SinkQueue) drain() {
	defer close(q.done)
	for {
		select {
		case ev := <-q.queue:
			ctx, cancel := context.WithTimeout(context.Background(), sinkPublishTimeout)
			if err := q.inner.Publish(ctx, ev); err != nil {
				log.Warn().Err(err).Str("module", "party.sink").Str("party", ev.PartyID).Str("type", string(ev.Type)).Msg("sink publish failed")
			}
			cancel()
		case <-q.closing:
			return
		}
	}
}

// Close stops the drain goroutine and closes the wrapped sink. Events
// still queued are discarded.
func (q *SinkQueue) Close() error {
	close(q.closing)
	<-q.done
	return q.inner.Close()
}
