// Package notify delivers committed transitions to real-time subscribers.
//
// The FSM engine writes an outbox row in the same transaction as every
// transition. A Dispatcher polls the outbox and hands each row to a
// Publisher; rows are marked delivered only after a successful publish, so
// delivery is at-least-once and subscribers must tolerate duplicates (the
// (subject, seq) pair identifies an event).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/atsguard/internal/store"
)

// Event is the payload published for one transition.
type Event struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	Seq         int64     `json:"seq"`
	OldStatus   string    `json:"old_status"`
	NewStatus   string    `json:"new_status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventFrom converts an outbox row.
func EventFrom(n store.Notification) Event {
	return Event{
		ID:          n.ID,
		TenantID:    n.TenantID,
		SubjectType: n.SubjectType,
		SubjectID:   n.SubjectID,
		Seq:         n.Seq,
		OldStatus:   n.OldStatus,
		NewStatus:   n.NewStatus,
		OccurredAt:  n.OccurredAt.UTC(),
	}
}

// Publisher pushes events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// DefaultChannelPrefix prefixes every Redis channel.
const DefaultChannelPrefix = "atsguard"

// Channel returns the per-tenant channel name. Subscribers of one tenant
// never see another tenant's events.
func Channel(prefix, tenantID string) string {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return prefix + ":tenant:" + tenantID + ":transitions"
}

// RedisPublisher publishes JSON events with Redis PUBLISH.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher wraps an open client. An empty prefix uses
// DefaultChannelPrefix.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Publish sends e to its tenant channel.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(p.prefix, e.TenantID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Close releases the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// OpenRedis connects to the Redis server at url (redis://...) and checks it
// with PING.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// WriterPublisher writes each event as one JSON line. The CLI uses it when
// no Redis URL is configured.
type WriterPublisher struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterPublisher publishes to w.
func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{enc: json.NewEncoder(w)}
}

// Publish writes e.
func (p *WriterPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(e); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// MemoryPublisher records events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	fail   func(Event) error
}

// NewMemoryPublisher creates an empty publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes Publish return fn's error for events where fn is non-nil.
// Pass nil to stop failing.
func (p *MemoryPublisher) FailWith(fn func(Event) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fn
}

// Publish records e.
func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		if err := p.fail(e); err != nil {
			return err
		}
	}
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of the published events in publish order.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
