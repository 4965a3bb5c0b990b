// Package broadcast implements the lifecycle event publisher (C8): a
// background worker draining a queue of outbound messages onto the PUB
// socket. Broadcast failures are logged and dropped. The outbox holds 256
// messages; while it is full, Publish blocks its caller until the worker
// has sent one.
package broadcast

import (
	"context"
	"encoding/json"
	"log"

	"github.com/reyer-project/reyer-rt/internal/message"
	"github.com/reyer-project/reyer-rt/internal/queue"
	"github.com/reyer-project/reyer-rt/internal/transport"
)

const outboxCapacity = 256

// Sender is the subset of *transport.BroadcastSocket the publisher needs,
// so tests can substitute a recorder instead of a real ipc socket.
type Sender interface {
	Send(payload []byte) error
}

var _ Sender = (*transport.BroadcastSocket)(nil)

// Config configures a Publisher at construction.
type Config struct {
	Sink Sender
	Log  *log.Logger
}

// Publisher is the C8 component: a queue plus the worker draining it.
type Publisher struct {
	sink  Sender
	log   *log.Logger
	queue *queue.Queue[message.BroadcastMessage]
}

// New constructs a Publisher writing to sink.
func New(cfg Config) *Publisher {
	l := cfg.Log
	if l == nil {
		l = log.New(log.Writer(), "[broadcast] ", log.LstdFlags)
	}
	return &Publisher{
		sink:  cfg.Sink,
		log:   l,
		queue: queue.New[message.BroadcastMessage](outboxCapacity),
	}
}

// Publish enqueues a message for delivery. It does no socket I/O itself but
// blocks while the outbox is full.
func (p *Publisher) Publish(msg message.BroadcastMessage) {
	p.queue.Push(msg)
}

// PublishProtocolEvent is a convenience wrapper for the PROTOCOL topic.
func (p *Publisher) PublishProtocolEvent(event message.ProtocolEventPayload) {
	msg, err := message.NewProtocolBroadcast(event)
	if err != nil {
		p.log.Printf("encode protocol event: %v", err)
		return
	}
	p.Publish(msg)
}

// PublishLog is a convenience wrapper for the LOG topic.
func (p *Publisher) PublishLog(level, text string) {
	msg, err := message.NewLogBroadcast(level, text)
	if err != nil {
		return
	}
	p.Publish(msg)
}

// Init satisfies worker.Runner.
func (p *Publisher) Init(ctx context.Context) error { return nil }

// RunOnce satisfies worker.Runner: delivers one queued message.
func (p *Publisher) RunOnce(ctx context.Context) {
	msg, ok := p.queue.WaitAndPop(ctx)
	if !ok {
		return
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		p.log.Printf("encode broadcast message: %v", err)
		return
	}
	if err := p.sink.Send(raw); err != nil {
		p.log.Printf("send broadcast message: %v", err)
	}
}

// Shutdown satisfies worker.Runner; no draining happens on exit since a
// dropped broadcast is never a correctness issue.
func (p *Publisher) Shutdown(ctx context.Context) {}
