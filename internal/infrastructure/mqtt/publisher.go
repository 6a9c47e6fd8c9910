package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/nsm-core/internal/asyncop"
	"github.com/nerrad567/nsm-core/internal/event"
	"github.com/nerrad567/nsm-core/internal/sensor"
)

// DefaultQueueSize bounds the Publisher queue when none is given.
const DefaultQueueSize = 256

// JSONPublisher is what Publisher needs from Client.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

type outbound struct {
	topic    string
	v        any
	retained bool
}

// Publisher fans daemon activity out to MQTT: sensor readings, device
// events and async operation status. Its entry points never block; when
// the queue is full the message is dropped and counted.
//
// Thread Safety: all methods are safe for concurrent use.
type Publisher struct {
	pub     JSONPublisher
	queue   chan outbound
	dropped atomic.Uint64
	failed  atomic.Uint64
	logger  Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// NewPublisher creates a Publisher. Call Start to begin draining.
func NewPublisher(pub JSONPublisher, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Publisher{
		pub:   pub,
		queue: make(chan outbound, queueSize),
		done:  make(chan struct{}),
	}
}

// SetLogger sets the logger for publish failures.
func (p *Publisher) SetLogger(logger Logger) { p.logger = logger }

// Start drains the queue until ctx is cancelled or Stop is called.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				p.drain()
				return
			case msg := <-p.queue:
				p.send(msg)
			}
		}
	}()
}

// Stop flushes what is queued and waits for the drain loop to exit.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.send(msg)
		default:
			return
		}
	}
}

func (p *Publisher) send(msg outbound) {
	if err := p.pub.PublishJSON(msg.topic, msg.v, msg.retained); err != nil {
		p.failed.Add(1)
		if p.logger != nil {
			p.logger.Warn("mqtt publish failed", "topic", msg.topic, "error", err)
		}
	}
}

func (p *Publisher) enqueue(topic string, v any, retained bool) {
	select {
	case p.queue <- outbound{topic: topic, v: v, retained: retained}:
	default:
		p.dropped.Add(1)
	}
}

// Publish implements sensor.Sink. Readings are retained so a new
// subscriber sees the last value of every sensor.
func (p *Publisher) Publish(r sensor.Reading) {
	p.enqueue(Topics{}.SensorReading(r.Device, r.Sensor), r, true)
}

// Event is an event.Forwarder.
func (p *Publisher) Event(n event.Notification) {
	id := n.UUID
	if id == "" {
		id = fmt.Sprintf("eid-%d", n.EID)
	}
	p.enqueue(Topics{}.DeviceEvent(id), n, false)
}

// Operation is an asyncop.Notifier.
func (p *Publisher) Operation(rec asyncop.Record) {
	p.enqueue(Topics{}.AsyncStatus(rec.ID), rec, false)
}

// Dropped returns how many messages were discarded on a full queue.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Failed returns how many publishes the broker client rejected.
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

var (
	_ sensor.Sink      = (*Publisher)(nil)
	_ event.Forwarder  = (*Publisher)(nil).Event
	_ asyncop.Notifier = (*Publisher)(nil).Operation
	_ JSONPublisher    = (*Client)(nil)
)
