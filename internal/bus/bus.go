// Package bus is the in-process topic bus trigger events fan out on.
// Topics follow "condition.{fingerprint}"; diagnostic subscribers may use
// "condition.*" patterns. Delivery is at-least-once within a cycle and
// in-order per subscriber; a full mailbox drops the oldest undelivered event
// rather than blocking the publisher.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tradebotlab/crypto-bot-engine/internal/condition"
)

// Handler consumes trigger events. Handlers run on the subscriber's own
// fan-out goroutine, so one slow subscriber cannot stall another.
type Handler func(evt condition.TriggerEvent)

// Handle identifies a subscription for Unsubscribe.
type Handle struct {
	id uint64
}

// DropFunc observes dropped events per subscriber; wired to metrics.
type DropFunc func(subscriber string)

type subscriber struct {
	id      uint64
	name    string
	topic   string // exact topic or "prefix.*" pattern
	pattern bool
	ch      chan condition.TriggerEvent
	dropped atomic.Int64
}

// Bus is safe for concurrent publish from the evaluator and concurrent
// subscription management from the notifier.
type Bus struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers map[uint64]*subscriber
	byTopic     map[string]map[uint64]*subscriber
	mailboxSize int
	onDrop      DropFunc
	wg          sync.WaitGroup
	closed      bool
}

// New creates a bus with the given per-subscriber mailbox size.
func New(mailboxSize int, onDrop DropFunc) *Bus {
	if mailboxSize < 1 {
		mailboxSize = 1
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		byTopic:     make(map[string]map[uint64]*subscriber),
		mailboxSize: mailboxSize,
		onDrop:      onDrop,
	}
}

// Publish delivers the event to every exact and pattern subscriber of the
// topic. Never blocks: a full mailbox sheds its oldest undelivered event
// first, counting the drop against that subscriber.
func (b *Bus) Publish(topic string, evt condition.TriggerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.byTopic[topic] {
		b.offer(s, evt)
	}
	for _, s := range b.subscribers {
		if s.pattern && matchPattern(s.topic, topic) {
			b.offer(s, evt)
		}
	}
}

func (b *Bus) offer(s *subscriber, evt condition.TriggerEvent) {
	select {
	case s.ch <- evt:
		return
	default:
	}
	// Mailbox full: drop the oldest undelivered event to make room.
	select {
	case <-s.ch:
		s.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(s.name)
		}
	default:
	}
	select {
	case s.ch <- evt:
	default:
		// Lost the race to another publisher; count this event as dropped.
		s.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(s.name)
		}
	}
}

// Subscribe registers a handler on an exact topic.
func (b *Bus) Subscribe(topic, name string, handler Handler) Handle {
	return b.add(topic, name, handler, false)
}

// PSubscribe registers a handler on a pattern such as "condition.*".
func (b *Bus) PSubscribe(pattern, name string, handler Handler) Handle {
	return b.add(pattern, name, handler, true)
}

func (b *Bus) add(topic, name string, handler Handler, pattern bool) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Handle{}
	}

	b.nextID++
	s := &subscriber{
		id:      b.nextID,
		name:    name,
		topic:   topic,
		pattern: pattern,
		ch:      make(chan condition.TriggerEvent, b.mailboxSize),
	}
	b.subscribers[s.id] = s
	if !pattern {
		if b.byTopic[topic] == nil {
			b.byTopic[topic] = make(map[uint64]*subscriber)
		}
		b.byTopic[topic][s.id] = s
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for evt := range s.ch {
			handler(evt)
		}
	}()
	return Handle{id: s.id}
}

// Unsubscribe removes a subscription and stops its fan-out goroutine after
// the mailbox drains. Safe to call twice.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(h.id)
}

func (b *Bus) remove(id uint64) {
	s, found := b.subscribers[id]
	if !found {
		return
	}
	delete(b.subscribers, id)
	if !s.pattern {
		delete(b.byTopic[s.topic], id)
		if len(b.byTopic[s.topic]) == 0 {
			delete(b.byTopic, s.topic)
		}
	}
	close(s.ch)
}

// Dropped returns the dropped-event count for a subscription.
func (b *Bus) Dropped(h Handle) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, found := b.subscribers[h.id]; found {
		return s.dropped.Load()
	}
	return 0
}

// Close removes all subscribers and waits for their handlers to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id := range b.subscribers {
		b.remove(id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// matchPattern supports trailing-wildcard patterns on the "." hierarchy:
// "condition.*" matches every condition topic.
func matchPattern(pattern, topic string) bool {
	if !strings.HasSuffix(pattern, ".*") {
		return pattern == topic
	}
	prefix := strings.TrimSuffix(pattern, "*")
	return strings.HasPrefix(topic, prefix)
}
