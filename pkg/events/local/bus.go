package local

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/dhcprelay/pkg/events"
	"github.com/veesix-networks/dhcprelay/pkg/logger"
)

const subscriberQueueDepth = 4096

type subscription struct {
	id      uint64
	handler events.Handler
	queue   chan events.Event
	done    chan struct{}
}

type sub struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *sub) Unsubscribe() {
	s.bus.removeSub(s.topic, s.id)
}

type Bus struct {
	ctx       context.Context
	cancel    context.CancelFunc
	subs      map[string]map[uint64]*subscription
	mu        sync.RWMutex
	nextID    atomic.Uint64
	logger    *slog.Logger
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	return &Bus{
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[uint64]*subscription),
		logger: logger.Get(logger.Events),
	}
}

func (b *Bus) Publish(topic string, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.published.Add(1)
	for _, s := range b.subs[topic] {
		select {
		case s.queue <- event:
		default:
			b.dropped.Add(1)
			b.logger.Warn("Subscriber queue full, dropping event", "topic", topic, "subscriber", s.id)
		}
	}
}

func (b *Bus) deliverLoop(s *subscription) {
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.queue:
			s.handler(ev)
		}
	}
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)
	s := &subscription{
		id:      id,
		handler: handler,
		queue:   make(chan events.Event, subscriberQueueDepth),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscription)
	}
	b.subs[topic][id] = s
	handlerCount := len(b.subs[topic])
	b.mu.Unlock()

	go b.deliverLoop(s)

	b.logger.Debug("Subscribed to topic", "topic", topic, "handler_count", handlerCount)

	return &sub{bus: b, topic: topic, id: id}
}

func (b *Bus) removeSub(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topicSubs, ok := b.subs[topic]
	if !ok {
		return
	}
	if s, ok := topicSubs[id]; ok {
		close(s.done)
		delete(topicSubs, id)
	}
	if len(topicSubs) == 0 {
		delete(b.subs, topic)
	}
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]events.TopicStats, 0, len(b.subs))
	for topic, subs := range b.subs {
		topics = append(topics, events.TopicStats{
			Topic:       topic,
			Subscribers: len(subs),
		})
	}

	return events.Stats{
		Topics:    topics,
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *Bus) Close() error {
	b.cancel()
	return nil
}
