package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 16

type subscriber struct {
	id     int64
	stream chan Event
}

// Dispatcher is the in-process Bus used by single-node deployments. Sends
// are non-blocking: a subscriber whose buffer is full misses the event,
// which at-least-once delivery and the read-time list call tolerate.
type Dispatcher struct {
	mu         sync.RWMutex
	broadcast  map[int64]*subscriber
	directed   map[string]map[int64]*subscriber
	nextID     int64
	bufferSize int
}

// NewDispatcher returns an empty in-process bus.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		broadcast:  make(map[int64]*subscriber),
		directed:   make(map[string]map[int64]*subscriber),
		bufferSize: defaultBufferSize,
	}
}

// Broadcast delivers the event to every broadcast subscriber.
func (d *Dispatcher) Broadcast(event Event) {
	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.broadcast))
	for _, sub := range d.broadcast {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()
	deliver(targets, event)
}

// Direct delivers the event to subscribers registered for the identity.
func (d *Dispatcher) Direct(identity string, event Event) {
	if identity == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.directed[identity]
	targets := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		targets = append(targets, sub)
	}
	d.mu.RUnlock()
	deliver(targets, event)
}

// SubscribeBroadcast registers a viewer for impulse create/delete events.
func (d *Dispatcher) SubscribeBroadcast(ctx context.Context) (<-chan Event, func()) {
	sub := d.newSubscriber()
	d.mu.Lock()
	d.broadcast[sub.id] = sub
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		delete(d.broadcast, sub.id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.stream, cancel
}

// SubscribeDirected registers an identity for its request-status events.
func (d *Dispatcher) SubscribeDirected(ctx context.Context, identity string) (<-chan Event, func()) {
	if identity == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := d.newSubscriber()
	d.mu.Lock()
	if _, ok := d.directed[identity]; !ok {
		d.directed[identity] = make(map[int64]*subscriber)
	}
	d.directed[identity][sub.id] = sub
	d.mu.Unlock()

	cancel := func() {
		d.mu.Lock()
		subscribers := d.directed[identity]
		if subscribers != nil {
			delete(subscribers, sub.id)
			if len(subscribers) == 0 {
				delete(d.directed, identity)
			}
		}
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return sub.stream, cancel
}

func (d *Dispatcher) newSubscriber() *subscriber {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.mu.Unlock()
	return &subscriber{id: id, stream: make(chan Event, d.bufferSize)}
}

func deliver(targets []*subscriber, event Event) {
	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}
