package bus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	broadcastSubject    = "impulse.broadcast"
	directedSubjectStem = "impulse.directed"
)

// NATSBus is the Bus used when several API nodes share one viewer
// population. Events published on any node reach subscribers on all nodes.
type NATSBus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSBus wraps an established NATS connection.
func NewNATSBus(conn *nats.Conn, logger *zap.Logger) (*NATSBus, error) {
	if conn == nil {
		return nil, fmt.Errorf("bus: nats connection required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{conn: conn, logger: logger}, nil
}

// Broadcast publishes the event on the shared broadcast subject.
func (b *NATSBus) Broadcast(event Event) {
	b.publish(broadcastSubject, event)
}

// Direct publishes the event on the identity's subject.
func (b *NATSBus) Direct(identity string, event Event) {
	if identity == "" {
		return
	}
	b.publish(directedSubject(identity), event)
}

// SubscribeBroadcast mirrors Dispatcher.SubscribeBroadcast over NATS.
func (b *NATSBus) SubscribeBroadcast(ctx context.Context) (<-chan Event, func()) {
	return b.subscribe(ctx, broadcastSubject)
}

// SubscribeDirected mirrors Dispatcher.SubscribeDirected over NATS.
func (b *NATSBus) SubscribeDirected(ctx context.Context, identity string) (<-chan Event, func()) {
	if identity == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return b.subscribe(ctx, directedSubject(identity))
}

func (b *NATSBus) publish(subject string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("bus event marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("bus publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (b *NATSBus) subscribe(ctx context.Context, subject string) (<-chan Event, func()) {
	stream := make(chan Event, defaultBufferSize)
	subscription, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("bus event decode failed", zap.String("subject", subject), zap.Error(err))
			return
		}
		select {
		case stream <- event:
		default:
		}
	})
	if err != nil {
		b.logger.Error("bus subscribe failed", zap.String("subject", subject), zap.Error(err))
		close(stream)
		return stream, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := subscription.Unsubscribe(); err != nil {
				b.logger.Warn("bus unsubscribe failed", zap.String("subject", subject), zap.Error(err))
			}
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return stream, cancel
}

// directedSubject encodes the identity because identities are opaque and may
// contain NATS subject delimiters.
func directedSubject(identity string) string {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(identity))
	return fmt.Sprintf("%s.%s", directedSubjectStem, encoded)
}
