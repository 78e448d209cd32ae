package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/MikeMC777/checkout/internal/order"
)

// Producer writes envelopes to a Kafka topic through a buffered inbox so
// HTTP handlers never block on the broker.
type Producer struct {
	w       *kafka.Writer
	mu      sync.RWMutex
	closed  bool
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start begins draining the inbox. The producer keeps accepting publishes
// until Close is called, so it must outlive the HTTP request drain.
func (p *Producer) Start() {
	go func() {
		for m := range p.inbox {
			p.write(m)
		}
		_ = p.w.Close()
		close(p.closeCh)
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		log.Error().Err(err).Str("topic", p.w.Topic).Msg("[events] publish failed")
	}
}

// Close stops accepting publishes, drains queued messages and stops the
// writer goroutine. Publishes after Close are dropped, never a panic.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.inbox)
}

// WaitClosed blocks until the writer goroutine has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }

func (p *Producer) publish(eventType, correlationID string, payload any) {
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producerName,
		CorrelationID: correlationID,
		Payload:       mustMarshal(payload),
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Warn().Str("event", eventType).Msg("[events] producer closed, dropping")
		return
	}
	select {
	case p.inbox <- kafka.Message{Key: []byte(correlationID), Value: mustMarshal(env), Time: env.OccurredAt}:
	default:
		log.Warn().Str("event", eventType).Msg("[events] inbox full, dropping")
	}
}

func (p *Producer) OrderPlaced(o *order.Order, lines []order.Line) {
	payload := OrderPlacedPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
		Total:   o.Total,
	}
	for _, l := range lines {
		payload.Lines = append(payload.Lines, LinePayload{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
	}
	p.publish(EventOrderPlaced, o.ID, payload)
}

func (p *Producer) OrderStatusChanged(orderID, userID, status string) {
	p.publish(EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID: orderID,
		UserID:  userID,
		Status:  status,
	})
}

// Nop satisfies order.EventPublisher when no brokers are configured.
type Nop struct{}

func (Nop) OrderPlaced(*order.Order, []order.Line)    {}
func (Nop) OrderStatusChanged(string, string, string) {}
