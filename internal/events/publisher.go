package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Publisher is a buffered async Kafka producer. A nil Publisher is
// valid and drops everything; events are advisory, never part of the
// reservation's correctness.
type Publisher struct {
	w       *kafka.Writer
	service string
	inbox   chan kafka.Message
	closeCh chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewPublisher(brokers []string, service string, buf int) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		service: service,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Publisher) Start(ctx context.Context) {
	if p == nil {
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				// Stop accepting, then flush whatever made it into the
				// buffer. The inbox is never closed: HTTP handlers may
				// still call Emit while the server drains, and a send
				// on a closed channel would take the process down.
				p.mu.Lock()
				p.closed = true
				p.mu.Unlock()
				for {
					select {
					case m := <-p.inbox:
						_ = p.w.WriteMessages(context.Background(), m)
					default:
						_ = p.w.Close()
						close(p.closeCh)
						return
					}
				}
			case m := <-p.inbox:
				if err := p.w.WriteMessages(context.Background(), m); err != nil {
					log.Printf("events: publish failed: %v", err)
				}
			}
		}
	}()
}

// Emit enqueues a lifecycle event keyed by pin id so per-pin ordering
// is preserved. Safe to call at any point in the process lifetime:
// after shutdown begins the event is dropped with a log line.
func (p *Publisher) Emit(eventType string, payload ReservationPayload) {
	if p == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("events: encode %s: %v", eventType, err)
		return
	}
	value, err := json.Marshal(Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.service,
		CorrelationID: payload.PinID,
		Payload:       raw,
	})
	if err != nil {
		log.Printf("events: encode envelope %s: %v", eventType, err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Printf("events: publisher closed, dropping %s for pin %s", eventType, payload.PinID)
		return
	}
	select {
	case p.inbox <- kafka.Message{
		Key:   []byte(payload.PinID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-version", Value: []byte("1")},
		},
	}:
	default:
		log.Printf("events: inbox full, dropping %s for pin %s", eventType, payload.PinID)
	}
}

// WaitClosed blocks until the producer loop has flushed and exited.
func (p *Publisher) WaitClosed() {
	if p == nil {
		return
	}
	<-p.closeCh
}
