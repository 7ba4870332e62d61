package notify

import (
	"context"
	"log"
	"time"

	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/rabbitmq"
)

const previewLimit = 120

// Envelope is the wire format consumed by the notification service.
type Envelope struct {
	SchemaVersion int     `json:"schema_version"`
	EventType     string  `json:"event_type"`
	OccurredAt    string  `json:"occurred_at"`
	Service       string  `json:"service"`
	Environment   string  `json:"environment"`
	ReceiverID    int     `json:"receiver_id"`
	Payload       Payload `json:"payload"`
}

type Payload struct {
	MessageID      int    `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       int    `json:"sender_id"`
	Type           string `json:"type"`
	Preview        string `json:"preview"`
}

// Dispatcher hands messages that missed realtime delivery to the external
// notification service, so the receiver still learns of them.
type Dispatcher struct {
	publisher   rabbitmq.Publisher
	routingKey  string
	service     string
	environment string
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(publisher rabbitmq.Publisher, routingKey, service, environment string) *Dispatcher {
	return &Dispatcher{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// MessageQueued dispatches a notification for a message whose receiver had no
// joined connection. Failures are logged, never escalated: the message is
// durable and surfaces on the receiver's next backlog fetch.
func (d *Dispatcher) MessageQueued(ctx context.Context, msg models.Message) {
	if d == nil || d.publisher == nil {
		return
	}

	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     "message_notification",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       d.service,
		Environment:   d.environment,
		ReceiverID:    msg.ReceiverID,
		Payload: Payload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Type:           msg.Type,
			Preview:        preview(msg.Content),
		},
	}

	if err := d.publisher.Publish(ctx, d.routingKey, envelope); err != nil {
		log.Printf("notification publish failed message=%d: %v", msg.ID, err)
		return
	}
	observability.IncNotification()
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLimit {
		return content
	}
	return string(runes[:previewLimit])
}
