package domain

import "time"

type EventType string

const (
	EventMessageSent      EventType = "message.sent"
	EventSupportRequested EventType = "support.requested"
	EventBookingConfirmed EventType = "booking.confirmed"
	EventBookingReminder  EventType = "booking.reminder"
	EventEventUpdated     EventType = "event.updated"
	EventEventCancelled   EventType = "event.cancelled"
	EventAdminMessage     EventType = "admin.message"
)

// DomainEvent travels over the in-process bus and over Kafka. UserID is the
// addressed user.
type DomainEvent struct {
	Type             EventType `json:"type"`
	UserID           string    `json:"user_id"`
	ActorID          string    `json:"actor_id,omitempty"`
	ActorName        string    `json:"actor_name,omitempty"`
	EventName        string    `json:"event_name,omitempty"`
	Title            string    `json:"title,omitempty"`
	Message          string    `json:"message,omitempty"`
	RelatedEventID   string    `json:"related_event_id,omitempty"`
	RelatedBookingID string    `json:"related_booking_id,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	MessageID        string    `json:"message_id,omitempty"`
	ActionURL        string    `json:"action_url,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}
