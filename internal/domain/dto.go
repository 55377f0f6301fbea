package domain

import (
	"encoding/json"
)

// Client to server events.
const (
	ActionAuthenticate     = "authenticate"
	ActionSendMessage      = "send-message"
	ActionGetMessages      = "get-messages"
	ActionGetConversations = "get-conversations"
	ActionTypingStart      = "typing-start"
	ActionTypingStop       = "typing-stop"
	ActionPing             = "ping"
	ActionNewEvent         = "new-event"
	ActionUpdateEvent      = "update-event"
)

// Server to client events.
const (
	EventNewMessage          = "new-message"
	EventMessageSentAck      = "message-sent"
	EventMessagesLoaded      = "messages-loaded"
	EventConversationsLoaded = "conversations-loaded"
	EventNewNotification     = "new-notification"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventUnreadMessages      = "unread-messages"
	EventUnreadNotifications = "unread-notifications"
	EventAuthError           = "auth-error"
	EventUserTyping          = "user-typing"
	EventUserStoppedTyping   = "user-stopped-typing"
	EventSupportRequest      = "support-request"
	EventError               = "error"
	EventPong                = "pong"
	EventListingCreated      = "event-created"
	EventListingUpdated      = "event-updated"
)

type WebSocketMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type WebSocketResponse struct {
	Type    string      `json:"type"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error,omitempty"`
}

type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

type GetMessagesRequest struct {
	OtherUserID string `json:"other_user_id"`
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
}

type TypingRequest struct {
	ReceiverID string `json:"receiver_id"`
}

type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type MarkNotificationsReadRequest struct {
	NotificationIDs []string `json:"notification_ids"`
}

type CountPayload struct {
	Count int64 `json:"count"`
}

type UserPayload struct {
	UserID string `json:"user_id"`
}
