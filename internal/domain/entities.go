package domain

import (
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is owned by the CRUD layer; this service only reads it.
type User struct {
	ID    string `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
	Role  Role   `json:"role" db:"role"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Summary returns the public profile shown next to messages.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Name: u.Name, Email: u.Email}
}

type UserSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Message struct {
	ID             string       `json:"id" db:"id"`
	SenderID       string       `json:"sender_id" db:"sender_id"`
	ReceiverID     string       `json:"receiver_id" db:"receiver_id"`
	Content        string       `json:"content" db:"content"`
	ConversationID string       `json:"conversation_id" db:"conversation_id"`
	Read           bool         `json:"read" db:"is_read"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	Sender         *UserSummary `json:"sender,omitempty" db:"-"`
	Receiver       *UserSummary `json:"receiver,omitempty" db:"-"`
}

// OtherParty returns the participant that is not userID.
func (m *Message) OtherParty(userID string) string {
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

type NotificationType string

const (
	NotificationBookingConfirmation NotificationType = "booking_confirmation"
	NotificationBookingReminder     NotificationType = "booking_reminder"
	NotificationEventUpdate         NotificationType = "event_update"
	NotificationEventCancelled      NotificationType = "event_cancelled"
	NotificationNewMessage          NotificationType = "new_message"
	NotificationAdminMessage        NotificationType = "admin_message"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationBookingConfirmation, NotificationBookingReminder, NotificationEventUpdate,
		NotificationEventCancelled, NotificationNewMessage, NotificationAdminMessage:
		return true
	}
	return false
}

type Notification struct {
	ID               string           `json:"id" db:"id"`
	UserID           string           `json:"user_id" db:"user_id"`
	Type             NotificationType `json:"type" db:"type"`
	Title            string           `json:"title" db:"title"`
	Message          string           `json:"message" db:"message"`
	RelatedEventID   string           `json:"related_event_id,omitempty" db:"related_event_id"`
	RelatedBookingID string           `json:"related_booking_id,omitempty" db:"related_booking_id"`
	Read             bool             `json:"read" db:"is_read"`
	ActionURL        string           `json:"action_url,omitempty" db:"action_url"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
}

// NotificationData is what a producer supplies; the fan-out fills in the rest.
type NotificationData struct {
	Type             NotificationType
	Title            string
	Message          string
	RelatedEventID   string
	RelatedBookingID string
	ActionURL        string
}

// ConversationSummary is one row of a user's inbox.
type ConversationSummary struct {
	OtherUserID string       `json:"-"`
	User        *UserSummary `json:"user"`
	LastMessage Message      `json:"last_message"`
	UnreadCount int64        `json:"unread_count"`
}

type MessagePage struct {
	Messages      []Message `json:"messages"`
	CurrentPage   int       `json:"current_page"`
	TotalPages    int       `json:"total_pages"`
	TotalMessages int       `json:"total_messages"`
}

type NotificationPage struct {
	Notifications      []Notification `json:"notifications"`
	CurrentPage        int            `json:"current_page"`
	TotalPages         int            `json:"total_pages"`
	TotalNotifications int            `json:"total_notifications"`
}

type SupportSession struct {
	ConversationID string       `json:"conversation_id"`
	Admin          *UserSummary `json:"admin"`
	AdminID        string       `json:"-"`
	StartedAt      time.Time    `json:"started_at"`
	Resumed        bool         `json:"resumed"`
}

// TotalPages rounds total/limit up.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
