package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"eventhub-realtime/internal/domain"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// MessageStore is the durable record of direct and support messages.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *domain.Message) error
	// ListByConversation returns one page in chronological order together with
	// the total number of messages in the conversation. Page 1 holds the newest
	// messages.
	ListByConversation(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int, error)
	MarkConversationRead(ctx context.Context, conversationID, recipientID string) (int64, error)
	MarkMessagesRead(ctx context.Context, ids []string, recipientID string) (int64, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	// LatestSupportMessage returns the newest message under the conversation id
	// prefix that userID sent or received, and that counterpartID also took part
	// in when it is not empty. Nil when there is none.
	LatestSupportMessage(ctx context.Context, prefix, userID, counterpartID string) (*domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	RemoveMessage(ctx context.Context, id, requesterID string) error
	CountUnreadMessages(ctx context.Context, userID string) (int64, error)
}

// NotificationStore keeps per-user notifications for offline retrieval.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	ListNotifications(ctx context.Context, userID string, page, limit int, unreadOnly bool) ([]domain.Notification, int, error)
	MarkNotificationsRead(ctx context.Context, ids []string, userID string) (int64, error)
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id, userID string) error
	CountUnreadNotifications(ctx context.Context, userID string) (int64, error)
}

// UserDirectory reads users owned by the CRUD layer. GetUser returns nil, nil
// when the user does not exist.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListAdmins(ctx context.Context) ([]domain.User, error)
	UpsertUser(ctx context.Context, user domain.User) error
}

// DataStore is implemented by MemoryStore, SQLiteStore and PostgresStore.
type DataStore interface {
	MessageStore
	NotificationStore
	UserDirectory

	Ping(ctx context.Context) error
	Close()
}

// NormalizePage clamps page and limit to sane values.
func NormalizePage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}

func prepareMessage(msg *domain.Message) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
}

func prepareNotification(n *domain.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

// groupConversations folds messages (newest first) into one summary per other
// participant. unread maps sender id to unread count for userID.
func groupConversations(userID string, newestFirst []domain.Message, unread map[string]int64) []domain.ConversationSummary {
	seen := make(map[string]int)
	var out []domain.ConversationSummary
	for _, msg := range newestFirst {
		other := msg.OtherParty(userID)
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = len(out)
		out = append(out, domain.ConversationSummary{
			OtherUserID: other,
			LastMessage: msg,
			UnreadCount: unread[other],
		})
	}
	sortSummaries(out)
	return out
}

func sortSummaries(out []domain.ConversationSummary) {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessage, out[j].LastMessage
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func reverseMessages(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func hasPrefix(s, prefix string) bool {
	return prefix != "" && strings.HasPrefix(s, prefix)
}

func involves(m *domain.Message, userID string) bool {
	return userID != "" && (m.SenderID == userID || m.ReceiverID == userID)
}
