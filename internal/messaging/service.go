package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/conversation"
	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
	"eventhub-realtime/internal/store"
)

const MaxContentLength = 5000

// Publisher puts domain events on the bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.DomainEvent)
}

// HandleLookup finds the current connection of a user.
type HandleLookup interface {
	HandleFor(ctx context.Context, userID string) (string, bool, error)
}

type Service struct {
	messages    store.MessageStore
	users       store.UserDirectory
	router      *conversation.Router
	presence    HandleLookup
	broadcaster domain.Broadcaster
	publisher   Publisher
	logger      zerolog.Logger
}

func NewService(
	messages store.MessageStore,
	users store.UserDirectory,
	router *conversation.Router,
	presence HandleLookup,
	broadcaster domain.Broadcaster,
	publisher Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		messages:    messages,
		users:       users,
		router:      router,
		presence:    presence,
		broadcaster: broadcaster,
		publisher:   publisher,
		logger:      logger.With().Str("component", "messaging").Logger(),
	}
}

// Send persists a message and pushes it to the receiver when online. Only the
// persist step can fail the call.
func (s *Service) Send(ctx context.Context, sender *domain.User, req domain.SendMessageRequest) (*domain.Message, error) {
	content := strings.TrimSpace(req.Content)
	switch {
	case content == "":
		return nil, fmt.Errorf("%w: content is required", domain.ErrInvalidInput)
	case utf8.RuneCountInString(content) > MaxContentLength:
		return nil, fmt.Errorf("%w: content exceeds %d characters", domain.ErrInvalidInput, MaxContentLength)
	case req.ReceiverID == "":
		return nil, fmt.Errorf("%w: receiver_id is required", domain.ErrInvalidInput)
	case req.ReceiverID == sender.ID:
		return nil, fmt.Errorf("%w: cannot message yourself", domain.ErrInvalidInput)
	}

	receiver, err := s.lookupUser(ctx, req.ReceiverID, "receiver")
	if err != nil {
		return nil, err
	}

	route, err := s.router.Resolve(ctx, sender, receiver)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		Content:        content,
		ConversationID: route.ConversationID,
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		s.logger.Error().
			Err(err).
			Str("sender_id", sender.ID).
			Str("conversation_id", route.ConversationID).
			Msg("Failed to store message")
		return nil, fmt.Errorf("%w: message: %v", domain.ErrPersistence, err)
	}
	msg.Sender = sender.Summary()
	msg.Receiver = receiver.Summary()

	kind := "direct"
	if route.Support {
		kind = "support"
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	s.deliver(ctx, msg)

	s.publisher.Publish(ctx, domain.DomainEvent{
		Type:           domain.EventMessageSent,
		UserID:         receiver.ID,
		ActorID:        sender.ID,
		ActorName:      sender.Name,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		OccurredAt:     msg.CreatedAt,
	})

	return msg, nil
}

func (s *Service) deliver(ctx context.Context, msg *domain.Message) {
	handle, online, err := s.presence.HandleFor(ctx, msg.ReceiverID)
	if err != nil {
		s.logger.Warn().Err(err).Str("receiver_id", msg.ReceiverID).Msg("Presence lookup failed, message left for polling")
		return
	}
	if !online {
		return
	}
	s.broadcaster.EmitToHandle(handle, domain.EventNewMessage, msg)
	metrics.MessagesDelivered.Inc()
}

// Conversation returns one page of the conversation between user and
// otherUserID and marks everything addressed to user as read.
func (s *Service) Conversation(ctx context.Context, user *domain.User, otherUserID string, page, limit int) (*domain.MessagePage, error) {
	if otherUserID == "" {
		return nil, fmt.Errorf("%w: other_user_id is required", domain.ErrInvalidInput)
	}
	other, err := s.lookupUser(ctx, otherUserID, "user")
	if err != nil {
		return nil, err
	}

	route, err := s.router.Resolve(ctx, user, other)
	if err != nil {
		return nil, err
	}

	page, limit = store.NormalizePage(page, limit, store.DefaultPageSize)
	msgs, total, err := s.messages.ListByConversation(ctx, route.ConversationID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	marked, err := s.messages.MarkConversationRead(ctx, route.ConversationID, user.ID)
	if err != nil {
		// Reading still works; the unread badge catches up next time.
		s.logger.Warn().Err(err).Str("conversation_id", route.ConversationID).Msg("Failed to mark conversation read")
	}

	profiles := map[string]*domain.UserSummary{user.ID: user.Summary(), other.ID: other.Summary()}
	for i := range msgs {
		if marked > 0 && msgs[i].ReceiverID == user.ID {
			msgs[i].Read = true
		}
		msgs[i].Sender = profiles[msgs[i].SenderID]
		msgs[i].Receiver = profiles[msgs[i].ReceiverID]
	}

	return &domain.MessagePage{
		Messages:      msgs,
		CurrentPage:   page,
		TotalPages:    domain.TotalPages(total, limit),
		TotalMessages: total,
	}, nil
}

// Conversations lists the user's inbox, most recent first.
func (s *Service) Conversations(ctx context.Context, user *domain.User) ([]domain.ConversationSummary, error) {
	summaries, err := s.messages.ListConversationsForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	for i := range summaries {
		other, err := s.users.GetUser(ctx, summaries[i].OtherUserID)
		if err != nil {
			return nil, fmt.Errorf("lookup user %s: %w", summaries[i].OtherUserID, err)
		}
		if other == nil {
			// Deleted account: keep the thread, show the bare id.
			other = &domain.User{ID: summaries[i].OtherUserID}
		}
		summaries[i].User = other.Summary()
	}
	if summaries == nil {
		summaries = []domain.ConversationSummary{}
	}
	return summaries, nil
}

func (s *Service) MarkRead(ctx context.Context, user *domain.User, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: messageIds is required", domain.ErrInvalidInput)
	}
	n, err := s.messages.MarkMessagesRead(ctx, ids, user.ID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return n, nil
}

// Delete removes a message. Only its sender may do so.
func (s *Service) Delete(ctx context.Context, user *domain.User, messageID string) error {
	if err := s.messages.RemoveMessage(ctx, messageID, user.ID); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			s.logger.Warn().Str("user_id", user.ID).Str("message_id", messageID).Msg("Rejected delete of another user's message")
		}
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, user *domain.User) (int64, error) {
	n, err := s.messages.CountUnreadMessages(ctx, user.ID)
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

// StartSupport opens or resumes the user's support session. Admins are
// notified only when a new session is minted.
func (s *Service) StartSupport(ctx context.Context, user *domain.User) (*domain.SupportSession, error) {
	if user.IsAdmin() {
		return nil, fmt.Errorf("%w: administrators cannot open support sessions", domain.ErrInvalidInput)
	}

	session, err := s.router.StartOrResumeSupportSession(ctx, user)
	if err != nil {
		return nil, err
	}

	if !session.Resumed {
		s.publisher.Publish(ctx, domain.DomainEvent{
			Type:           domain.EventSupportRequested,
			UserID:         session.AdminID,
			ActorID:        user.ID,
			ActorName:      user.Name,
			ConversationID: session.ConversationID,
			OccurredAt:     session.StartedAt,
		})
	}
	return session, nil
}

func (s *Service) lookupUser(ctx context.Context, id, role string) (*domain.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", role, id, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, role, id)
	}
	return u, nil
}
