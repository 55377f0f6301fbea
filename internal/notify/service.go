package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
	"eventhub-realtime/internal/store"
)

// OnlineChecker reports live presence.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// SupportRequest is pushed to the admin room when a support session opens.
type SupportRequest struct {
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name"`
	AdminID        string `json:"admin_id"`
	ConversationID string `json:"conversation_id"`
}

// Service persists notifications and pushes them to online users.
type Service struct {
	store       store.NotificationStore
	presence    OnlineChecker
	broadcaster domain.Broadcaster
	logger      zerolog.Logger
}

func NewService(s store.NotificationStore, presence OnlineChecker, broadcaster domain.Broadcaster, logger zerolog.Logger) *Service {
	return &Service{
		store:       s,
		presence:    presence,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "notify").Logger(),
	}
}

// Notify stores a notification for userID and pushes it when the user is
// online. Failures are logged and never returned; the result is nil when
// nothing was stored.
func (s *Service) Notify(ctx context.Context, userID string, data domain.NotificationData) *domain.Notification {
	if !data.Type.Valid() {
		metrics.NotificationFailures.Inc()
		s.logger.Warn().Str("user_id", userID).Str("type", string(data.Type)).Msg("Unknown notification type, dropped")
		return nil
	}

	n := &domain.Notification{
		UserID:           userID,
		Type:             data.Type,
		Title:            data.Title,
		Message:          data.Message,
		RelatedEventID:   data.RelatedEventID,
		RelatedBookingID: data.RelatedBookingID,
		ActionURL:        data.ActionURL,
	}

	if err := s.store.CreateNotification(ctx, n); err != nil {
		metrics.NotificationFailures.Inc()
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Str("type", string(data.Type)).
			Msg("Failed to store notification")
		return nil
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()

	online, err := s.presence.IsOnline(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Presence lookup failed, notification left for polling")
		return n
	}
	if online {
		s.broadcaster.EmitToGroup(domain.UserGroup(userID), domain.EventNewNotification, n)
		metrics.NotificationsPushed.Inc()
	}
	return n
}

// HandleEvent turns a domain event into a notification. It is subscribed to
// the event bus for every type it understands.
func (s *Service) HandleEvent(ctx context.Context, event domain.DomainEvent) error {
	if event.UserID == "" {
		return fmt.Errorf("%w: event %s has no addressed user", domain.ErrInvalidInput, event.Type)
	}

	data, ok := notificationFor(event)
	if !ok {
		return fmt.Errorf("%w: unsupported event type %q", domain.ErrInvalidInput, event.Type)
	}

	if event.Type == domain.EventSupportRequested {
		s.broadcaster.EmitToGroup(domain.AdminGroup, domain.EventSupportRequest, SupportRequest{
			UserID:         event.ActorID,
			UserName:       event.ActorName,
			AdminID:        event.UserID,
			ConversationID: event.ConversationID,
		})
	}

	s.Notify(ctx, event.UserID, data)
	return nil
}

// HandledEvents lists the event types HandleEvent accepts.
func HandledEvents() []domain.EventType {
	return []domain.EventType{
		domain.EventMessageSent,
		domain.EventSupportRequested,
		domain.EventBookingConfirmed,
		domain.EventBookingReminder,
		domain.EventEventUpdated,
		domain.EventEventCancelled,
		domain.EventAdminMessage,
	}
}

func notificationFor(e domain.DomainEvent) (domain.NotificationData, bool) {
	data := domain.NotificationData{
		RelatedEventID:   e.RelatedEventID,
		RelatedBookingID: e.RelatedBookingID,
	}

	switch e.Type {
	case domain.EventMessageSent:
		data.Type = domain.NotificationNewMessage
		data.Title = "New Message"
		data.Message = fmt.Sprintf("You have a new message from %s", orDefault(e.ActorName, "someone"))
		data.ActionURL = "/messages"
	case domain.EventSupportRequested:
		data.Type = domain.NotificationAdminMessage
		data.Title = "New Support Request"
		data.Message = fmt.Sprintf("%s started a support chat", orDefault(e.ActorName, "A user"))
		data.ActionURL = "/messages"
	case domain.EventBookingConfirmed:
		data.Type = domain.NotificationBookingConfirmation
		data.Title = "Booking Confirmed"
		data.Message = fmt.Sprintf("Your booking for %q has been confirmed!", e.EventName)
		data.ActionURL = "/dashboard"
	case domain.EventBookingReminder:
		data.Type = domain.NotificationBookingReminder
		data.Title = "Event Reminder"
		data.Message = fmt.Sprintf("Your event %q is tomorrow!", e.EventName)
		data.ActionURL = eventURL(e.RelatedEventID)
	case domain.EventEventUpdated:
		data.Type = domain.NotificationEventUpdate
		data.Title = "Event Update"
		data.Message = fmt.Sprintf("%q has been updated: %s", e.EventName, e.Message)
		data.ActionURL = eventURL(e.RelatedEventID)
	case domain.EventEventCancelled:
		data.Type = domain.NotificationEventCancelled
		data.Title = "Event Cancelled"
		data.Message = fmt.Sprintf("Unfortunately, %q has been cancelled.", e.EventName)
		data.ActionURL = "/dashboard"
	case domain.EventAdminMessage:
		data.Type = domain.NotificationAdminMessage
		data.Title = orDefault(e.Title, "Message from EventHub")
		data.Message = e.Message
		data.ActionURL = e.ActionURL
		return data, true
	default:
		return data, false
	}

	// Producers may override the generated copy.
	if e.Title != "" {
		data.Title = e.Title
	}
	if e.ActionURL != "" {
		data.ActionURL = e.ActionURL
	}
	return data, true
}

func eventURL(eventID string) string {
	if eventID == "" {
		return "/dashboard"
	}
	return "/event/" + eventID
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// List returns one page of the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, page, limit int, unreadOnly bool) (*domain.NotificationPage, error) {
	page, limit = store.NormalizePage(page, limit, 20)
	items, total, err := s.store.ListNotifications(ctx, userID, page, limit, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return &domain.NotificationPage{
		Notifications:      items,
		CurrentPage:        page,
		TotalPages:         domain.TotalPages(total, limit),
		TotalNotifications: total,
	}, nil
}

func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: notificationIds is required", domain.ErrInvalidInput)
	}
	n, err := s.store.MarkNotificationsRead(ctx, ids, userID)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return n, nil
}

func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteNotification(ctx, id, userID); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.CountUnreadNotifications(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
