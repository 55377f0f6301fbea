package presence

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

const (
	ScopeGlobal   = "global"
	ScopeContacts = "contacts"
)

// ContactsFunc lists the users that share a conversation with userID.
type ContactsFunc func(ctx context.Context, userID string) ([]string, error)

// Service wraps a Tracker and announces online/offline transitions.
type Service struct {
	tracker     Tracker
	broadcaster domain.Broadcaster
	scope       string
	contacts    ContactsFunc
	logger      zerolog.Logger
}

func NewService(tracker Tracker, broadcaster domain.Broadcaster, scope string, contacts ContactsFunc, logger zerolog.Logger) *Service {
	if scope != ScopeContacts || contacts == nil {
		scope = ScopeGlobal
	}
	return &Service{
		tracker:     tracker,
		broadcaster: broadcaster,
		scope:       scope,
		contacts:    contacts,
		logger:      logger.With().Str("component", "presence").Logger(),
	}
}

// Connect records handle as the user's current connection. A user that was
// already online (another tab, a reconnect) is rebound without a broadcast.
func (s *Service) Connect(ctx context.Context, userID, handle string) error {
	previous, err := s.tracker.SetOnline(ctx, userID, handle)
	if err != nil {
		return fmt.Errorf("set online %s: %w", userID, err)
	}
	if previous != "" {
		s.logger.Debug().
			Str("user_id", userID).
			Str("previous_handle", previous).
			Str("handle", handle).
			Msg("Presence rebound to newer connection")
		return nil
	}

	metrics.PresenceTransitions.WithLabelValues("online").Inc()
	s.announce(ctx, userID, domain.EventUserOnline)
	return nil
}

// Disconnect clears presence if handle is still the user's current
// connection. It reports whether the user went offline.
func (s *Service) Disconnect(ctx context.Context, userID, handle string) (bool, error) {
	released, err := s.tracker.Release(ctx, userID, handle)
	if err != nil {
		return false, fmt.Errorf("release %s: %w", userID, err)
	}
	if !released {
		return false, nil
	}

	metrics.PresenceTransitions.WithLabelValues("offline").Inc()
	s.announce(ctx, userID, domain.EventUserOffline)
	return true, nil
}

// SetOffline drops the user regardless of which connection is bound.
func (s *Service) SetOffline(ctx context.Context, userID string) error {
	online, err := s.tracker.IsOnline(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.tracker.SetOffline(ctx, userID); err != nil {
		return err
	}
	if online {
		metrics.PresenceTransitions.WithLabelValues("offline").Inc()
		s.announce(ctx, userID, domain.EventUserOffline)
	}
	return nil
}

func (s *Service) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.tracker.IsOnline(ctx, userID)
}

func (s *Service) HandleFor(ctx context.Context, userID string) (string, bool, error) {
	return s.tracker.HandleFor(ctx, userID)
}

func (s *Service) announce(ctx context.Context, userID, event string) {
	payload := domain.UserPayload{UserID: userID}

	if s.scope == ScopeGlobal {
		s.broadcaster.EmitToAll(event, payload)
		return
	}

	contacts, err := s.contacts(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to load contacts for presence broadcast")
		return
	}
	for _, contact := range contacts {
		s.broadcaster.EmitToGroup(domain.UserGroup(contact), event, payload)
	}
}
