package relay

import (
	"context"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

// HandleLookup finds the current connection of a user.
type HandleLookup interface {
	HandleFor(ctx context.Context, userID string) (string, bool, error)
}

// Typing forwards typing indicators between connected peers. Signals are
// best effort and never stored.
type Typing struct {
	presence    HandleLookup
	broadcaster domain.Broadcaster
	logger      zerolog.Logger
}

func NewTyping(presence HandleLookup, broadcaster domain.Broadcaster, logger zerolog.Logger) *Typing {
	return &Typing{
		presence:    presence,
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "typing_relay").Logger(),
	}
}

// Relay reports whether the signal was forwarded.
func (t *Typing) Relay(ctx context.Context, fromUserID, toUserID string, starting bool) bool {
	if toUserID == "" || toUserID == fromUserID {
		metrics.TypingSignals.WithLabelValues("dropped").Inc()
		return false
	}

	handle, ok, err := t.presence.HandleFor(ctx, toUserID)
	if err != nil {
		t.logger.Debug().Err(err).Str("to", toUserID).Msg("Presence lookup failed, dropping typing signal")
	}
	if err != nil || !ok {
		metrics.TypingSignals.WithLabelValues("dropped").Inc()
		return false
	}

	event := domain.EventUserStoppedTyping
	if starting {
		event = domain.EventUserTyping
	}
	t.broadcaster.EmitToHandle(handle, event, domain.UserPayload{UserID: fromUserID})
	metrics.TypingSignals.WithLabelValues("relayed").Inc()
	return true
}
