package conversation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
	"eventhub-realtime/internal/store"
)

const (
	supportPrefix = "support-"
	separator     = "-"

	DefaultSupportWindow = 24 * time.Hour
)

// OnlineChecker reports live presence. Satisfied by presence.Tracker.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// Route is the classification of a single send.
type Route struct {
	ConversationID string
	Support        bool
}

// Router derives conversation ids and owns support session lifecycle.
type Router struct {
	messages store.MessageStore
	users    store.UserDirectory
	presence OnlineChecker
	window   time.Duration
	logger   zerolog.Logger

	now      func() time.Time
	sessions singleflight.Group
}

func NewRouter(messages store.MessageStore, users store.UserDirectory, presence OnlineChecker, window time.Duration, logger zerolog.Logger) *Router {
	if window <= 0 {
		window = DefaultSupportWindow
	}
	return &Router{
		messages: messages,
		users:    users,
		presence: presence,
		window:   window,
		logger:   logger.With().Str("component", "conversation_router").Logger(),
		now:      time.Now,
	}
}

// ComputeConversationID returns the direct conversation id of a and b. The
// result does not depend on argument order.
func ComputeConversationID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + separator + b
}

// SupportPrefix is shared by every support conversation of userID.
func SupportPrefix(userID string) string {
	return supportPrefix + userID + separator
}

// SupportID mints the id of a support session started at startedAt.
func SupportID(userID, adminID string, startedAt time.Time) string {
	return SupportPrefix(userID) + adminID + separator + strconv.FormatInt(startedAt.UnixMilli(), 10)
}

// IsSupportID reports whether id names a support conversation.
func IsSupportID(id string) bool {
	return strings.HasPrefix(id, supportPrefix)
}

// ParseSupportID splits a support id minted for userID into the admin id and
// the session start time.
func ParseSupportID(id, userID string) (adminID string, startedAt time.Time, ok bool) {
	rest := strings.TrimPrefix(id, SupportPrefix(userID))
	if rest == id || rest == "" {
		return "", time.Time{}, false
	}
	i := strings.LastIndex(rest, separator)
	if i <= 0 {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return rest[:i], time.UnixMilli(millis).UTC(), true
}

// Resolve classifies a send from sender to receiver. A message between a
// user and an admin goes to their support conversation while that session is
// fresh; everything else is a direct conversation.
func (r *Router) Resolve(ctx context.Context, sender, receiver *domain.User) (Route, error) {
	direct := Route{ConversationID: ComputeConversationID(sender.ID, receiver.ID)}
	if sender.IsAdmin() == receiver.IsAdmin() {
		return direct, nil
	}

	user, admin := sender, receiver
	if sender.IsAdmin() {
		user, admin = receiver, sender
	}

	latest, err := r.messages.LatestSupportMessage(ctx, SupportPrefix(user.ID)+admin.ID+separator, user.ID, admin.ID)
	if err != nil {
		return Route{}, fmt.Errorf("lookup support session: %w", err)
	}
	if !r.fresh(latest) {
		return direct, nil
	}
	return Route{ConversationID: latest.ConversationID, Support: true}, nil
}

// StartOrResumeSupportSession returns the user's current support session,
// minting a new one (with an opening message from the assigned admin) when
// the last one went quiet longer than the window ago. Concurrent calls for the
// same user share one result.
func (r *Router) StartOrResumeSupportSession(ctx context.Context, user *domain.User) (*domain.SupportSession, error) {
	v, err, _ := r.sessions.Do(user.ID, func() (interface{}, error) {
		return r.startOrResume(ctx, user)
	})
	if err != nil {
		return nil, err
	}
	// Callers may mutate the session; hand each its own copy.
	session := *v.(*domain.SupportSession)
	return &session, nil
}

func (r *Router) startOrResume(ctx context.Context, user *domain.User) (*domain.SupportSession, error) {
	admins, err := r.users.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	if len(admins) == 0 {
		metrics.SupportSessions.WithLabelValues("no_agents").Inc()
		return nil, domain.ErrNoAgentsAvailable
	}

	// Scoped to the user so sessions of ids that extend user.ID never match.
	latest, err := r.messages.LatestSupportMessage(ctx, SupportPrefix(user.ID), user.ID, "")
	if err != nil {
		return nil, fmt.Errorf("lookup support session: %w", err)
	}
	if r.fresh(latest) {
		adminID := latest.OtherParty(user.ID)
		if admin := findAdmin(admins, adminID); admin != nil {
			startedAt := latest.CreatedAt
			if _, ts, ok := ParseSupportID(latest.ConversationID, user.ID); ok {
				startedAt = ts
			}
			metrics.SupportSessions.WithLabelValues("resumed").Inc()
			return &domain.SupportSession{
				ConversationID: latest.ConversationID,
				Admin:          admin.Summary(),
				AdminID:        admin.ID,
				StartedAt:      startedAt,
				Resumed:        true,
			}, nil
		}
		r.logger.Info().
			Str("user_id", user.ID).
			Str("admin_id", adminID).
			Msg("Previous support agent is no longer an admin, starting a new session")
	}

	admin := r.pickAdmin(ctx, admins)
	now := r.now().UTC()
	session := &domain.SupportSession{
		ConversationID: SupportID(user.ID, admin.ID, now),
		Admin:          admin.Summary(),
		AdminID:        admin.ID,
		StartedAt:      now,
	}

	greeting := &domain.Message{
		SenderID:       admin.ID,
		ReceiverID:     user.ID,
		Content:        fmt.Sprintf("Hi %s, thanks for reaching out to support. How can we help you today?", displayName(user)),
		ConversationID: session.ConversationID,
		CreatedAt:      now,
	}
	if err := r.messages.AppendMessage(ctx, greeting); err != nil {
		return nil, fmt.Errorf("%w: open support session: %v", domain.ErrPersistence, err)
	}

	metrics.SupportSessions.WithLabelValues("started").Inc()
	r.logger.Info().
		Str("user_id", user.ID).
		Str("admin_id", admin.ID).
		Str("conversation_id", session.ConversationID).
		Msg("Support session started")
	return session, nil
}

// pickAdmin prefers an online admin; ties and the all-offline case go to the
// smallest id so assignment is deterministic.
func (r *Router) pickAdmin(ctx context.Context, admins []domain.User) *domain.User {
	sorted := make([]domain.User, len(admins))
	copy(sorted, admins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if r.presence != nil {
		for i := range sorted {
			online, err := r.presence.IsOnline(ctx, sorted[i].ID)
			if err != nil {
				r.logger.Warn().Err(err).Str("admin_id", sorted[i].ID).Msg("Presence lookup failed")
				continue
			}
			if online {
				return &sorted[i]
			}
		}
	}
	return &sorted[0]
}

func (r *Router) fresh(msg *domain.Message) bool {
	return msg != nil && r.now().Sub(msg.CreatedAt) < r.window
}

func findAdmin(admins []domain.User, id string) *domain.User {
	for i := range admins {
		if admins[i].ID == id {
			return &admins[i]
		}
	}
	return nil
}

func displayName(u *domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return "there"
}
