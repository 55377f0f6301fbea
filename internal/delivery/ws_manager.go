package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/messaging"
	"eventhub-realtime/internal/metrics"
	"eventhub-realtime/internal/notify"
	"eventhub-realtime/internal/presence"
	"eventhub-realtime/internal/relay"
)

const (
	reasonInvalidToken     = "Invalid token"
	reasonNotAuthenticated = "Not authenticated"
	reasonNotAuthorized    = "Not authorized"
	reasonBadPayload       = "Invalid payload"
)

// TokenAuthenticator resolves a bearer token to a user.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// wsConn is what HandleConnection needs from a websocket connection.
type wsConn interface {
	jsonConn
	ReadMessage() (messageType int, p []byte, err error)
}

type WSManager struct {
	auth      TokenAuthenticator
	hub       *Hub
	broadcast domain.Broadcaster
	presence  *presence.Service
	messaging *messaging.Service
	notify    *notify.Service
	typing    *relay.Typing
	logger    zerolog.Logger
}

func NewWSManager(
	auth TokenAuthenticator,
	hub *Hub,
	broadcast domain.Broadcaster,
	presence *presence.Service,
	messaging *messaging.Service,
	notify *notify.Service,
	typing *relay.Typing,
	logger zerolog.Logger,
) *WSManager {
	return &WSManager{
		auth:      auth,
		hub:       hub,
		broadcast: broadcast,
		presence:  presence,
		messaging: messaging,
		notify:    notify,
		typing:    typing,
		logger:    logger.With().Str("component", "ws_manager").Logger(),
	}
}

// HandleConnection owns a connection until the peer goes away. Events from one
// connection are handled in order on this goroutine.
func (w *WSManager) HandleConnection(c wsConn) {
	defer c.Close()

	ctx := context.Background()
	conn := &WSConnection{Conn: c, Handle: uuid.NewString()}

	w.hub.Register(conn)
	defer func() {
		w.hub.Unregister(conn.Handle)
		if user := conn.User(); user != nil {
			w.release(ctx, user, conn.Handle)
		}
		w.logger.Info().Str("handle", conn.Handle).Str("user_id", conn.userID()).Msg("WebSocket client disconnected")
	}()

	w.logger.Info().Str("handle", conn.Handle).Msg("WebSocket client connected")

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			w.logger.Debug().Err(err).Str("handle", conn.Handle).Msg("WebSocket read ended")
			return
		}

		var msg domain.WebSocketMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.sendErrorResponse(conn, "Invalid message format")
			continue
		}

		w.handleIncomingMessage(ctx, conn, &msg)
	}
}

func (w *WSManager) handleIncomingMessage(ctx context.Context, conn *WSConnection, msg *domain.WebSocketMessage) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Str("type", msg.Type).Msg("Recovered from panic while handling message")
			w.sendErrorResponse(conn, "Internal server error")
		}
	}()

	switch msg.Type {
	case domain.ActionAuthenticate:
		w.handleAuthenticate(ctx, conn, msg.Data)
		return
	case domain.ActionPing:
		w.reply(conn, domain.EventPong, map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	user := conn.User()
	if user == nil {
		w.sendErrorResponse(conn, reasonNotAuthenticated)
		return
	}

	switch msg.Type {
	case domain.ActionSendMessage:
		w.handleSendMessage(ctx, conn, user, msg.Data)
	case domain.ActionGetMessages:
		w.handleGetMessages(ctx, conn, user, msg.Data)
	case domain.ActionGetConversations:
		w.handleGetConversations(ctx, conn, user)
	case domain.ActionTypingStart, domain.ActionTypingStop:
		var req domain.TypingRequest
		if err := decode(msg.Data, &req); err != nil {
			w.sendErrorResponse(conn, reasonBadPayload)
			return
		}
		w.typing.Relay(ctx, user.ID, req.ReceiverID, msg.Type == domain.ActionTypingStart)
	case domain.ActionNewEvent:
		w.handleEventBroadcast(conn, user, domain.EventListingCreated, msg.Data)
	case domain.ActionUpdateEvent:
		w.handleEventBroadcast(conn, user, domain.EventListingUpdated, msg.Data)
	default:
		w.logger.Debug().Str("type", msg.Type).Str("user_id", user.ID).Msg("Unknown message type")
		w.sendErrorResponse(conn, "Unknown message type: "+msg.Type)
	}
}

func (w *WSManager) handleAuthenticate(ctx context.Context, conn *WSConnection, data json.RawMessage) {
	user, err := w.auth.Authenticate(ctx, tokenFrom(data))
	if err != nil {
		metrics.AuthFailures.Inc()
		if !errors.Is(err, domain.ErrAuthentication) {
			w.logger.Error().Err(err).Str("handle", conn.Handle).Msg("Authentication lookup failed")
		}
		conn.safeWriteJSON(domain.WebSocketResponse{
			Type:    domain.EventAuthError,
			Success: false,
			Data:    reasonInvalidToken,
			Error:   reasonInvalidToken,
		})
		return
	}

	if previous := conn.bind(user); previous != nil {
		w.hub.LeaveAll(conn.Handle)
		if previous.ID != user.ID {
			w.release(ctx, previous, conn.Handle)
		}
	}

	w.hub.Join(conn.Handle, domain.UserGroup(user.ID))
	if user.IsAdmin() {
		w.hub.Join(conn.Handle, domain.AdminGroup)
	}

	if err := w.presence.Connect(ctx, user.ID, conn.Handle); err != nil {
		w.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to record presence")
	}

	w.logger.Info().
		Str("handle", conn.Handle).
		Str("user_id", user.ID).
		Str("role", string(user.Role)).
		Msg("WebSocket client authenticated")

	if n, err := w.messaging.UnreadCount(ctx, user); err == nil {
		w.reply(conn, domain.EventUnreadMessages, domain.CountPayload{Count: n})
	} else {
		w.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to count unread messages")
	}
	if n, err := w.notify.UnreadCount(ctx, user.ID); err == nil {
		w.reply(conn, domain.EventUnreadNotifications, domain.CountPayload{Count: n})
	} else {
		w.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to count unread notifications")
	}
}

func (w *WSManager) handleSendMessage(ctx context.Context, conn *WSConnection, user *domain.User, data json.RawMessage) {
	var req domain.SendMessageRequest
	if err := decode(data, &req); err != nil {
		w.sendErrorResponse(conn, reasonBadPayload)
		return
	}

	msg, err := w.messaging.Send(ctx, user, req)
	if err != nil {
		w.logFailure(err, user, "send-message")
		// The client rolls back its optimistic copy on success=false.
		conn.safeWriteJSON(domain.WebSocketResponse{
			Type:    domain.EventMessageSentAck,
			Success: false,
			Error:   clientMessage(err),
		})
		return
	}
	w.reply(conn, domain.EventMessageSentAck, msg)
}

func (w *WSManager) handleGetMessages(ctx context.Context, conn *WSConnection, user *domain.User, data json.RawMessage) {
	var req domain.GetMessagesRequest
	if err := decode(data, &req); err != nil {
		w.sendErrorResponse(conn, reasonBadPayload)
		return
	}

	page, err := w.messaging.Conversation(ctx, user, req.OtherUserID, req.Page, req.Limit)
	if err != nil {
		w.logFailure(err, user, "get-messages")
		w.sendErrorResponse(conn, clientMessage(err))
		return
	}
	w.reply(conn, domain.EventMessagesLoaded, page)
}

func (w *WSManager) handleGetConversations(ctx context.Context, conn *WSConnection, user *domain.User) {
	if !user.IsAdmin() {
		w.sendErrorResponse(conn, reasonNotAuthorized)
		return
	}

	conversations, err := w.messaging.Conversations(ctx, user)
	if err != nil {
		w.logFailure(err, user, "get-conversations")
		w.sendErrorResponse(conn, clientMessage(err))
		return
	}
	w.reply(conn, domain.EventConversationsLoaded, conversations)
}

// handleEventBroadcast relays an admin's event listing change to every
// connected client. The payload is passed through untouched.
func (w *WSManager) handleEventBroadcast(conn *WSConnection, user *domain.User, event string, data json.RawMessage) {
	if !user.IsAdmin() {
		w.sendErrorResponse(conn, reasonNotAuthorized)
		return
	}
	if len(data) == 0 || !json.Valid(data) {
		w.sendErrorResponse(conn, reasonBadPayload)
		return
	}

	w.broadcast.EmitToAll(event, data)
	w.logger.Info().Str("user_id", user.ID).Str("event", event).Msg("Event listing change broadcast")
}

func (w *WSManager) release(ctx context.Context, user *domain.User, handle string) {
	if _, err := w.presence.Disconnect(ctx, user.ID, handle); err != nil {
		w.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to release presence")
	}
}

func (w *WSManager) reply(conn *WSConnection, event string, data interface{}) {
	response := domain.WebSocketResponse{Type: event, Success: true, Data: data}
	if err := conn.safeWriteJSON(response); err != nil {
		w.logger.Debug().Err(err).Str("handle", conn.Handle).Str("event", event).Msg("Failed to write reply")
	}
}

func (w *WSManager) sendErrorResponse(conn *WSConnection, errorMsg string) {
	response := domain.WebSocketResponse{
		Type:    domain.EventError,
		Success: false,
		Data:    errorMsg,
		Error:   errorMsg,
	}
	if err := conn.safeWriteJSON(response); err != nil {
		w.logger.Debug().Err(err).Str("handle", conn.Handle).Msg("Failed to send error response")
	}
}

func (w *WSManager) logFailure(err error, user *domain.User, action string) {
	event := w.logger.Warn()
	if statusFor(err) >= 500 {
		event = w.logger.Error()
	}
	event.Err(err).Str("user_id", user.ID).Str("action", action).Msg("WebSocket action failed")
}

// tokenFrom accepts either a bare JSON string or {"token": "..."}; a
// "Bearer " prefix is tolerated.
func tokenFrom(data json.RawMessage) string {
	var token string
	if err := json.Unmarshal(data, &token); err != nil {
		var wrapped struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return ""
		}
		token = wrapped.Token
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, v)
}
