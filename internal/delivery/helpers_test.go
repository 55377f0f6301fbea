package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/auth"
	"eventhub-realtime/internal/config"
	"eventhub-realtime/internal/conversation"
	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/events"
	"eventhub-realtime/internal/messaging"
	"eventhub-realtime/internal/notify"
	"eventhub-realtime/internal/presence"
	"eventhub-realtime/internal/relay"
	"eventhub-realtime/internal/store"
)

const testSecret = "delivery-test-secret"

// fakeConn records every response written to it and replays queued frames to
// the read loop.
type fakeConn struct {
	mu     sync.Mutex
	writes []domain.WebSocketResponse
	closed bool
	broken bool
	inbox  chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan []byte, 16)}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("broken pipe")
	}
	resp, ok := v.(domain.WebSocketResponse)
	if !ok {
		return errors.New("unexpected frame type")
	}
	f.writes = append(f.writes, resp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-f.inbox
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, raw, nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) responses() []domain.WebSocketResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.WebSocketResponse, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	f.writes = nil
	f.mu.Unlock()
}

// last returns the most recent response of the given type.
func (f *fakeConn) last(t *testing.T, typ string) domain.WebSocketResponse {
	t.Helper()
	all := f.responses()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Type == typ {
			return all[i]
		}
	}
	t.Fatalf("no %q response among %+v", typ, all)
	return domain.WebSocketResponse{}
}

func (f *fakeConn) count(typ string) int {
	n := 0
	for _, r := range f.responses() {
		if r.Type == typ {
			n++
		}
	}
	return n
}

type testEnv struct {
	ctx       context.Context
	store     *store.MemoryStore
	hub       *Hub
	presence  *presence.Service
	auth      *auth.Authenticator
	messaging *messaging.Service
	notify    *notify.Service
	manager   *WSManager
	server    *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	s := store.NewMemoryStore()
	for _, u := range []domain.User{
		{ID: "alice", Name: "Alice", Email: "alice@example.com", Role: domain.RoleUser},
		{ID: "bob", Name: "Bob", Email: "bob@example.com", Role: domain.RoleUser},
		{ID: "admin1", Name: "Ada", Email: "ada@example.com", Role: domain.RoleAdmin},
	} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	hub := NewHub(logger)
	presenceSvc := presence.NewService(presence.NewMemoryTracker(), hub, presence.ScopeGlobal, nil, logger)
	router := conversation.NewRouter(s, s, presenceSvc, 24*time.Hour, logger)
	bus := events.NewBus(logger)
	notifySvc := notify.NewService(s, presenceSvc, hub, logger)
	for _, et := range notify.HandledEvents() {
		bus.Subscribe(et, notifySvc.HandleEvent)
	}
	messagingSvc := messaging.NewService(s, s, router, presenceSvc, hub, bus, logger)
	authenticator := auth.NewAuthenticator(testSecret, s)
	manager := NewWSManager(authenticator, hub, hub, presenceSvc, messagingSvc, notifySvc, relay.NewTyping(presenceSvc, hub, logger), logger)

	cfg := &config.Config{Port: "0", Environment: "test"}
	return &testEnv{
		ctx:       ctx,
		store:     s,
		hub:       hub,
		presence:  presenceSvc,
		auth:      authenticator,
		messaging: messagingSvc,
		notify:    notifySvc,
		manager:   manager,
		server:    NewServer(cfg, authenticator, hub, manager, messagingSvc, notifySvc, logger),
	}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	u, err := e.store.GetUser(e.ctx, userID)
	if err != nil || u == nil {
		t.Fatalf("user %s: %v", userID, err)
	}
	token, err := e.auth.Issue(u.ID, u.Role, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (e *testEnv) user(t *testing.T, userID string) *domain.User {
	t.Helper()
	u, err := e.store.GetUser(e.ctx, userID)
	if err != nil || u == nil {
		t.Fatalf("user %s: %v", userID, err)
	}
	return u
}

// connect registers a fake connection without running its read loop.
func (e *testEnv) connect(handle string) (*WSConnection, *fakeConn) {
	fc := newFakeConn()
	conn := &WSConnection{Conn: fc, Handle: handle}
	e.hub.Register(conn)
	return conn, fc
}

// dispatch feeds one client frame straight into the handler.
func (e *testEnv) dispatch(t *testing.T, conn *WSConnection, typ string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	e.manager.handleIncomingMessage(e.ctx, conn, &domain.WebSocketMessage{Type: typ, Data: raw})
}

func (e *testEnv) login(t *testing.T, handle, userID string) (*WSConnection, *fakeConn) {
	t.Helper()
	conn, fc := e.connect(handle)
	e.dispatch(t, conn, domain.ActionAuthenticate, map[string]string{"token": e.token(t, userID)})
	if conn.User() == nil || conn.User().ID != userID {
		t.Fatalf("authenticate %s failed: %+v", userID, fc.responses())
	}
	return conn, fc
}
