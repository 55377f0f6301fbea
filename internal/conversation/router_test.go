package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/store"
)

type fakePresence map[string]bool

func (f fakePresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	return f[userID], nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRouter(t *testing.T, presence OnlineChecker, users ...domain.User) (*Router, *store.MemoryStore, *clock) {
	t.Helper()
	s := store.NewMemoryStore()
	for _, u := range users {
		if err := s.UpsertUser(context.Background(), u); err != nil {
			t.Fatal(err)
		}
	}
	c := &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRouter(s, s, presence, 24*time.Hour, zerolog.Nop())
	r.now = c.Now
	return r, s, c
}

var (
	alice  = domain.User{ID: "alice", Name: "Alice", Role: domain.RoleUser}
	bob    = domain.User{ID: "bob", Name: "Bob", Role: domain.RoleUser}
	admin1 = domain.User{ID: "admin1", Name: "Ada", Role: domain.RoleAdmin}
	admin2 = domain.User{ID: "admin2", Name: "Max", Role: domain.RoleAdmin}
)

func TestComputeConversationIDIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"a", "b"},
		{"65f1c2", "65a0ff"},
		{"same", "same"},
		{"", "x"},
		{"01HZX", "01HZW"},
	}
	for _, p := range pairs {
		ab := ComputeConversationID(p[0], p[1])
		ba := ComputeConversationID(p[1], p[0])
		if ab != ba {
			t.Errorf("ComputeConversationID(%q, %q) = %q but reversed = %q", p[0], p[1], ab, ba)
		}
	}
	if got := ComputeConversationID("b", "a"); got != "a-b" {
		t.Errorf("got %q, want a-b", got)
	}
}

func TestParseSupportID(t *testing.T) {
	started := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	id := SupportID("alice", "admin1", started)
	if id != "support-alice-admin1-1717232400000" {
		t.Fatalf("SupportID = %q", id)
	}

	adminID, ts, ok := ParseSupportID(id, "alice")
	if !ok || adminID != "admin1" || !ts.Equal(started) {
		t.Fatalf("ParseSupportID = %q, %v, %v", adminID, ts, ok)
	}

	for _, bad := range []string{"alice-bob", "support-bob-admin1-1", "support-alice-admin1-x", "support-alice-"} {
		if _, _, ok := ParseSupportID(bad, "alice"); ok {
			t.Errorf("ParseSupportID(%q) should fail", bad)
		}
	}
	if !IsSupportID(id) || IsSupportID("alice-bob") {
		t.Error("IsSupportID misclassified")
	}
}

func TestSupportSessionReuseWindow(t *testing.T) {
	r, s, c := newTestRouter(t, fakePresence{}, alice, admin1)
	ctx := context.Background()

	first, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if first.Resumed || first.AdminID != "admin1" {
		t.Fatalf("first session = %+v", first)
	}
	msgs, total, _ := s.ListByConversation(ctx, first.ConversationID, 1, 50)
	if total != 1 || msgs[0].SenderID != "admin1" || msgs[0].ReceiverID != "alice" {
		t.Fatalf("expected one greeting from the admin, got %+v", msgs)
	}

	c.Advance(23 * time.Hour)
	again, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if again.ConversationID != first.ConversationID || !again.Resumed {
		t.Fatalf("T+23h session = %+v, want reuse of %s", again, first.ConversationID)
	}
	if !again.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("resumed StartedAt = %v, want %v", again.StartedAt, first.StartedAt)
	}

	c.Advance(2 * time.Hour)
	fresh, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ConversationID == first.ConversationID || fresh.Resumed {
		t.Fatalf("T+25h session = %+v, want a new id", fresh)
	}
}

func TestSupportSessionActivityExtendsWindow(t *testing.T) {
	r, s, c := newTestRouter(t, fakePresence{}, alice, admin1)
	ctx := context.Background()

	first, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}

	c.Advance(20 * time.Hour)
	reply := domain.Message{SenderID: "alice", ReceiverID: "admin1", Content: "still there?", ConversationID: first.ConversationID, CreatedAt: c.Now()}
	if err := s.AppendMessage(ctx, &reply); err != nil {
		t.Fatal(err)
	}

	c.Advance(10 * time.Hour)
	again, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if again.ConversationID != first.ConversationID {
		t.Fatalf("session ended despite recent activity: %s vs %s", again.ConversationID, first.ConversationID)
	}
}

func TestSupportSessionNoAdmins(t *testing.T) {
	r, s, _ := newTestRouter(t, fakePresence{}, alice, bob)

	_, err := r.StartOrResumeSupportSession(context.Background(), &alice)
	if !errors.Is(err, domain.ErrNoAgentsAvailable) {
		t.Fatalf("err = %v, want ErrNoAgentsAvailable", err)
	}
	if latest, _ := s.LatestSupportMessage(context.Background(), SupportPrefix("alice"), "alice", ""); latest != nil {
		t.Fatalf("orphaned session message stored: %+v", latest)
	}
}

func TestSupportSessionPrefersOnlineAdmin(t *testing.T) {
	r, _, _ := newTestRouter(t, fakePresence{"admin2": true}, alice, admin1, admin2)

	session, err := r.StartOrResumeSupportSession(context.Background(), &alice)
	if err != nil {
		t.Fatal(err)
	}
	if session.AdminID != "admin2" {
		t.Fatalf("assigned %s, want the online admin2", session.AdminID)
	}

	r2, _, _ := newTestRouter(t, fakePresence{}, bob, admin2, admin1)
	session, err = r2.StartOrResumeSupportSession(context.Background(), &bob)
	if err != nil {
		t.Fatal(err)
	}
	if session.AdminID != "admin1" {
		t.Fatalf("assigned %s, want smallest id when nobody is online", session.AdminID)
	}
}

func TestSupportSessionDemotedAdminStartsNewSession(t *testing.T) {
	r, s, c := newTestRouter(t, fakePresence{}, alice, admin1, admin2)
	ctx := context.Background()

	first, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}
	demoted := admin1
	demoted.Role = domain.RoleUser
	if err := s.UpsertUser(ctx, demoted); err != nil {
		t.Fatal(err)
	}

	c.Advance(time.Hour)
	next, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}
	if next.ConversationID == first.ConversationID || next.AdminID != "admin2" {
		t.Fatalf("session after demotion = %+v", next)
	}
}

func TestConcurrentSupportStartsShareOneSession(t *testing.T) {
	r, s, _ := newTestRouter(t, fakePresence{}, alice, admin1)
	ctx := context.Background()

	const callers = 16
	results := make([]*domain.SupportSession, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = r.StartOrResumeSupportSession(ctx, &alice)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].ConversationID != results[0].ConversationID || results[i].AdminID != "admin1" {
			t.Fatalf("caller %d got %+v, caller 0 got %+v", i, results[i], results[0])
		}
	}
	if _, total, _ := s.ListByConversation(ctx, results[0].ConversationID, 1, 50); total != 1 {
		t.Fatalf("greeting stored %d times, want once", total)
	}
}

func TestConcurrentSupportStartsForDifferentUsers(t *testing.T) {
	r, _, c := newTestRouter(t, fakePresence{}, alice, bob, admin1)
	ctx := context.Background()

	users := []*domain.User{&alice, &bob}
	first := make([]*domain.SupportSession, len(users))
	errs := make([]error, len(users))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, u := range users {
		wg.Add(1)
		go func(i int, u *domain.User) {
			defer wg.Done()
			<-start
			first[i], errs[i] = r.StartOrResumeSupportSession(ctx, u)
		}(i, u)
	}
	close(start)
	wg.Wait()

	for i, u := range users {
		if errs[i] != nil {
			t.Fatalf("%s: %v", u.ID, errs[i])
		}
		if first[i].AdminID != "admin1" || first[i].Resumed {
			t.Fatalf("%s got %+v, want a new session with admin1", u.ID, first[i])
		}
	}
	if first[0].ConversationID == first[1].ConversationID {
		t.Fatalf("alice and bob share %s", first[0].ConversationID)
	}

	c.Advance(time.Hour)
	for i, u := range users {
		again, err := r.StartOrResumeSupportSession(ctx, u)
		if err != nil {
			t.Fatal(err)
		}
		if again.ConversationID != first[i].ConversationID || !again.Resumed || again.AdminID != "admin1" {
			t.Fatalf("%s repeat = %+v, want %s resumed", u.ID, again, first[i].ConversationID)
		}
	}
}

func TestSupportSessionIgnoresUsersWithLongerIDs(t *testing.T) {
	user1 := domain.User{ID: "user-1", Name: "Alice", Role: domain.RoleUser}
	user1b := domain.User{ID: "user-1-b", Name: "Bea", Role: domain.RoleUser}
	r, _, c := newTestRouter(t, fakePresence{}, user1, user1b, admin1)
	ctx := context.Background()

	first, err := r.StartOrResumeSupportSession(ctx, &user1)
	if err != nil {
		t.Fatal(err)
	}

	c.Advance(time.Minute)
	other, err := r.StartOrResumeSupportSession(ctx, &user1b)
	if err != nil {
		t.Fatal(err)
	}
	if other.ConversationID == first.ConversationID {
		t.Fatalf("user-1-b joined user-1's session %s", first.ConversationID)
	}

	c.Advance(time.Minute)
	again, err := r.StartOrResumeSupportSession(ctx, &user1)
	if err != nil {
		t.Fatal(err)
	}
	if again.ConversationID != first.ConversationID || !again.Resumed {
		t.Fatalf("first=%s again=%s resumed=%v: two-minute-old session not reused",
			first.ConversationID, again.ConversationID, again.Resumed)
	}

	route, err := r.Resolve(ctx, &user1, &admin1)
	if err != nil {
		t.Fatal(err)
	}
	if !route.Support || route.ConversationID != first.ConversationID {
		t.Fatalf("route = %+v, want %s", route, first.ConversationID)
	}
}

func TestResolve(t *testing.T) {
	r, _, c := newTestRouter(t, fakePresence{}, alice, bob, admin1, admin2)
	ctx := context.Background()

	route, err := r.Resolve(ctx, &alice, &bob)
	if err != nil || route.Support || route.ConversationID != "alice-bob" {
		t.Fatalf("user to user = %+v, %v", route, err)
	}

	route, err = r.Resolve(ctx, &alice, &admin1)
	if err != nil || route.Support || route.ConversationID != "admin1-alice" {
		t.Fatalf("no session yet = %+v, %v", route, err)
	}

	session, err := r.StartOrResumeSupportSession(ctx, &alice)
	if err != nil {
		t.Fatal(err)
	}

	for _, pair := range [][2]*domain.User{{&alice, &admin1}, {&admin1, &alice}} {
		route, err = r.Resolve(ctx, pair[0], pair[1])
		if err != nil || !route.Support || route.ConversationID != session.ConversationID {
			t.Fatalf("%s -> %s = %+v, %v", pair[0].ID, pair[1].ID, route, err)
		}
	}

	// A different admin is not part of the session.
	route, _ = r.Resolve(ctx, &admin2, &alice)
	if route.Support {
		t.Fatalf("admin2 routed into admin1's session: %+v", route)
	}

	route, _ = r.Resolve(ctx, &admin1, &admin2)
	if route.Support || route.ConversationID != "admin1-admin2" {
		t.Fatalf("admin to admin = %+v", route)
	}

	c.Advance(25 * time.Hour)
	route, _ = r.Resolve(ctx, &alice, &admin1)
	if route.Support {
		t.Fatalf("expired session still routed: %+v", route)
	}
}
