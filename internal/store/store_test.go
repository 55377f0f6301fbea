package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eventhub-realtime/internal/domain"
)

type storeFactory func(t *testing.T) DataStore

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) DataStore {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) DataStore {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(s.Close)
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	runStoreContract(t, func(t *testing.T) DataStore {
		ctx := context.Background()
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			t.Fatalf("connect postgres: %v", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			t.Fatalf("schema: %v", err)
		}
		if _, err := s.pool.Exec(ctx, `TRUNCATE messages, notifications, users`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(s.Close)
		return s
	})
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("pagination is chronological within a page", func(t *testing.T) {
		testPagination(t, newStore(t))
	})
	t.Run("read tracking", func(t *testing.T) {
		testReadTracking(t, newStore(t))
	})
	t.Run("conversation summaries", func(t *testing.T) {
		testConversations(t, newStore(t))
	})
	t.Run("latest support message", func(t *testing.T) {
		testLatestSupportMessage(t, newStore(t))
	})
	t.Run("remove message", func(t *testing.T) {
		testRemoveMessage(t, newStore(t))
	})
	t.Run("notifications", func(t *testing.T) {
		testNotifications(t, newStore(t))
	})
	t.Run("users", func(t *testing.T) {
		testUsers(t, newStore(t))
	})
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func appendAt(t *testing.T, s DataStore, from, to, conv string, at time.Time) domain.Message {
	t.Helper()
	msg := domain.Message{
		SenderID:       from,
		ReceiverID:     to,
		Content:        fmt.Sprintf("%s->%s at %s", from, to, at.Format(time.Kitchen)),
		ConversationID: conv,
		CreatedAt:      at,
	}
	if err := s.AppendMessage(context.Background(), &msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("append did not assign an id")
	}
	return msg
}

func testPagination(t *testing.T, s DataStore) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, appendAt(t, s, "a", "b", "a-b", base.Add(time.Duration(i)*time.Minute)).ID)
	}
	appendAt(t, s, "a", "c", "a-c", base)

	page1, total, err := s.ListByConversation(ctx, "a-b", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(page1) != 2 || page1[0].ID != ids[3] || page1[1].ID != ids[4] {
		t.Fatalf("page 1 = %v, want newest two in chronological order", messageIDs(page1))
	}

	page3, _, err := s.ListByConversation(ctx, "a-b", 3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 1 || page3[0].ID != ids[0] {
		t.Fatalf("page 3 = %v, want oldest message", messageIDs(page3))
	}

	empty, total, err := s.ListByConversation(ctx, "a-b", 9, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 || total != 5 {
		t.Fatalf("page past the end = %d messages, total %d", len(empty), total)
	}

	none, total, err := s.ListByConversation(ctx, "nobody", 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if none == nil || len(none) != 0 || total != 0 {
		t.Fatalf("unknown conversation = %v (nil=%v), total %d", none, none == nil, total)
	}
}

func testReadTracking(t *testing.T, s DataStore) {
	ctx := context.Background()
	m1 := appendAt(t, s, "a", "b", "a-b", base)
	appendAt(t, s, "a", "b", "a-b", base.Add(time.Second))
	appendAt(t, s, "b", "a", "a-b", base.Add(2*time.Second))

	n, err := s.CountUnreadMessages(ctx, "b")
	if err != nil || n != 2 {
		t.Fatalf("unread for b = %d, %v; want 2", n, err)
	}

	// Only the addressee can mark a message read.
	changed, err := s.MarkMessagesRead(ctx, []string{m1.ID}, "a")
	if err != nil || changed != 0 {
		t.Fatalf("mark by sender changed %d, %v", changed, err)
	}
	changed, err = s.MarkMessagesRead(ctx, []string{m1.ID}, "b")
	if err != nil || changed != 1 {
		t.Fatalf("mark by receiver changed %d, %v", changed, err)
	}

	changed, err = s.MarkConversationRead(ctx, "a-b", "b")
	if err != nil || changed != 1 {
		t.Fatalf("mark conversation changed %d, %v; want 1", changed, err)
	}
	if n, _ := s.CountUnreadMessages(ctx, "b"); n != 0 {
		t.Fatalf("unread for b after read = %d", n)
	}
	if n, _ := s.CountUnreadMessages(ctx, "a"); n != 1 {
		t.Fatalf("unread for a = %d, want 1", n)
	}

	got, err := s.GetMessage(ctx, m1.ID)
	if err != nil || got == nil || !got.Read {
		t.Fatalf("GetMessage = %+v, %v", got, err)
	}
	missing, err := s.GetMessage(ctx, "missing")
	if err != nil || missing != nil {
		t.Fatalf("GetMessage(missing) = %+v, %v", missing, err)
	}

	if n, err := s.MarkMessagesRead(ctx, nil, "b"); err != nil || n != 0 {
		t.Fatalf("empty id list = %d, %v", n, err)
	}
}

func testConversations(t *testing.T, s DataStore) {
	ctx := context.Background()
	appendAt(t, s, "b", "a", "a-b", base)
	appendAt(t, s, "b", "a", "a-b", base.Add(time.Minute))
	latestC := appendAt(t, s, "a", "c", "a-c", base.Add(2*time.Minute))
	appendAt(t, s, "d", "c", "c-d", base.Add(3*time.Minute))

	sums, err := s.ListConversationsForUser(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 2 {
		t.Fatalf("got %d summaries, want 2", len(sums))
	}
	if sums[0].OtherUserID != "c" || sums[0].LastMessage.ID != latestC.ID || sums[0].UnreadCount != 0 {
		t.Fatalf("first summary = %+v", sums[0])
	}
	if sums[1].OtherUserID != "b" || sums[1].UnreadCount != 2 {
		t.Fatalf("second summary = %+v", sums[1])
	}

	none, err := s.ListConversationsForUser(ctx, "stranger")
	if err != nil || len(none) != 0 {
		t.Fatalf("stranger summaries = %v, %v", none, err)
	}
}

func testLatestSupportMessage(t *testing.T, s DataStore) {
	ctx := context.Background()
	appendAt(t, s, "admin1", "u-1", "support-u-1-admin1-1000", base)
	want := appendAt(t, s, "u-1", "admin1", "support-u-1-admin1-1000", base.Add(time.Hour))
	// u-1-b's session shares the prefix and is newer.
	other := appendAt(t, s, "admin1", "u-1-b", "support-u-1-b-admin1-2000", base.Add(2*time.Hour))
	appendAt(t, s, "admin10", "u-1", "support-u-1-admin10-3000", base.Add(3*time.Hour))

	got, err := s.LatestSupportMessage(ctx, "support-u-1-admin1-", "u-1", "admin1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("latest with admin1 = %+v, want %s", got, want.ID)
	}

	got, err = s.LatestSupportMessage(ctx, "support-u-1-", "u-1", "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ConversationID != "support-u-1-admin10-3000" {
		t.Fatalf("latest for u-1 = %+v", got)
	}

	got, err = s.LatestSupportMessage(ctx, "support-u-1-b-", "u-1-b", "")
	if err != nil || got == nil || got.ID != other.ID {
		t.Fatalf("latest for u-1-b = %+v, %v", got, err)
	}

	got, err = s.LatestSupportMessage(ctx, "support-u-2-", "u-2", "")
	if err != nil || got != nil {
		t.Fatalf("no match = %+v, %v", got, err)
	}
}

func testRemoveMessage(t *testing.T, s DataStore) {
	ctx := context.Background()
	m := appendAt(t, s, "a", "b", "a-b", base)

	if err := s.RemoveMessage(ctx, m.ID, "b"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("remove by receiver = %v, want ErrForbidden", err)
	}
	if err := s.RemoveMessage(ctx, "missing", "a"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("remove missing = %v, want ErrNotFound", err)
	}
	if err := s.RemoveMessage(ctx, m.ID, "a"); err != nil {
		t.Fatalf("remove by sender = %v", err)
	}
	if _, total, _ := s.ListByConversation(ctx, "a-b", 1, 50); total != 0 {
		t.Fatalf("total after remove = %d", total)
	}
}

func testNotifications(t *testing.T, s DataStore) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 3; i++ {
		n := domain.Notification{
			UserID:    "u1",
			Type:      domain.NotificationEventUpdate,
			Title:     "Event Update",
			Message:   fmt.Sprintf("update %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateNotification(ctx, &n); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, n.ID)
	}
	other := domain.Notification{UserID: "u2", Type: domain.NotificationNewMessage, Title: "New Message", Message: "hi"}
	if err := s.CreateNotification(ctx, &other); err != nil {
		t.Fatal(err)
	}

	list, total, err := s.ListNotifications(ctx, "u1", 1, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(list) != 2 || list[0].ID != ids[2] {
		t.Fatalf("list = %d items (total %d), first %v", len(list), total, list)
	}
	if list[0].Type != domain.NotificationEventUpdate {
		t.Fatalf("type = %q", list[0].Type)
	}

	if n, err := s.MarkNotificationsRead(ctx, []string{ids[0], other.ID}, "u1"); err != nil || n != 1 {
		t.Fatalf("mark read = %d, %v; want 1", n, err)
	}
	unread, total, err := s.ListNotifications(ctx, "u1", 1, 20, true)
	if err != nil || total != 2 || len(unread) != 2 {
		t.Fatalf("unread list = %d (total %d), %v", len(unread), total, err)
	}

	if n, _ := s.CountUnreadNotifications(ctx, "u1"); n != 2 {
		t.Fatalf("unread count = %d, want 2", n)
	}
	if n, err := s.MarkAllNotificationsRead(ctx, "u1"); err != nil || n != 2 {
		t.Fatalf("mark all = %d, %v", n, err)
	}
	if n, _ := s.CountUnreadNotifications(ctx, "u1"); n != 0 {
		t.Fatalf("unread after mark all = %d", n)
	}

	if err := s.DeleteNotification(ctx, other.ID, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("delete someone else's = %v, want ErrNotFound", err)
	}
	if err := s.DeleteNotification(ctx, ids[1], "u1"); err != nil {
		t.Fatal(err)
	}
	if _, total, _ := s.ListNotifications(ctx, "u1", 1, 20, false); total != 2 {
		t.Fatalf("total after delete = %d", total)
	}
}

func testUsers(t *testing.T, s DataStore) {
	ctx := context.Background()
	users := []domain.User{
		{ID: "u1", Name: "Uma", Email: "uma@example.com"},
		{ID: "admin2", Name: "Bo", Email: "bo@example.com", Role: domain.RoleAdmin},
		{ID: "admin1", Name: "Al", Email: "al@example.com", Role: domain.RoleAdmin},
	}
	for _, u := range users {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	u, err := s.GetUser(ctx, "u1")
	if err != nil || u == nil || u.Name != "Uma" || u.Role != domain.RoleUser {
		t.Fatalf("GetUser = %+v, %v", u, err)
	}
	if u, err := s.GetUser(ctx, "ghost"); err != nil || u != nil {
		t.Fatalf("GetUser(ghost) = %+v, %v", u, err)
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(admins) != 2 || admins[0].ID != "admin1" || admins[1].ID != "admin2" {
		t.Fatalf("admins = %+v", admins)
	}

	if err := s.UpsertUser(ctx, domain.User{ID: "u1", Name: "Uma B", Role: domain.RoleUser}); err != nil {
		t.Fatal(err)
	}
	if u, _ := s.GetUser(ctx, "u1"); u.Name != "Uma B" {
		t.Fatalf("upsert did not update: %+v", u)
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		page, limit, wantPage, wantLimit int
	}{
		{0, 0, 1, DefaultPageSize},
		{-3, 10, 1, 10},
		{2, 500, 2, MaxPageSize},
	}
	for _, c := range cases {
		p, l := NormalizePage(c.page, c.limit, DefaultPageSize)
		if p != c.wantPage || l != c.wantLimit {
			t.Errorf("NormalizePage(%d, %d) = %d, %d", c.page, c.limit, p, l)
		}
	}
}

func messageIDs(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
