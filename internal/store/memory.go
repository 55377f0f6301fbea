package store

import (
	"context"
	"sort"
	"sync"

	"eventhub-realtime/internal/domain"
)

// MemoryStore keeps everything in process memory. Used in tests and for
// single-instance development runs.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      []domain.Message
	notifications []domain.Notification
	users         map[string]domain.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]domain.User)}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	prepareMessage(msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	stored.Sender, stored.Receiver = nil, nil
	s.messages = append(s.messages, stored)
	return nil
}

// newestFirst returns copies of the messages accepted by keep, newest first.
// Caller holds the read lock.
func (s *MemoryStore) newestFirst(keep func(*domain.Message) bool) []domain.Message {
	var out []domain.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if keep(&s.messages[i]) {
			out = append(out, s.messages[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemoryStore) ListByConversation(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int, error) {
	page, limit = NormalizePage(page, limit, DefaultPageSize)

	s.mu.RLock()
	all := s.newestFirst(func(m *domain.Message) bool { return m.ConversationID == conversationID })
	s.mu.RUnlock()

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []domain.Message{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}

	pageMsgs := make([]domain.Message, end-start)
	copy(pageMsgs, all[start:end])
	reverseMessages(pageMsgs)
	return pageMsgs, total, nil
}

func (s *MemoryStore) MarkConversationRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ConversationID == conversationID && m.ReceiverID == recipientID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkMessagesRead(ctx context.Context, ids []string, recipientID string) (int64, error) {
	wanted := toSet(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if _, ok := wanted[m.ID]; ok && m.ReceiverID == recipientID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.newestFirst(func(m *domain.Message) bool {
		return m.SenderID == userID || m.ReceiverID == userID
	})
	unread := make(map[string]int64)
	for _, m := range msgs {
		if m.ReceiverID == userID && !m.Read {
			unread[m.SenderID]++
		}
	}
	return groupConversations(userID, msgs, unread), nil
}

func (s *MemoryStore) LatestSupportMessage(ctx context.Context, prefix, userID, counterpartID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.newestFirst(func(m *domain.Message) bool {
		return hasPrefix(m.ConversationID, prefix) && involves(m, userID) &&
			(counterpartID == "" || involves(m, counterpartID))
	})
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			msg := s.messages[i]
			return &msg, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) RemoveMessage(ctx context.Context, id, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		if s.messages[i].SenderID != requesterID {
			return domain.ErrForbidden
		}
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
		return nil
	}
	return domain.ErrNotFound
}

func (s *MemoryStore) CountUnreadMessages(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	prepareNotification(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, userID string, page, limit int, unreadOnly bool) ([]domain.Notification, int, error) {
	page, limit = NormalizePage(page, limit, 20)

	s.mu.RLock()
	var all []domain.Notification
	for i := len(s.notifications) - 1; i >= 0; i-- {
		n := s.notifications[i]
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			all = append(all, n)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * limit
	if start >= total {
		return []domain.Notification{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (s *MemoryStore) MarkNotificationsRead(ctx context.Context, ids []string, userID string) (int64, error) {
	wanted := toSet(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for i := range s.notifications {
		n := &s.notifications[i]
		if _, ok := wanted[n.ID]; ok && n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for i := range s.notifications {
		n := &s.notifications[i]
		if n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteNotification(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].UserID == userID {
			s.notifications = append(s.notifications[:i], s.notifications[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *MemoryStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (s *MemoryStore) ListAdmins(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var admins []domain.User
	for _, u := range s.users {
		if u.Role == domain.RoleAdmin {
			admins = append(admins, u)
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].ID < admins[j].ID })
	return admins, nil
}

func (s *MemoryStore) UpsertUser(ctx context.Context, user domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleUser
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
