package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"eventhub-realtime/internal/domain"
)

// SQLiteStore is the local development backend.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
// If dbPath is empty, defaults to "./data/eventhub.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/eventhub.db"
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user'
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		related_event_id TEXT NOT NULL DEFAULT '',
		related_booking_id TEXT NOT NULL DEFAULT '',
		is_read INTEGER NOT NULL DEFAULT 0,
		action_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_sender_receiver ON messages(sender_id, receiver_id);
	CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages(receiver_id, is_read);
	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const messageColumns = `id, sender_id, receiver_id, content, conversation_id, is_read, created_at`

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	prepareMessage(msg)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.ConversationID, msg.Read, msg.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListByConversation(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int, error) {
	page, limit = NormalizePage(page, limit, DefaultPageSize)

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return nil, 0, err
	}

	msgs := []domain.Message{}
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	reverseMessages(msgs)
	return msgs, total, nil
}

func (s *SQLiteStore) MarkConversationRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND receiver_id = ? AND is_read = 0
	`, conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, ids []string, recipientID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE messages SET is_read = 1 WHERE id IN (?) AND receiver_id = ? AND is_read = 0`, ids, recipientID)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	msgs := []domain.Message{}
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT `+messageColumns+` FROM messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY created_at DESC, id DESC
	`, userID, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = ? AND is_read = 0
		GROUP BY sender_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	unread := make(map[string]int64)
	for rows.Next() {
		var sender string
		var count int64
		if err := rows.Scan(&sender, &count); err != nil {
			return nil, err
		}
		unread[sender] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return groupConversations(userID, msgs, unread), nil
}

func (s *SQLiteStore) LatestSupportMessage(ctx context.Context, prefix, userID, counterpartID string) (*domain.Message, error) {
	if prefix == "" || userID == "" {
		return nil, nil
	}
	var msg domain.Message
	err := s.db.GetContext(ctx, &msg, `
		SELECT `+messageColumns+` FROM messages
		WHERE substr(conversation_id, 1, ?) = ?
		  AND (sender_id = ? OR receiver_id = ?)
		  AND (? = '' OR sender_id = ? OR receiver_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, len(prefix), prefix, userID, userID, counterpartID, counterpartID, counterpartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *SQLiteStore) RemoveMessage(ctx context.Context, id, requesterID string) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg == nil {
		return domain.ErrNotFound
	}
	if msg.SenderID != requesterID {
		return domain.ErrForbidden
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND sender_id = ?`, id, requesterID)
	return err
}

func (s *SQLiteStore) CountUnreadMessages(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = 0`, userID)
	return count, err
}

const notificationColumns = `id, user_id, type, title, message, related_event_id, related_booking_id, is_read, action_url, created_at`

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	prepareNotification(n)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.RelatedEventID, n.RelatedBookingID, n.Read, n.ActionURL, n.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, page, limit int, unreadOnly bool) ([]domain.Notification, int, error) {
	page, limit = NormalizePage(page, limit, 20)

	filter := `WHERE user_id = ?`
	if unreadOnly {
		filter += ` AND is_read = 0`
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications `+filter, userID); err != nil {
		return nil, 0, err
	}

	out := []domain.Notification{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+notificationColumns+` FROM notifications `+filter+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *SQLiteStore) MarkNotificationsRead(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE notifications SET is_read = 1 WHERE id IN (?) AND user_id = ? AND is_read = 0`, ids, userID)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteNotification(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID)
	return count, err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT id, name, email, role FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]domain.User, error) {
	admins := []domain.User{}
	err := s.db.SelectContext(ctx, &admins, `SELECT id, name, email, role FROM users WHERE role = ? ORDER BY id`, domain.RoleAdmin)
	return admins, err
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, role = excluded.role
	`, user.ID, user.Name, user.Email, user.Role)
	return err
}
