package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

// PostgresStore is the production backend. The users table belongs to the
// CRUD service; EnsureSchema only creates it when missing.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema creates tables and indexes that do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			related_event_id TEXT NOT NULL DEFAULT '',
			related_booking_id TEXT NOT NULL DEFAULT '',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			action_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_sender_receiver ON messages (sender_id, receiver_id);
		CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages (receiver_id) WHERE NOT is_read;
		CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, is_read, created_at DESC);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.StoreLatency.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.ConversationID,
		&msg.Read,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func collectMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

// AppendMessage inserts a message.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	defer observe(time.Now())
	prepareMessage(msg)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, conversation_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.ConversationID, msg.Read, msg.CreatedAt)
	return err
}

// ListByConversation fetches newest first and reverses the page.
func (s *PostgresStore) ListByConversation(ctx context.Context, conversationID string, page, limit int) ([]domain.Message, int, error) {
	defer observe(time.Now())
	page, limit = NormalizePage(page, limit, DefaultPageSize)

	var total int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, content, conversation_id, is_read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}

	reverseMessages(msgs)
	return msgs, total, nil
}

// MarkConversationRead flips read on everything addressed to recipientID.
func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, recipientID string) (int64, error) {
	defer observe(time.Now())
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND receiver_id = $2 AND NOT is_read
	`, conversationID, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) MarkMessagesRead(ctx context.Context, ids []string, recipientID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE id = ANY($1) AND receiver_id = $2 AND NOT is_read
	`, ids, recipientID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListConversationsForUser picks the latest message per counterpart with
// DISTINCT ON and counts unread messages per sender.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (other_id) id, sender_id, receiver_id, content, conversation_id, is_read, created_at
		FROM (
			SELECT m.*, CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS other_id
			FROM messages m
			WHERE m.sender_id = $1 OR m.receiver_id = $1
		) t
		ORDER BY other_id, created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	latest, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	countRows, err := s.pool.Query(ctx, `
		SELECT sender_id, COUNT(*) FROM messages
		WHERE receiver_id = $1 AND NOT is_read
		GROUP BY sender_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer countRows.Close()

	unread := make(map[string]int64)
	for countRows.Next() {
		var sender string
		var count int64
		if err := countRows.Scan(&sender, &count); err != nil {
			return nil, err
		}
		unread[sender] = count
	}
	if err := countRows.Err(); err != nil {
		return nil, err
	}

	return groupConversations(userID, latest, unread), nil
}

func (s *PostgresStore) LatestSupportMessage(ctx context.Context, prefix, userID, counterpartID string) (*domain.Message, error) {
	if prefix == "" || userID == "" {
		return nil, nil
	}
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, content, conversation_id, is_read, created_at
		FROM messages
		WHERE starts_with(conversation_id, $1)
		  AND (sender_id = $2 OR receiver_id = $2)
		  AND ($3 = '' OR sender_id = $3 OR receiver_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, prefix, userID, counterpartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, content, conversation_id, is_read, created_at
		FROM messages WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// RemoveMessage deletes a message only when requesterID sent it.
func (s *PostgresStore) RemoveMessage(ctx context.Context, id, requesterID string) error {
	var sender string
	err := s.pool.QueryRow(ctx, `SELECT sender_id FROM messages WHERE id = $1`, id).Scan(&sender)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if sender != requesterID {
		return domain.ErrForbidden
	}

	_, err = s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND sender_id = $2`, id, requesterID)
	return err
}

func (s *PostgresStore) CountUnreadMessages(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND NOT is_read`, userID).Scan(&count)
	return count, err
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *domain.Notification) error {
	defer observe(time.Now())
	prepareNotification(n)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, related_event_id, related_booking_id, is_read, action_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, n.UserID, string(n.Type), n.Title, n.Message, n.RelatedEventID, n.RelatedBookingID, n.Read, n.ActionURL, n.CreatedAt)
	return err
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, page, limit int, unreadOnly bool) ([]domain.Notification, int, error) {
	page, limit = NormalizePage(page, limit, 20)

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
	`, userID, unreadOnly).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, title, message, related_event_id, related_booking_id, is_read, action_url, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var typ string
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&typ,
			&n.Title,
			&n.Message,
			&n.RelatedEventID,
			&n.RelatedBookingID,
			&n.Read,
			&n.ActionURL,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		n.Type = domain.NotificationType(typ)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, ids []string, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = ANY($1) AND user_id = $2 AND NOT is_read
	`, ids, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&count)
	return count, err
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	user := &domain.User{}
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Name, &user.Email, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.Role = domain.Role(role)
	return user, nil
}

func (s *PostgresStore) ListAdmins(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, email, role FROM users WHERE role = $1 ORDER BY id`, string(domain.RoleAdmin))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var admins []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &role); err != nil {
			return nil, err
		}
		u.Role = domain.Role(role)
		admins = append(admins, u)
	}
	return admins, rows.Err()
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, role = EXCLUDED.role
	`, user.ID, user.Name, user.Email, string(user.Role))
	return err
}
