package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store runs all chat queries against a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, username, password_hash, name, role, title, organization,
	avatar, bio, specialty, mobile, credit_code, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Role,
		&u.Title, &u.Organization, &u.Avatar, &u.Bio, &u.Specialty,
		&u.Mobile, &u.CreditCode, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// UserByUsername looks up a user for login.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

// UserByID returns a single directory entry.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// Contacts returns a page of users holding the given role, optionally
// filtered by a case-insensitive search over name, title, specialty and
// organization.
func (s *Store) Contacts(ctx context.Context, role Role, search string, page, limit int) ([]*User, Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	where := `role = $1`
	args := []any{role}
	if q := strings.TrimSpace(search); q != "" {
		where += ` AND (name ILIKE $2 OR title ILIKE $2 OR specialty ILIKE $2 OR organization ILIKE $2)`
		args = append(args, "%"+q+"%")
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, Page{}, fmt.Errorf("count contacts: %w", err)
	}

	offset := (page - 1) * limit
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at LIMIT $%d OFFSET $%d`,
			userColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, Page{}, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, Page{}, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, Page{}, fmt.Errorf("iterate contacts: %w", err)
	}

	meta := Page{Total: total, Page: page, Limit: limit}
	meta.TotalPages = (total + limit - 1) / limit
	return users, meta, nil
}

// Conversations returns the caller's threads newest-first, each populated
// with the counterpart's profile and the latest message between the pair.
func (s *Store) Conversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.user_id, c.participant_id, c.unread_count, c.created_at, c.updated_at,
		       u.id, u.username, u.password_hash, u.name, u.role, u.title, u.organization,
		       u.avatar, u.bio, u.specialty, u.mobile, u.credit_code, u.created_at
		FROM conversations c
		JOIN users u ON u.id = c.participant_id
		WHERE c.user_id = $1
		ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		var u User
		err := rows.Scan(&c.ID, &c.UserID, &c.ParticipantID, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt,
			&u.ID, &u.Username, &u.PasswordHash, &u.Name, &u.Role, &u.Title, &u.Organization,
			&u.Avatar, &u.Bio, &u.Specialty, &u.Mobile, &u.CreditCode, &u.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		u.PasswordHash = ""
		c.Participant = &u
		convs = append(convs, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	for _, c := range convs {
		last, err := s.lastMessage(ctx, c.UserID, c.ParticipantID)
		if err != nil {
			return nil, err
		}
		c.LastMessage = last
	}
	return convs, nil
}

func (s *Store) lastMessage(ctx context.Context, a, b string) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, type, content, file_name, file_size, status, recalled, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at DESC
		LIMIT 1`, a, b)

	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Type, &m.Content,
		&m.FileName, &m.FileSize, &m.Status, &m.Recalled, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan last message: %w", err)
	}
	return &m, nil
}

// EnsureConversation creates the caller's thread row with the participant
// if it does not exist yet, and returns it either way.
func (s *Store) EnsureConversation(ctx context.Context, userID, participantID string) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, participant_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, participant_id) DO UPDATE SET updated_at = now()
		RETURNING id, user_id, participant_id, unread_count, created_at, updated_at`,
		userID, participantID)

	var c Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.ParticipantID, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return &c, nil
}

// Messages returns the full history between the caller and the other user,
// oldest first.
func (s *Store) Messages(ctx context.Context, userID, otherID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, sender_id, receiver_id, type, content, file_name, file_size, status, recalled, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at`, userID, otherID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Type, &m.Content,
			&m.FileName, &m.FileSize, &m.Status, &m.Recalled, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// SendMessage inserts the message and bumps both parties' conversation
// rows in one transaction, so the receiver's unread count and thread
// ordering never drift from the message log.
func (s *Store) SendMessage(ctx context.Context, m *Message) (*Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin send: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	status := m.Status
	if status == "" {
		status = StatusSent
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO messages (sender_id, receiver_id, type, content, file_name, file_size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, sender_id, receiver_id, type, content, file_name, file_size, status, recalled, created_at`,
		m.SenderID, m.ReceiverID, m.Type, m.Content, m.FileName, m.FileSize, status)

	var out Message
	err = row.Scan(&out.ID, &out.SenderID, &out.ReceiverID, &out.Type, &out.Content,
		&out.FileName, &out.FileSize, &out.Status, &out.Recalled, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (user_id, participant_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, participant_id) DO UPDATE SET updated_at = now()`,
		m.SenderID, m.ReceiverID)
	if err != nil {
		return nil, fmt.Errorf("touch sender conversation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (user_id, participant_id, unread_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, participant_id)
		DO UPDATE SET unread_count = conversations.unread_count + 1, updated_at = now()`,
		m.ReceiverID, m.SenderID)
	if err != nil {
		return nil, fmt.Errorf("touch receiver conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit send: %w", err)
	}
	return &out, nil
}

// MarkRead flags every message the other user sent to the caller as read
// and clears the caller's unread counter for that thread.
func (s *Store) MarkRead(ctx context.Context, userID, senderID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark read: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		UPDATE messages SET status = $3
		WHERE sender_id = $1 AND receiver_id = $2 AND status <> $3`,
		senderID, userID, StatusRead)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET unread_count = 0
		WHERE user_id = $1 AND participant_id = $2`,
		userID, senderID)
	if err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}

	return tx.Commit(ctx)
}

// RecallMessage marks a message as recalled. Only the sender may recall,
// and only within RecallWindow of sending.
func (s *Store) RecallMessage(ctx context.Context, userID, messageID string) (*Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, sender_id, receiver_id, type, content, file_name, file_size, status, recalled, created_at
		FROM messages WHERE id = $1`, messageID)

	var m Message
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Type, &m.Content,
		&m.FileName, &m.FileSize, &m.Status, &m.Recalled, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load message: %w", err)
	}

	if m.SenderID != userID {
		return nil, ErrNotMessageOwner
	}
	if time.Since(m.CreatedAt) > RecallWindow {
		return nil, ErrRecallExpired
	}

	_, err = s.pool.Exec(ctx, `UPDATE messages SET recalled = true WHERE id = $1`, messageID)
	if err != nil {
		return nil, fmt.Errorf("recall message: %w", err)
	}
	m.Recalled = true
	return &m, nil
}

// CountUsers reports how many users exist, used to decide whether to seed.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
