package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a row the operation targets does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence gateway. It is the single authority for
// conversation, message and counter state; the gateway process never caches
// any of it beyond a single request.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- messages ---

func (s *Store) InsertMessage(ctx context.Context, conversationID, senderID int, content string) (Message, error) {
	m := Message{ConversationID: conversationID, SenderID: senderID, Content: content}
	query := `INSERT INTO messages (conversation_id, sender_id, content)
              VALUES ($1, $2, $3) RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query, conversationID, senderID, content).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// ListMessages returns the conversation's messages oldest first, each joined
// with the sender's display info. When viewerID > 0 the Read flag reflects
// that viewer's read marks.
func (s *Store) ListMessages(ctx context.Context, conversationID, viewerID int) ([]Message, error) {
	query := `
        SELECT m.id, m.conversation_id, m.sender_id, m.content, m.created_at,
               u.display_name, u.avatar_url,
               EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2)
        FROM messages m
        JOIN users u ON u.id = m.sender_id
        WHERE m.conversation_id = $1
        ORDER BY m.created_at ASC, m.id ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt,
			&m.SenderName, &m.SenderAvatar, &m.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkConversationRead records a read mark for the reader on every message
// in the conversation they did not author. Re-marking is a no-op.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, readerID int) error {
	query := `
        INSERT INTO message_reads (message_id, user_id)
        SELECT m.id, $2 FROM messages m
        WHERE m.conversation_id = $1 AND m.sender_id <> $2
        ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, conversationID, readerID); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// MarkMessageRead records a single read mark and returns its timestamp. A
// repeated receipt returns the original timestamp.
func (s *Store) MarkMessageRead(ctx context.Context, messageID, readerID int) (time.Time, error) {
	var readAt time.Time
	query := `
        INSERT INTO message_reads (message_id, user_id)
        VALUES ($1, $2)
        ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = message_reads.read_at
        RETURNING read_at`

	err := s.db.QueryRowContext(ctx, query, messageID, readerID).Scan(&readAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("mark message read: %w", err)
	}
	return readAt, nil
}

func (s *Store) DeleteMessage(ctx context.Context, messageID int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessagesByConversation removes read marks before messages so the
// child rows never outlive their parent, even against a store without
// cascading deletes.
func (s *Store) DeleteMessagesByConversation(ctx context.Context, conversationID int) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM message_reads
        WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = $1)`, conversationID)
	if err != nil {
		return fmt.Errorf("delete message reads: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

func (s *Store) UpdateMessage(ctx context.Context, messageID int, content string) (Message, error) {
	m := Message{ID: messageID, Content: content}
	query := `UPDATE messages SET content = $2 WHERE id = $1
              RETURNING conversation_id, sender_id, created_at`

	err := s.db.QueryRowContext(ctx, query, messageID, content).
		Scan(&m.ConversationID, &m.SenderID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("update message: %w", err)
	}
	return m, nil
}

// --- conversations ---

func (s *Store) CreateConversation(ctx context.Context, isGroup bool, name string, memberIDs []int) (Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	defer tx.Rollback()

	c := Conversation{IsGroup: isGroup, Name: name}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO conversations (is_group, name) VALUES ($1, $2)
         RETURNING id, avatar_url, created_at, updated_at`,
		isGroup, name).Scan(&c.ID, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	for _, id := range memberIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)
             ON CONFLICT DO NOTHING`, c.ID, id); err != nil {
			return Conversation{}, fmt.Errorf("add participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// FindDirectConversation returns the existing two-person conversation
// between a and b, or ErrNotFound.
func (s *Store) FindDirectConversation(ctx context.Context, a, b int) (Conversation, error) {
	var c Conversation
	query := `
        SELECT c.id, c.is_group, c.name, c.avatar_url, c.created_at, c.updated_at
        FROM conversations c
        JOIN participants p1 ON p1.conversation_id = c.id AND p1.user_id = $1
        JOIN participants p2 ON p2.conversation_id = c.id AND p2.user_id = $2
        WHERE c.is_group = FALSE
        LIMIT 1`

	err := s.db.QueryRowContext(ctx, query, a, b).
		Scan(&c.ID, &c.IsGroup, &c.Name, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("find direct conversation: %w", err)
	}
	return c, nil
}

func (s *Store) GetConversationMembers(ctx context.Context, conversationID int) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM participants WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteConversationMembers removes the participant rows and the derived
// unread counters that hang off them.
func (s *Store) DeleteConversationMembers(ctx context.Context, conversationID int) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM unread_counters WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete unread counters: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, conversationID int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateConversation(ctx context.Context, conversationID int, patch ConversationPatch) (Conversation, error) {
	set, args := buildConversationPatch(patch)
	args = append(args, conversationID)

	var c Conversation
	query := `UPDATE conversations SET ` + set +
		` WHERE id = $` + strconv.Itoa(len(args)) +
		` RETURNING id, is_group, name, avatar_url, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&c.ID, &c.IsGroup, &c.Name, &c.AvatarURL, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	return c, nil
}

func buildConversationPatch(patch ConversationPatch) (string, []any) {
	parts := []string{}
	args := []any{}
	if patch.Name != nil {
		args = append(args, *patch.Name)
		parts = append(parts, "name = $"+strconv.Itoa(len(args)))
	}
	if patch.AvatarURL != nil {
		args = append(args, *patch.AvatarURL)
		parts = append(parts, "avatar_url = $"+strconv.Itoa(len(args)))
	}
	parts = append(parts, "updated_at = CURRENT_TIMESTAMP")
	return strings.Join(parts, ", "), args
}

// --- users ---

func (s *Store) GetUserDisplayInfo(ctx context.Context, userID int) (DisplayInfo, error) {
	var info DisplayInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, avatar_url FROM users WHERE id = $1`, userID).
		Scan(&info.Name, &info.Avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DisplayInfo{}, ErrNotFound
		}
		return DisplayInfo{}, fmt.Errorf("get display info: %w", err)
	}
	return info, nil
}

// --- unread counters ---

// CountUnread recomputes a member's unread count from the authoritative
// message and read-mark state. It never reads the counter row.
func (s *Store) CountUnread(ctx context.Context, conversationID, memberID int) (int, error) {
	var n int
	query := `
        SELECT COUNT(*) FROM messages m
        WHERE m.conversation_id = $1
          AND m.sender_id <> $2
          AND NOT EXISTS (
              SELECT 1 FROM message_reads r
              WHERE r.message_id = m.id AND r.user_id = $2
          )`

	if err := s.db.QueryRowContext(ctx, query, conversationID, memberID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *Store) SetUnreadCounter(ctx context.Context, conversationID, memberID, value int) error {
	query := `
        INSERT INTO unread_counters (conversation_id, user_id, count)
        VALUES ($1, $2, $3)
        ON CONFLICT (conversation_id, user_id) DO UPDATE SET count = EXCLUDED.count`

	if _, err := s.db.ExecContext(ctx, query, conversationID, memberID, value); err != nil {
		return fmt.Errorf("set unread counter: %w", err)
	}
	return nil
}

// --- hydration ---

// ListConversationsForUser returns every conversation the user belongs to,
// hydrated with participants, the ordered message log and the user's unread
// counter.
func (s *Store) ListConversationsForUser(ctx context.Context, userID int) ([]ConversationView, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT c.id, c.is_group, c.name, c.avatar_url, c.created_at, c.updated_at
        FROM conversations c
        JOIN participants p ON p.conversation_id = c.id
        WHERE p.user_id = $1
        ORDER BY c.updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var views []ConversationView
	for rows.Next() {
		var v ConversationView
		if err := rows.Scan(&v.ID, &v.IsGroup, &v.Name, &v.AvatarURL, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range views {
		if views[i].Members, err = s.listMembers(ctx, views[i].ID); err != nil {
			return nil, err
		}
		if views[i].Messages, err = s.ListMessages(ctx, views[i].ID, userID); err != nil {
			return nil, err
		}
		if views[i].UnreadCount, err = s.CountUnread(ctx, views[i].ID, userID); err != nil {
			return nil, err
		}
	}
	return views, nil
}

func (s *Store) listMembers(ctx context.Context, conversationID int) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT u.id, u.username, u.display_name, u.avatar_url
        FROM participants p
        JOIN users u ON u.id = p.user_id
        WHERE p.conversation_id = $1
        ORDER BY p.joined_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Username, &m.DisplayName, &m.AvatarURL); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
