package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/poputchik/chat-server/internal/domain"
)

// schema is applied on startup. Chat→message→read-receipt ownership is
// modeled with ON DELETE CASCADE so deleting a chat removes everything it
// contains in the same transaction.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chats (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	owner_id   INTEGER NOT NULL REFERENCES users(id),
	direct_key TEXT UNIQUE,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_members (
	chat_id   INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	user_id   INTEGER NOT NULL REFERENCES users(id),
	is_admin  INTEGER NOT NULL DEFAULT 0,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id    INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	author_id  INTEGER NOT NULL REFERENCES users(id),
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	read_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (message_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_chat_members_user ON chat_members(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_chat_author ON messages(chat_id, author_id, created_at);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// unavailable wraps an infrastructure failure as a retryable domain error.
func unavailable(op string, err error) error {
	return domain.E(domain.KindUnavailable, "%s: %v", op, err)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ==== UserStore implementation ====

// CreateUser registers a user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username string) (*domain.User, error) {
	query := `
		INSERT INTO users (username)
		VALUES (?)
	`
	result, err := s.db.ExecContext(ctx, query, username)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, domain.E(domain.KindConflict, "username %q already taken", username)
		}
		return nil, unavailable("insert user", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("get last insert id", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `
		SELECT id, username, created_at
		FROM users
		WHERE id = ?
	`
	var user domain.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.KindNotFound, "user %d not found", id)
		}
		return nil, unavailable("query user", err)
	}

	return &user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, username, created_at
		FROM users
		WHERE username = ?
	`
	var user domain.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.KindNotFound, "user %q not found", username)
		}
		return nil, unavailable("query user", err)
	}

	return &user, nil
}

// ==== ChatStore implementation ====

// CreateChat persists a new chat with its member and admin sets.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var directKey *string
	if chat.Kind == domain.ChatKindSingle {
		members := chat.Members()
		if len(members) == 2 {
			key := domain.DirectKey(members[0], members[1])
			directKey = &key
		}
	}

	query := `
		INSERT INTO chats (kind, name, owner_id, direct_key)
		VALUES (?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, chat.Kind, chat.Name, chat.OwnerID, directKey)
	if err != nil {
		// A concurrent insert of the same pair loses the unique-key race;
		// the existing chat is the right answer for both callers.
		if directKey != nil && strings.Contains(err.Error(), "UNIQUE") {
			_ = tx.Rollback()
			return s.GetChatByDirectKey(ctx, *directKey)
		}
		return nil, unavailable("insert chat", err)
	}

	chatID, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("get last insert id", err)
	}

	if err := insertMembers(ctx, tx, chatID, chat); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	return s.GetChatByID(ctx, chatID)
}

// GetChatByID retrieves a chat with its member and admin sets loaded.
func (s *SQLiteStore) GetChatByID(ctx context.Context, id int64) (*domain.Chat, error) {
	return loadChat(ctx, s.db, "WHERE id = ?", id)
}

// GetChatByDirectKey retrieves a single chat by its dedup key.
func (s *SQLiteStore) GetChatByDirectKey(ctx context.Context, directKey string) (*domain.Chat, error) {
	return loadChat(ctx, s.db, "WHERE direct_key = ?", directKey)
}

// UpdateChat writes the chat row and replaces its member and admin sets.
// The row update is a compare-and-swap on the version column; a stale
// version means a concurrent writer won and the operation should be retried.
func (s *SQLiteStore) UpdateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE chats
		SET name = ?, owner_id = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query, chat.Name, chat.OwnerID, chat.ID, chat.Version)
	if err != nil {
		return nil, unavailable("update chat", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("rows affected", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM chats WHERE id = ?`, chat.ID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, domain.E(domain.KindNotFound, "chat %d not found", chat.ID)
		case err != nil:
			return nil, unavailable("query chat", err)
		}
		return nil, domain.E(domain.KindUnavailable, "chat %d was modified concurrently", chat.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_members WHERE chat_id = ?`, chat.ID); err != nil {
		return nil, unavailable("clear members", err)
	}
	if err := insertMembers(ctx, tx, chat.ID, chat); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	return s.GetChatByID(ctx, chat.ID)
}

// DeleteChat removes a chat; members, messages and read receipts cascade.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete chat", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if affected == 0 {
		return domain.E(domain.KindNotFound, "chat %d not found", id)
	}

	return nil
}

// ListChatsByUser returns all chats the user is a member of, in storage order.
func (s *SQLiteStore) ListChatsByUser(ctx context.Context, userID int64) ([]*domain.Chat, error) {
	query := `
		SELECT c.id FROM chats c
		JOIN chat_members cm ON c.id = cm.chat_id
		WHERE cm.user_id = ?
		ORDER BY c.id ASC
	`
	return s.loadChatsByQuery(ctx, query, userID)
}

// ListChatsWithBoth returns all chats where both users are members.
func (s *SQLiteStore) ListChatsWithBoth(ctx context.Context, userID, otherID int64) ([]*domain.Chat, error) {
	query := `
		SELECT c.id FROM chats c
		JOIN chat_members a ON c.id = a.chat_id AND a.user_id = ?
		JOIN chat_members b ON c.id = b.chat_id AND b.user_id = ?
		ORDER BY c.id ASC
	`
	return s.loadChatsByQuery(ctx, query, userID, otherID)
}

// SearchChatsByName returns group chats the user is a member of whose name
// contains the text. LIKE is case-insensitive for ASCII in SQLite.
func (s *SQLiteStore) SearchChatsByName(ctx context.Context, text string, memberID int64) ([]*domain.Chat, error) {
	query := `
		SELECT c.id FROM chats c
		JOIN chat_members cm ON c.id = cm.chat_id
		WHERE cm.user_id = ? AND c.kind = 'group' AND c.name LIKE '%' || ? || '%'
		ORDER BY c.id ASC
	`
	return s.loadChatsByQuery(ctx, query, memberID, text)
}

// LastMessageTimes returns the newest message timestamp per chat.
func (s *SQLiteStore) LastMessageTimes(ctx context.Context, chatIDs []int64) (map[int64]time.Time, error) {
	times := make(map[int64]time.Time, len(chatIDs))
	if len(chatIDs) == 0 {
		return times, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chatIDs)), ",")
	query := fmt.Sprintf(`
		SELECT chat_id, MAX(created_at) FROM messages
		WHERE chat_id IN (%s)
		GROUP BY chat_id
	`, placeholders)

	args := make([]any, len(chatIDs))
	for i, id := range chatIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query last message times", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chatID, nanos int64
		if err := rows.Scan(&chatID, &nanos); err != nil {
			return nil, unavailable("scan last message time", err)
		}
		times[chatID] = time.Unix(0, nanos).UTC()
	}

	return times, rows.Err()
}

func (s *SQLiteStore) loadChatsByQuery(ctx context.Context, query string, args ...any) ([]*domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query chats", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, unavailable("scan chat id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, unavailable("iterate chats", err)
	}
	rows.Close()

	chats := make([]*domain.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.GetChatByID(ctx, id)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, nil
}

func loadChat(ctx context.Context, q querier, where string, args ...any) (*domain.Chat, error) {
	query := `
		SELECT id, kind, name, owner_id, version, created_at
		FROM chats ` + where

	var (
		id, ownerID, version int64
		kind, name           string
		createdAt            time.Time
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(&id, &kind, &name, &ownerID, &version, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.KindNotFound, "chat not found")
		}
		return nil, unavailable("query chat", err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id, is_admin FROM chat_members
		WHERE chat_id = ?
		ORDER BY joined_at ASC
	`, id)
	if err != nil {
		return nil, unavailable("query members", err)
	}
	defer rows.Close()

	var members, admins []int64
	for rows.Next() {
		var userID int64
		var isAdmin bool
		if err := rows.Scan(&userID, &isAdmin); err != nil {
			return nil, unavailable("scan member", err)
		}
		members = append(members, userID)
		if isAdmin {
			admins = append(admins, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate members", err)
	}

	return domain.RestoreChat(id, domain.ChatKind(kind), name, ownerID, version, createdAt, members, admins), nil
}

func insertMembers(ctx context.Context, tx *sql.Tx, chatID int64, chat *domain.Chat) error {
	query := `
		INSERT INTO chat_members (chat_id, user_id, is_admin)
		VALUES (?, ?, ?)
	`
	for _, userID := range chat.Members() {
		if _, err := tx.ExecContext(ctx, query, chatID, userID, chat.IsAdmin(userID)); err != nil {
			return unavailable("insert member", err)
		}
	}
	return nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and its initial read-by set.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO messages (chat_id, author_id, content, created_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query, msg.ChatID, msg.AuthorID, msg.Content, msg.CreatedAt.UnixNano())
	if err != nil {
		return nil, unavailable("insert message", err)
	}

	msgID, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("get last insert id", err)
	}

	for _, userID := range msg.ReadBy() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)
		`, msgID, userID); err != nil {
			return nil, unavailable("insert read receipt", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	return s.GetMessageByID(ctx, msgID)
}

// GetMessageByID retrieves a message with its read-by set loaded.
func (s *SQLiteStore) GetMessageByID(ctx context.Context, id int64) (*domain.Message, error) {
	return s.loadMessage(ctx, "WHERE id = ?", id)
}

// UpdateMessage writes the message row and its read-by set, guarded by the
// version column. Read receipts are union-only so existing rows are kept.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		UPDATE messages
		SET content = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query, msg.Content, msg.ID, msg.Version)
	if err != nil {
		return nil, unavailable("update message", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, unavailable("rows affected", err)
	}
	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, msg.ID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, domain.E(domain.KindNotFound, "message %d not found", msg.ID)
		case err != nil:
			return nil, unavailable("query message", err)
		}
		return nil, domain.E(domain.KindUnavailable, "message %d was modified concurrently", msg.ID)
	}

	for _, userID := range msg.ReadBy() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)
		`, msg.ID, userID); err != nil {
			return nil, unavailable("insert read receipt", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit transaction", err)
	}

	return s.GetMessageByID(ctx, msg.ID)
}

// DeleteMessage removes a message; its read receipts cascade.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete message", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if affected == 0 {
		return domain.E(domain.KindNotFound, "message %d not found", id)
	}

	return nil
}

// ListMessagesByChat returns all messages of a chat in insertion order.
func (s *SQLiteStore) ListMessagesByChat(ctx context.Context, chatID int64) ([]*domain.Message, error) {
	query := `
		SELECT id FROM messages
		WHERE chat_id = ?
		ORDER BY id ASC
	`
	return s.loadMessagesByQuery(ctx, query, chatID)
}

// SearchMessages returns matching messages of a chat, newest first.
func (s *SQLiteStore) SearchMessages(ctx context.Context, chatID int64, text string) ([]*domain.Message, error) {
	query := `
		SELECT id FROM messages
		WHERE chat_id = ? AND content LIKE '%' || ? || '%'
		ORDER BY created_at DESC, id DESC
	`
	return s.loadMessagesByQuery(ctx, query, chatID, text)
}

// LastMessageFromUser returns the newest message a user sent in a chat.
func (s *SQLiteStore) LastMessageFromUser(ctx context.Context, chatID, userID int64) (*domain.Message, error) {
	query := `
		SELECT id FROM messages
		WHERE chat_id = ? AND author_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var id int64
	err := s.db.QueryRowContext(ctx, query, chatID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.KindNotFound, "no messages from user %d in chat %d", userID, chatID)
		}
		return nil, unavailable("query last message", err)
	}

	return s.GetMessageByID(ctx, id)
}

// MarkChatRead adds the user to the read-by set of every message in the
// chat. A single INSERT..SELECT keeps the backfill atomic.
func (s *SQLiteStore) MarkChatRead(ctx context.Context, chatID, userID int64) error {
	query := `
		INSERT OR IGNORE INTO message_reads (message_id, user_id)
		SELECT id, ? FROM messages WHERE chat_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, userID, chatID); err != nil {
		return unavailable("mark chat read", err)
	}
	return nil
}

func (s *SQLiteStore) loadMessage(ctx context.Context, where string, args ...any) (*domain.Message, error) {
	query := `
		SELECT id, chat_id, author_id, content, version, created_at
		FROM messages ` + where

	var (
		id, chatID, authorID, version, nanos int64
		content                              string
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &chatID, &authorID, &content, &version, &nanos)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.KindNotFound, "message not found")
		}
		return nil, unavailable("query message", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM message_reads WHERE message_id = ?
	`, id)
	if err != nil {
		return nil, unavailable("query read receipts", err)
	}
	defer rows.Close()

	var readBy []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, unavailable("scan read receipt", err)
		}
		readBy = append(readBy, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate read receipts", err)
	}

	return domain.RestoreMessage(id, chatID, authorID, content, version, time.Unix(0, nanos).UTC(), readBy), nil
}

func (s *SQLiteStore) loadMessagesByQuery(ctx context.Context, query string, args ...any) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query messages", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, unavailable("scan message id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, unavailable("iterate messages", err)
	}
	rows.Close()

	messages := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessageByID(ctx, id)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, nil
}
