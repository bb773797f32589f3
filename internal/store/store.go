package store

import (
	"context"
	"time"

	"github.com/poputchik/chat-server/internal/domain"
)

// UserStore handles user persistence. Accounts themselves are managed by an
// external system; this core only resolves and references them.
type UserStore interface {
	// CreateUser registers a user record. Exposed for provisioning and tests.
	CreateUser(ctx context.Context, username string) (*domain.User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

// ChatStore handles chat persistence, including member and admin sets.
type ChatStore interface {
	// CreateChat persists a new chat with its member and admin sets in one
	// transaction and returns the stored chat with its assigned ID. A single
	// chat whose direct key already exists resolves to the existing chat.
	CreateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error)

	// GetChatByID retrieves a chat with its member and admin sets loaded.
	GetChatByID(ctx context.Context, id int64) (*domain.Chat, error)

	// UpdateChat writes the chat row and replaces its member and admin sets
	// in one transaction. The write is guarded by the chat's version: a
	// concurrent update since the chat was read fails with
	// domain.KindUnavailable and the caller may retry the whole operation.
	UpdateChat(ctx context.Context, chat *domain.Chat) (*domain.Chat, error)

	// DeleteChat removes a chat. Contained messages and their read receipts
	// are deleted in the same transaction.
	DeleteChat(ctx context.Context, id int64) error

	// GetChatByDirectKey retrieves a single chat by its dedup key.
	GetChatByDirectKey(ctx context.Context, directKey string) (*domain.Chat, error)

	// ListChatsByUser returns all chats the user is a member of, in
	// storage order.
	ListChatsByUser(ctx context.Context, userID int64) ([]*domain.Chat, error)

	// ListChatsWithBoth returns all chats where both users are members.
	ListChatsWithBoth(ctx context.Context, userID, otherID int64) ([]*domain.Chat, error)

	// SearchChatsByName returns group chats the user is a member of whose
	// name contains the text, case-insensitively.
	SearchChatsByName(ctx context.Context, text string, memberID int64) ([]*domain.Chat, error)

	// LastMessageTimes returns the timestamp of the newest message for each
	// of the given chats. Chats with no messages are absent from the map.
	LastMessageTimes(ctx context.Context, chatIDs []int64) (map[int64]time.Time, error)
}

// MessageStore handles message persistence and read receipts.
type MessageStore interface {
	// CreateMessage persists a message and its initial read-by set, and
	// returns the stored message with its assigned ID.
	CreateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// GetMessageByID retrieves a message with its read-by set loaded.
	GetMessageByID(ctx context.Context, id int64) (*domain.Message, error)

	// UpdateMessage writes the message row and its read-by set in one
	// transaction, guarded by the message's version like ChatStore.UpdateChat.
	UpdateMessage(ctx context.Context, msg *domain.Message) (*domain.Message, error)

	// DeleteMessage removes a message and its read receipts.
	DeleteMessage(ctx context.Context, id int64) error

	// ListMessagesByChat returns all messages of a chat in insertion order.
	ListMessagesByChat(ctx context.Context, chatID int64) ([]*domain.Message, error)

	// SearchMessages returns messages of a chat whose content contains the
	// text, case-insensitively, newest first.
	SearchMessages(ctx context.Context, chatID int64, text string) ([]*domain.Message, error)

	// LastMessageFromUser returns the newest message a user sent in a chat,
	// or domain.KindNotFound if they sent none.
	LastMessageFromUser(ctx context.Context, chatID, userID int64) (*domain.Message, error)

	// MarkChatRead adds the user to the read-by set of every message
	// currently in the chat, in one transaction.
	MarkChatRead(ctx context.Context, chatID, userID int64) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
