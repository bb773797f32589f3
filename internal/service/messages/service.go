package messages

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/poputchik/chat-server/internal/domain"
	"github.com/poputchik/chat-server/internal/notify"
	"github.com/poputchik/chat-server/internal/service/directory"
	"github.com/poputchik/chat-server/internal/store"
)

// Service owns message mutation and read-state rules. Chat existence and
// membership come from the directory; fan-out goes through the notifier and
// never delays or rolls back a persisted write.
type Service struct {
	store     store.Store
	directory *directory.Service
	notifier  *notify.Notifier
	log       *zerolog.Logger
}

// New creates a new message service.
func New(st store.Store, dir *directory.Service, notifier *notify.Notifier, logger *zerolog.Logger) *Service {
	return &Service{
		store:     st,
		directory: dir,
		notifier:  notifier,
		log:       logger,
	}
}

// SendMessage persists a message authored by a chat member and fans it out
// to the chat's members. The author counts as having read their own message.
func (s *Service) SendMessage(ctx context.Context, chatID, authorID int64, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.E(domain.KindInvalidOperation, "message content cannot be empty")
	}

	chat, err := s.directory.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, authorID); err != nil {
		return nil, err
	}
	if !chat.IsMember(authorID) {
		return nil, domain.E(domain.KindPermissionDenied, "user %d is not a member of chat %d", authorID, chatID)
	}

	stored, err := s.store.CreateMessage(ctx, domain.NewMessage(chatID, authorID, content))
	if err != nil {
		return nil, err
	}

	// Fan-out is best-effort and off the persistence path.
	members := chat.Members()
	go s.notifier.MessageCreated(stored, members)

	s.log.Debug().Int64("chat_id", chatID).Int64("message_id", stored.ID).Int64("author_id", authorID).Msg("message sent")
	return stored, nil
}

// GetChatMessages returns all messages of a chat in insertion order,
// visible to members only.
func (s *Service) GetChatMessages(ctx context.Context, chatID, requesterID int64) ([]*domain.Message, error) {
	if err := s.requireMember(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	return s.store.ListMessagesByChat(ctx, chatID)
}

// UpdateMessageContent replaces a message's content in place. Only the
// author may edit; no edit history is kept.
func (s *Service) UpdateMessageContent(ctx context.Context, messageID int64, newContent string, requesterID int64) (*domain.Message, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, domain.E(domain.KindInvalidOperation, "message content cannot be empty")
	}

	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.AuthorID != requesterID {
		return nil, domain.E(domain.KindPermissionDenied, "user %d is not the author of message %d", requesterID, messageID)
	}

	msg.Content = newContent
	return s.store.UpdateMessage(ctx, msg)
}

// MarkMessageAsRead adds the requester to the message's read-by set.
// Re-reading is a no-op.
func (s *Service) MarkMessageAsRead(ctx context.Context, messageID, requesterID int64) (*domain.Message, error) {
	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, msg.ChatID, requesterID); err != nil {
		return nil, err
	}

	if !msg.MarkReadBy(requesterID) {
		return msg, nil
	}
	return s.store.UpdateMessage(ctx, msg)
}

// DeleteMessage removes a single message. Only the author may delete it.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID int64) error {
	msg, err := s.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.AuthorID != requesterID {
		return domain.E(domain.KindPermissionDenied, "user %d is not the author of message %d", requesterID, messageID)
	}
	return s.store.DeleteMessage(ctx, messageID)
}

// SearchByContent finds messages in a chat by content substring,
// case-insensitively, newest first.
func (s *Service) SearchByContent(ctx context.Context, text string, chatID, requesterID int64) ([]*domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.E(domain.KindInvalidOperation, "search text cannot be empty")
	}
	if err := s.requireMember(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	return s.store.SearchMessages(ctx, chatID, text)
}

// GetLastMessageFromUser returns the newest message the target user sent in
// the chat, or NotFound if they sent none.
func (s *Service) GetLastMessageFromUser(ctx context.Context, targetUserID, chatID, requesterID int64) (*domain.Message, error) {
	if err := s.requireMember(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, targetUserID); err != nil {
		return nil, err
	}
	return s.store.LastMessageFromUser(ctx, chatID, targetUserID)
}

func (s *Service) requireMember(ctx context.Context, chatID, userID int64) error {
	chat, err := s.directory.FindByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsMember(userID) {
		return domain.E(domain.KindPermissionDenied, "user %d is not a member of chat %d", userID, chatID)
	}
	return nil
}
