package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/poputchik/chat-server/internal/domain"
	"github.com/poputchik/chat-server/internal/store"
)

// Service owns chat lifecycle, membership and privilege rules. Every
// operation takes the requester's user id explicitly; nothing here reads
// ambient caller state.
type Service struct {
	store store.Store
}

// New creates a new chat directory service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// CreateSingleChat returns the direct chat between the requester and the
// other user, creating it if it does not exist yet. Repeated calls from
// either side land on the same chat.
func (s *Service) CreateSingleChat(ctx context.Context, requesterID, otherID int64) (*domain.Chat, error) {
	if requesterID == otherID {
		return nil, domain.E(domain.KindInvalidOperation, "cannot open a direct chat with yourself")
	}

	if _, err := s.store.GetUserByID(ctx, otherID); err != nil {
		return nil, err
	}

	existing, err := s.store.GetChatByDirectKey(ctx, domain.DirectKey(requesterID, otherID))
	if err == nil {
		return existing, nil
	}
	if !domain.IsKind(err, domain.KindNotFound) {
		return nil, fmt.Errorf("look up direct chat: %w", err)
	}

	return s.store.CreateChat(ctx, domain.NewSingleChat(requesterID, otherID))
}

// CreateGroupChat creates a named group chat. The requester becomes a
// member, the owner and the sole initial admin.
func (s *Service) CreateGroupChat(ctx context.Context, requesterID int64, name string, memberIDs []int64) (*domain.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.E(domain.KindInvalidOperation, "group name cannot be empty")
	}

	for _, id := range memberIDs {
		if _, err := s.store.GetUserByID(ctx, id); err != nil {
			return nil, err
		}
	}

	return s.store.CreateChat(ctx, domain.NewGroupChat(requesterID, name, memberIDs))
}

// AddMember adds a user to a group chat. Re-adding an existing member is a
// no-op, not an error.
func (s *Service) AddMember(ctx context.Context, chatID, requesterID, userID int64) (*domain.Chat, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind != domain.ChatKindGroup {
		return nil, domain.E(domain.KindInvalidOperation, "membership of a direct chat is fixed")
	}
	if !chat.IsAdmin(requesterID) {
		return nil, domain.E(domain.KindPermissionDenied, "user %d is not an admin of chat %d", requesterID, chatID)
	}

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	if !chat.AddMember(userID) {
		return chat, nil
	}
	return s.store.UpdateChat(ctx, chat)
}

// RemoveMember removes a user from a group chat. Admins may remove anyone
// but the owner; a plain member may only remove themselves. Removal strips
// the removed user's admin status.
func (s *Service) RemoveMember(ctx context.Context, chatID, requesterID, userID int64) (*domain.Chat, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind != domain.ChatKindGroup {
		return nil, domain.E(domain.KindInvalidOperation, "membership of a direct chat is fixed")
	}

	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	selfLeave := requesterID == userID && chat.IsMember(requesterID)
	if !chat.IsAdmin(requesterID) && !selfLeave {
		return nil, domain.E(domain.KindPermissionDenied, "user %d may not remove user %d from chat %d", requesterID, userID, chatID)
	}
	if userID == chat.OwnerID {
		return nil, domain.E(domain.KindInvalidOperation, "chat %d owner must transfer ownership before leaving", chatID)
	}

	if !chat.RemoveMember(userID) {
		return chat, nil
	}
	return s.store.UpdateChat(ctx, chat)
}

// RenameGroup changes a group chat's display name.
func (s *Service) RenameGroup(ctx context.Context, chatID, requesterID int64, newName string) (*domain.Chat, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return nil, domain.E(domain.KindInvalidOperation, "group name cannot be empty")
	}

	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind != domain.ChatKindGroup {
		return nil, domain.E(domain.KindInvalidOperation, "direct chats have no display name")
	}
	if !chat.IsAdmin(requesterID) {
		return nil, domain.E(domain.KindPermissionDenied, "user %d is not an admin of chat %d", requesterID, chatID)
	}

	chat.Name = newName
	return s.store.UpdateChat(ctx, chat)
}

// PromoteToAdmin grants admin status to a member. Only the owner may
// promote; promoting an existing admin fails with a conflict.
func (s *Service) PromoteToAdmin(ctx context.Context, chatID, requesterID, userID int64) (*domain.Chat, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind != domain.ChatKindGroup {
		return nil, domain.E(domain.KindInvalidOperation, "direct chats have no admins")
	}
	if requesterID != chat.OwnerID {
		return nil, domain.E(domain.KindPermissionDenied, "only the owner of chat %d may promote admins", chatID)
	}

	if err := chat.Promote(userID); err != nil {
		return nil, err
	}
	return s.store.UpdateChat(ctx, chat)
}

// TransferOwnership hands the chat to another member, auto-promoting them
// to admin. The previous owner keeps admin status.
func (s *Service) TransferOwnership(ctx context.Context, chatID, requesterID, newOwnerID int64) (*domain.Chat, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Kind != domain.ChatKindGroup {
		return nil, domain.E(domain.KindInvalidOperation, "direct chats have no owner to transfer")
	}
	if requesterID != chat.OwnerID {
		return nil, domain.E(domain.KindPermissionDenied, "only the owner of chat %d may transfer ownership", chatID)
	}

	if err := chat.TransferOwner(newOwnerID); err != nil {
		return nil, err
	}
	return s.store.UpdateChat(ctx, chat)
}

// GetAdmins returns the admin set of a group chat, visible to members only.
func (s *Service) GetAdmins(ctx context.Context, chatID, requesterID int64) ([]int64, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsMember(requesterID) && !chat.IsAdmin(requesterID) {
		return nil, domain.E(domain.KindPermissionDenied, "user %d is not a member of chat %d", requesterID, chatID)
	}
	if chat.Kind != domain.ChatKindGroup {
		return nil, domain.E(domain.KindInvalidOperation, "direct chats have no admins")
	}
	return chat.Admins(), nil
}

// MarkAsRead adds the requester to the read-by set of every message
// currently in the chat. Repeated calls are no-ops.
func (s *Service) MarkAsRead(ctx context.Context, chatID, requesterID int64) (*domain.Chat, error) {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsMember(requesterID) {
		return nil, domain.E(domain.KindPermissionDenied, "user %d is not a member of chat %d", requesterID, chatID)
	}

	if err := s.store.MarkChatRead(ctx, chatID, requesterID); err != nil {
		return nil, err
	}
	return chat, nil
}

// DeleteChat removes a chat and everything it contains. Direct chats can be
// deleted by either side; group chats require admin status.
func (s *Service) DeleteChat(ctx context.Context, chatID, requesterID int64) error {
	chat, err := s.store.GetChatByID(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.Kind == domain.ChatKindGroup && !chat.IsAdmin(requesterID) {
		return domain.E(domain.KindPermissionDenied, "user %d is not an admin of chat %d", requesterID, chatID)
	}
	return s.store.DeleteChat(ctx, chatID)
}

// SearchByName finds group chats the requester belongs to by name substring,
// case-insensitively.
func (s *Service) SearchByName(ctx context.Context, text string, requesterID int64) ([]*domain.Chat, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.E(domain.KindInvalidOperation, "search text cannot be empty")
	}
	return s.store.SearchChatsByName(ctx, text, requesterID)
}

// FindChatsWithUser returns chats where both the requester and the target
// are members.
func (s *Service) FindChatsWithUser(ctx context.Context, targetUserID, requesterID int64) ([]*domain.Chat, error) {
	if _, err := s.store.GetUserByID(ctx, targetUserID); err != nil {
		return nil, err
	}
	if targetUserID == requesterID {
		return nil, domain.E(domain.KindInvalidOperation, "cannot search chats with yourself")
	}
	return s.store.ListChatsWithBoth(ctx, requesterID, targetUserID)
}

// FindAllByUser returns all chats containing the user, most recently
// messaged first. Chats without messages sort after all chats with messages,
// keeping their storage order among themselves.
func (s *Service) FindAllByUser(ctx context.Context, userID int64) ([]*domain.Chat, error) {
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	chats, err := s.store.ListChatsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(chats))
	for i, c := range chats {
		ids[i] = c.ID
	}
	lastAt, err := s.store.LastMessageTimes(ctx, ids)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(chats, func(i, j int) bool {
		ti, iOK := lastAt[chats[i].ID]
		tj, jOK := lastAt[chats[j].ID]
		switch {
		case iOK && jOK:
			return ti.After(tj)
		case iOK:
			return true
		default:
			return false
		}
	})

	return chats, nil
}

// FindByID retrieves a chat by id.
func (s *Service) FindByID(ctx context.Context, chatID int64) (*domain.Chat, error) {
	return s.store.GetChatByID(ctx, chatID)
}
