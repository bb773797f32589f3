package domain

import (
	"fmt"
	"sort"
	"time"
)

// ChatKind defines the two conversation shapes.
type ChatKind string

const (
	ChatKindSingle ChatKind = "single"
	ChatKindGroup  ChatKind = "group"
)

// Chat is a conversation container. Member and admin sets are unexported:
// callers read them through sorted copies and mutate them through explicit
// methods, so internal state can never be changed behind the entity's back.
type Chat struct {
	ID        int64
	Kind      ChatKind
	Name      string // group chats only
	OwnerID   int64
	Version   int64
	CreatedAt time.Time

	members map[int64]struct{}
	admins  map[int64]struct{}
}

// NewSingleChat builds a direct chat between two users. The creator is the
// owner; single chats have no admin semantics.
func NewSingleChat(creatorID, otherID int64) *Chat {
	return &Chat{
		Kind:    ChatKindSingle,
		OwnerID: creatorID,
		members: map[int64]struct{}{creatorID: {}, otherID: {}},
		admins:  map[int64]struct{}{},
	}
}

// NewGroupChat builds a group chat. The creator is always a member, the
// owner and the sole initial admin.
func NewGroupChat(creatorID int64, name string, memberIDs []int64) *Chat {
	members := map[int64]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}
	return &Chat{
		Kind:    ChatKindGroup,
		Name:    name,
		OwnerID: creatorID,
		members: members,
		admins:  map[int64]struct{}{creatorID: {}},
	}
}

// RestoreChat rebuilds a chat from persisted state. Used by storage
// implementations only.
func RestoreChat(id int64, kind ChatKind, name string, ownerID, version int64, createdAt time.Time, memberIDs, adminIDs []int64) *Chat {
	c := &Chat{
		ID:        id,
		Kind:      kind,
		Name:      name,
		OwnerID:   ownerID,
		Version:   version,
		CreatedAt: createdAt,
		members:   make(map[int64]struct{}, len(memberIDs)),
		admins:    make(map[int64]struct{}, len(adminIDs)),
	}
	for _, id := range memberIDs {
		c.members[id] = struct{}{}
	}
	for _, id := range adminIDs {
		c.admins[id] = struct{}{}
	}
	return c
}

// IsMember reports whether the user belongs to the chat.
func (c *Chat) IsMember(userID int64) bool {
	_, ok := c.members[userID]
	return ok
}

// IsAdmin reports whether the user is an admin of the chat.
func (c *Chat) IsAdmin(userID int64) bool {
	_, ok := c.admins[userID]
	return ok
}

// Members returns a sorted copy of the member set.
func (c *Chat) Members() []int64 {
	return sortedIDs(c.members)
}

// Admins returns a sorted copy of the admin set.
func (c *Chat) Admins() []int64 {
	return sortedIDs(c.admins)
}

// AddMember inserts a user into the member set. Returns true if newly added.
func (c *Chat) AddMember(userID int64) bool {
	if _, ok := c.members[userID]; ok {
		return false
	}
	c.members[userID] = struct{}{}
	return true
}

// RemoveMember deletes a user from the member set and strips any admin
// status, keeping admins a subset of members. Returns true if removed.
func (c *Chat) RemoveMember(userID int64) bool {
	if _, ok := c.members[userID]; !ok {
		return false
	}
	delete(c.members, userID)
	delete(c.admins, userID)
	return true
}

// Promote adds a member to the admin set.
func (c *Chat) Promote(userID int64) error {
	if c.Kind != ChatKindGroup {
		return E(KindInvalidOperation, "chat %d is not a group chat", c.ID)
	}
	if !c.IsMember(userID) {
		return E(KindPermissionDenied, "user %d is not a member of chat %d", userID, c.ID)
	}
	if c.IsAdmin(userID) {
		return E(KindConflict, "user %d is already an admin of chat %d", userID, c.ID)
	}
	c.admins[userID] = struct{}{}
	return nil
}

// TransferOwner makes the target the new owner, auto-promoting them to
// admin. The previous owner keeps their admin status.
func (c *Chat) TransferOwner(newOwnerID int64) error {
	if c.Kind != ChatKindGroup {
		return E(KindInvalidOperation, "chat %d is not a group chat", c.ID)
	}
	if !c.IsMember(newOwnerID) {
		return E(KindPermissionDenied, "user %d is not a member of chat %d", newOwnerID, c.ID)
	}
	if newOwnerID == c.OwnerID {
		return E(KindInvalidOperation, "user %d already owns chat %d", newOwnerID, c.ID)
	}
	c.OwnerID = newOwnerID
	c.admins[newOwnerID] = struct{}{}
	return nil
}

// Validate checks the structural invariants of a chat.
func (c *Chat) Validate() error {
	if !c.IsMember(c.OwnerID) {
		return fmt.Errorf("chat %d: owner %d is not a member", c.ID, c.OwnerID)
	}
	for id := range c.admins {
		if !c.IsMember(id) {
			return fmt.Errorf("chat %d: admin %d is not a member", c.ID, id)
		}
	}
	if c.Kind == ChatKindSingle {
		if len(c.members) != 2 {
			return fmt.Errorf("chat %d: single chat has %d members", c.ID, len(c.members))
		}
		if len(c.admins) != 0 {
			return fmt.Errorf("chat %d: single chat has admins", c.ID)
		}
	}
	return nil
}

// DirectKey is the canonical dedup key for a single chat between two users,
// independent of who initiates it.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
