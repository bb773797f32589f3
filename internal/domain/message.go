package domain

import "time"

// Message is a chat message. The read-by set is union-only: users are added
// when they acknowledge a message and never removed.
type Message struct {
	ID        int64
	ChatID    int64
	AuthorID  int64
	Content   string
	Version   int64
	CreatedAt time.Time

	readBy map[int64]struct{}
}

// NewMessage builds a message authored now. The author has implicitly read
// their own message.
func NewMessage(chatID, authorID int64, content string) *Message {
	return &Message{
		ChatID:    chatID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		readBy:    map[int64]struct{}{authorID: {}},
	}
}

// RestoreMessage rebuilds a message from persisted state. Used by storage
// implementations only.
func RestoreMessage(id, chatID, authorID int64, content string, version int64, createdAt time.Time, readBy []int64) *Message {
	m := &Message{
		ID:        id,
		ChatID:    chatID,
		AuthorID:  authorID,
		Content:   content,
		Version:   version,
		CreatedAt: createdAt,
		readBy:    make(map[int64]struct{}, len(readBy)),
	}
	for _, uid := range readBy {
		m.readBy[uid] = struct{}{}
	}
	return m
}

// WasReadBy reports whether the user has acknowledged the message.
func (m *Message) WasReadBy(userID int64) bool {
	_, ok := m.readBy[userID]
	return ok
}

// MarkReadBy adds the user to the read-by set. Returns true if newly added.
func (m *Message) MarkReadBy(userID int64) bool {
	if _, ok := m.readBy[userID]; ok {
		return false
	}
	m.readBy[userID] = struct{}{}
	return true
}

// ReadBy returns a sorted copy of the read-by set.
func (m *Message) ReadBy() []int64 {
	return sortedIDs(m.readBy)
}
