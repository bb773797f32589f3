package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poputchik/chat-server/internal/domain"
)

// EventMessageCreated is pushed to every chat member when a message lands.
const EventMessageCreated = "message_created"

// Event is the payload delivered on a user's live channel. The ID lets
// clients dedup the at-most-once stream.
type Event struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	ChatID    int64     `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type subscription struct {
	userID int64
	ch     chan Event
}

// Notifier fans newly created messages out to per-user live channels. It is
// a stateless relay: no acknowledgement, no retry, no persistence. A slow
// subscriber loses events instead of blocking the sender.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	bufSize int
}

// New creates a notifier. bufSize controls each subscriber's channel buffer.
func New(bufSize int) *Notifier {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Notifier{
		subs:    make(map[int]*subscription),
		bufSize: bufSize,
	}
}

// Subscribe returns a channel receiving the user's events and an
// unsubscribe function. A user may hold several subscriptions at once, one
// per live connection.
func (n *Notifier) Subscribe(userID int64) (<-chan Event, func()) {
	ch := make(chan Event, n.bufSize)
	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = &subscription{userID: userID, ch: ch}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Publish delivers an event to all of a user's subscriptions, dropping it
// for any subscription whose buffer is full.
func (n *Notifier) Publish(userID int64, ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, sub := range n.subs {
		if sub.userID != userID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Drop if slow consumer.
		}
	}
}

// MessageCreated fans a stored message out to every member of its chat.
func (n *Notifier) MessageCreated(msg *domain.Message, memberIDs []int64) {
	ev := Event{
		ID:        uuid.NewString(),
		Kind:      EventMessageCreated,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	for _, userID := range memberIDs {
		n.Publish(userID, ev)
	}
}
