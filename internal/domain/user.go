package domain

import "time"

// User is the external identity referenced by chats and messages. This core
// never mutates users; accounts are managed elsewhere.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}
