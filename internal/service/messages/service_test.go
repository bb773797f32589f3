package messages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poputchik/chat-server/internal/domain"
	"github.com/poputchik/chat-server/internal/log"
	"github.com/poputchik/chat-server/internal/notify"
	"github.com/poputchik/chat-server/internal/service/directory"
	"github.com/poputchik/chat-server/internal/store"
	"github.com/poputchik/chat-server/internal/store/sqlite"
)

type fixture struct {
	svc      *Service
	dir      *directory.Service
	store    store.Store
	notifier *notify.Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := directory.New(st)
	notifier := notify.New(4)
	return &fixture{
		svc:      New(st, dir, notifier, log.Nop()),
		dir:      dir,
		store:    st,
		notifier: notifier,
	}
}

func (f *fixture) users(t *testing.T, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		u, err := f.store.CreateUser(context.Background(), name)
		require.NoError(t, err)
		ids = append(ids, u.ID)
	}
	return ids
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob", "mallory")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(ctx, chat.ID, ids[0], "on my way")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, msg.ChatID)
	assert.Equal(t, ids[0], msg.AuthorID)
	assert.True(t, msg.WasReadBy(ids[0]), "author has read their own message")
	assert.False(t, msg.WasReadBy(ids[1]))

	_, err = f.svc.SendMessage(ctx, chat.ID, ids[0], "   ")
	assert.True(t, domain.IsKind(err, domain.KindInvalidOperation))

	_, err = f.svc.SendMessage(ctx, chat.ID, ids[2], "let me in")
	assert.True(t, domain.IsKind(err, domain.KindPermissionDenied), "non-member author: %v", err)

	_, err = f.svc.SendMessage(ctx, 9999, ids[0], "into the void")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestSendMessageFansOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)

	events, cancel := f.notifier.Subscribe(ids[1])
	defer cancel()

	msg, err := f.svc.SendMessage(ctx, chat.ID, ids[0], "ping")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, notify.EventMessageCreated, ev.Kind)
		assert.Equal(t, msg.ID, ev.MessageID)
		assert.Equal(t, chat.ID, ev.ChatID)
		assert.Equal(t, ids[0], ev.AuthorID)
		assert.Equal(t, "ping", ev.Content)
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered to chat member")
	}
}

func TestGetChatMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob", "mallory")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)
	first, err := f.svc.SendMessage(ctx, chat.ID, ids[0], "one")
	require.NoError(t, err)
	second, err := f.svc.SendMessage(ctx, chat.ID, ids[1], "two")
	require.NoError(t, err)

	msgs, err := f.svc.GetChatMessages(ctx, chat.ID, ids[1])
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID, "insertion order")
	assert.Equal(t, second.ID, msgs[1].ID)

	_, err = f.svc.GetChatMessages(ctx, chat.ID, ids[2])
	assert.True(t, domain.IsKind(err, domain.KindPermissionDenied))
}

func TestUpdateMessageContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, chat.ID, ids[0], "typo")
	require.NoError(t, err)

	_, err = f.svc.UpdateMessageContent(ctx, msg.ID, "hijacked", ids[1])
	assert.True(t, domain.IsKind(err, domain.KindPermissionDenied), "only the author edits: %v", err)

	_, err = f.svc.UpdateMessageContent(ctx, msg.ID, "", ids[0])
	assert.True(t, domain.IsKind(err, domain.KindInvalidOperation))

	edited, err := f.svc.UpdateMessageContent(ctx, msg.ID, "fixed", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "fixed", edited.Content)

	// the edit is what other members now see
	msgs, err := f.svc.GetChatMessages(ctx, chat.ID, ids[1])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fixed", msgs[0].Content)
}

func TestMarkMessageAsRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob", "mallory")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, chat.ID, ids[0], "read me")
	require.NoError(t, err)

	read, err := f.svc.MarkMessageAsRead(ctx, msg.ID, ids[1])
	require.NoError(t, err)
	assert.True(t, read.WasReadBy(ids[1]))

	again, err := f.svc.MarkMessageAsRead(ctx, msg.ID, ids[1])
	require.NoError(t, err)
	assert.ElementsMatch(t, read.ReadBy(), again.ReadBy())

	_, err = f.svc.MarkMessageAsRead(ctx, msg.ID, ids[2])
	assert.True(t, domain.IsKind(err, domain.KindPermissionDenied))
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(ctx, chat.ID, ids[0], "oops")
	require.NoError(t, err)

	err = f.svc.DeleteMessage(ctx, msg.ID, ids[1])
	assert.True(t, domain.IsKind(err, domain.KindPermissionDenied), "only the author deletes: %v", err)

	require.NoError(t, f.svc.DeleteMessage(ctx, msg.ID, ids[0]))
	_, err = f.store.GetMessageByID(ctx, msg.ID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestSearchByContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, chat.ID, ids[0], "Meet at the station")
	require.NoError(t, err)
	later, err := f.svc.SendMessage(ctx, chat.ID, ids[1], "which station exactly?")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, chat.ID, ids[0], "the north one")
	require.NoError(t, err)

	found, err := f.svc.SearchByContent(ctx, "station", chat.ID, ids[0])
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, later.ID, found[0].ID, "newest first")

	_, err = f.svc.SearchByContent(ctx, "", chat.ID, ids[0])
	assert.True(t, domain.IsKind(err, domain.KindInvalidOperation))
}

func TestGetLastMessageFromUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.users(t, "alice", "bob")

	chat, err := f.dir.CreateSingleChat(ctx, ids[0], ids[1])
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, chat.ID, ids[1], "first")
	require.NoError(t, err)
	second, err := f.svc.SendMessage(ctx, chat.ID, ids[1], "second")
	require.NoError(t, err)
	third, err := f.svc.SendMessage(ctx, chat.ID, ids[1], "third")
	require.NoError(t, err)

	last, err := f.svc.GetLastMessageFromUser(ctx, ids[1], chat.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, third.ID, last.ID)

	// deleting the newest shifts the answer to the previous one
	require.NoError(t, f.svc.DeleteMessage(ctx, third.ID, ids[1]))
	last, err = f.svc.GetLastMessageFromUser(ctx, ids[1], chat.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, second.ID, last.ID)

	_, err = f.svc.GetLastMessageFromUser(ctx, ids[0], chat.ID, ids[1])
	assert.True(t, domain.IsKind(err, domain.KindNotFound), "no messages from that user: %v", err)
}
