package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poputchik/chat-server/internal/auth"
	"github.com/poputchik/chat-server/internal/config"
	"github.com/poputchik/chat-server/internal/log"
	"github.com/poputchik/chat-server/internal/notify"
	"github.com/poputchik/chat-server/internal/service/directory"
	"github.com/poputchik/chat-server/internal/service/messages"
	"github.com/poputchik/chat-server/internal/store"
	"github.com/poputchik/chat-server/internal/store/sqlite"
)

type testAPI struct {
	handler http.Handler
	store   store.Store
	authCfg *auth.JWTConfig
	authSvc *auth.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := log.Nop()
	jwtCfg := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "poputchik",
		Audience: "poputchik-chat",
		TTL:      time.Hour,
	}
	authSvc := auth.NewService(st, jwtCfg)
	dir := directory.New(st)
	notifier := notify.New(4)
	msgs := messages.New(st, dir, notifier, logger)

	srv := NewServer(config.Default(), authSvc, dir, msgs, notifier, logger)
	return &testAPI{handler: srv.Handler, store: st, authCfg: jwtCfg, authSvc: authSvc}
}

// user creates a user and returns their id and a bearer token.
func (a *testAPI) user(t *testing.T, name string) (int64, string) {
	t.Helper()
	u, err := a.store.CreateUser(context.Background(), name)
	require.NoError(t, err)
	token, err := a.authSvc.Issue(context.Background(), u.ID)
	require.NoError(t, err)
	return u.ID, token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/chats", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// health stays open
	rec = api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenForDeletedUserRejected(t *testing.T) {
	api := newTestAPI(t)

	token, err := auth.GenerateToken(api.authCfg, 4242, "ghost")
	require.NoError(t, err)

	rec := api.do(t, http.MethodGet, "/api/chats", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSingleChatFlow(t *testing.T) {
	api := newTestAPI(t)
	aliceID, aliceToken := api.user(t, "alice")
	bobID, bobToken := api.user(t, "bob")

	rec := api.do(t, http.MethodPost, "/api/chats/single", aliceToken, gin.H{"user_id": bobID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var chat ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, "single", chat.Kind)
	assert.ElementsMatch(t, []int64{aliceID, bobID}, chat.Members)

	// the other side opening the same pair lands on the same chat
	rec = api.do(t, http.MethodPost, "/api/chats/single", bobToken, gin.H{"user_id": aliceID})
	require.Equal(t, http.StatusOK, rec.Code)
	var dup ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.Equal(t, chat.ID, dup.ID)

	rec = api.do(t, http.MethodPost, "/api/chats/single", aliceToken, gin.H{"user_id": aliceID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/chats/single", aliceToken, gin.H{"user_id": 9999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroupChatEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, aliceToken := api.user(t, "alice")
	bobID, bobToken := api.user(t, "bob")
	carolID, _ := api.user(t, "carol")

	rec := api.do(t, http.MethodPost, "/api/chats/group", aliceToken, gin.H{"name": "riders", "user_ids": []int64{bobID}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var chat ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))

	// non-admin add is forbidden
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/chats/%d/members/%d", chat.ID, carolID), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/chats/%d/members/%d", chat.ID, carolID), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/chats/%d/admins/%d", chat.ID, bobID), aliceToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// promoting twice conflicts
	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/chats/%d/admins/%d", chat.ID, bobID), aliceToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/chats/%d/name", chat.ID), aliceToken, gin.H{"name": "weekend riders"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/chats/search?name=weekend", aliceToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var found []ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, chat.ID, found[0].ID)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%d/admins", chat.ID), bobToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/chats/garbage", aliceToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, aliceToken := api.user(t, "alice")
	bobID, bobToken := api.user(t, "bob")
	_, malloryToken := api.user(t, "mallory")

	rec := api.do(t, http.MethodPost, "/api/chats/single", aliceToken, gin.H{"user_id": bobID})
	require.Equal(t, http.StatusOK, rec.Code)
	var chat ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))

	rec = api.do(t, http.MethodPost, "/api/messages", aliceToken, gin.H{"chat_id": chat.ID, "content": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "hello", msg.Content)

	// outsiders cannot post
	rec = api.do(t, http.MethodPost, "/api/messages", malloryToken, gin.H{"chat_id": chat.ID, "content": "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodGet, fmt.Sprintf("/api/messages/chat/%d", chat.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	// editing someone else's message is forbidden
	rec = api.do(t, http.MethodPut, fmt.Sprintf("/api/messages/%d/content", msg.ID), bobToken, gin.H{"content": "hacked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, fmt.Sprintf("/api/messages/%d/read", msg.ID), bobToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/messages/%d", msg.ID), aliceToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, http.MethodDelete, fmt.Sprintf("/api/messages/%d", msg.ID), aliceToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
