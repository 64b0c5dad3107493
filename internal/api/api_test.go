// ABOUTME: Tests for the REST boundary
// ABOUTME: Register-or-login, auth enforcement, conversation start and history

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/auth"
	"github.com/parleychat/relay/internal/presence"
	"github.com/parleychat/relay/internal/relay"
	"github.com/parleychat/relay/internal/store"
)

type testAPI struct {
	store    *store.MockStore
	verifier *auth.JWTVerifier
	registry *presence.Registry
	mux      *http.ServeMux
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	st := store.NewMockStore()
	verifier, err := auth.NewJWTVerifier([]byte("test-secret"))
	require.NoError(t, err)

	registry := presence.NewRegistry(presence.NewBroadcaster(nil), nil)
	// Deterministic pick: always the first admin in list order.
	assigner := relay.NewAssigner(st, st, func(n int) int { return 0 }, nil)
	gate := relay.NewGate(st)
	router := relay.NewRouter(gate, st, st, registry, nil)

	api := New(st, verifier, time.Hour, assigner, gate, router, registry, nil)
	mux := http.NewServeMux()
	api.Routes(mux)

	return &testAPI{store: st, verifier: verifier, registry: registry, mux: mux}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(payload)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, path, reqBody)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ta *testAPI) seedAdmin(t *testing.T, id, email, password string) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	require.NoError(t, ta.store.CreateUser(context.Background(), &store.User{
		ID:           id,
		FullName:     "Admin " + id,
		Email:        email,
		PasswordHash: hash,
		Role:         store.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}))
}

func (ta *testAPI) tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := ta.verifier.Generate(userID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRegisterOrLoginCreatesGuest(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/user/register-or-login", "", RegisterOrLoginRequest{
		FullName: "Grace Guest",
		Email:    "grace@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[RegisterOrLoginResponse](t, rec)
	assert.Equal(t, "Grace Guest", resp.User.FullName)
	assert.Equal(t, store.RoleGuest, resp.User.Role)
	require.NotEmpty(t, resp.Token)

	claims, err := ta.verifier.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
}

func TestRegisterOrLoginReturningGuest(t *testing.T) {
	ta := newTestAPI(t)

	first := decodeBody[RegisterOrLoginResponse](t, ta.do(t, http.MethodPost,
		"/api/user/register-or-login", "", RegisterOrLoginRequest{FullName: "Grace", Email: "grace@example.com"}))

	rec := ta.do(t, http.MethodPost, "/api/user/register-or-login", "",
		RegisterOrLoginRequest{FullName: "Someone Else", Email: "grace@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	second := decodeBody[RegisterOrLoginResponse](t, rec)
	assert.Equal(t, first.User.ID, second.User.ID, "same email must return the same identity")
	assert.Equal(t, "Grace", second.User.FullName, "the stored name wins")
}

func TestRegisterOrLoginValidation(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/user/register-or-login", "",
		RegisterOrLoginRequest{Email: "grace@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAdminsIsPublicAndSanitized(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAdmin(t, "admin-1", "admin@example.com", "hunter2")

	rec := ta.do(t, http.MethodGet, "/api/user/admins", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	admins := decodeBody[[]UserResponse](t, rec)
	require.Len(t, admins, 1)
	assert.Equal(t, "admin-1", admins[0].ID)
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	assert.NotContains(t, rec.Body.String(), "$2a$")
}

func TestStartConversationRequiresAuth(t *testing.T) {
	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/user/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ta.do(t, http.MethodPost, "/api/user/conversations", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartConversationAssignsAdmin(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAdmin(t, "admin-1", "admin@example.com", "hunter2")
	token := ta.tokenFor(t, "guest-1", store.RoleGuest)

	rec := ta.do(t, http.MethodPost, "/api/user/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string]ConversationResponse](t, rec)
	conv := resp["conversation"]
	assert.Equal(t, "admin-1", conv.AdminID)
	assert.Equal(t, "guest-1", conv.UserID)

	// Starting again returns the same conversation.
	rec = ta.do(t, http.MethodPost, "/api/user/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decodeBody[map[string]ConversationResponse](t, rec)
	assert.Equal(t, conv.ID, again["conversation"].ID)
}

func TestStartConversationNoAdmins(t *testing.T) {
	ta := newTestAPI(t)
	token := ta.tokenFor(t, "guest-1", store.RoleGuest)

	rec := ta.do(t, http.MethodPost, "/api/user/conversations", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedConversation(t *testing.T, st *store.MockStore, id, adminID, userID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateConversation(context.Background(), &store.Conversation{
		ID: id, AdminID: adminID, UserID: userID, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestSendAndGetMessages(t *testing.T) {
	ta := newTestAPI(t)
	require.NoError(t, ta.store.CreateUser(context.Background(), &store.User{
		ID: "guest-1", FullName: "Grace Guest", Email: "grace@example.com",
		Role: store.RoleGuest, CreatedAt: time.Now().UTC(),
	}))
	seedConversation(t, ta.store, "conv-1", "admin-1", "guest-1")
	token := ta.tokenFor(t, "guest-1", store.RoleGuest)

	rec := ta.do(t, http.MethodPost, "/api/conversations/conv-1/messages", token,
		SendMessageRequest{Body: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	sent := decodeBody[map[string]MessageResponse](t, rec)
	msg := sent["message"]
	assert.Equal(t, "guest-1", msg.SenderID)
	assert.Equal(t, "Grace Guest", msg.SenderName)
	assert.Equal(t, "hello", msg.Body)

	rec = ta.do(t, http.MethodGet, "/api/conversations/conv-1/messages", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	history := decodeBody[MessagesResponse](t, rec)
	assert.Equal(t, "conv-1", history.ConversationID)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello", history.Messages[0].Body)
}

func TestSendMessageErrorsAreStructured(t *testing.T) {
	ta := newTestAPI(t)
	seedConversation(t, ta.store, "conv-1", "admin-1", "guest-1")

	tests := []struct {
		name       string
		userID     string
		path       string
		body       SendMessageRequest
		wantStatus int
	}{
		{"unknown conversation", "guest-1", "/api/conversations/nope/messages", SendMessageRequest{Body: "hi"}, http.StatusNotFound},
		{"not a member", "intruder", "/api/conversations/conv-1/messages", SendMessageRequest{Body: "hi"}, http.StatusForbidden},
		{"empty body", "guest-1", "/api/conversations/conv-1/messages", SendMessageRequest{ReceiverID: "admin-1"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := ta.tokenFor(t, tt.userID, store.RoleGuest)
			rec := ta.do(t, http.MethodPost, tt.path, token, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody[map[string]string](t, rec)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetMessagesMembershipEnforced(t *testing.T) {
	ta := newTestAPI(t)
	seedConversation(t, ta.store, "conv-1", "admin-1", "guest-1")
	token := ta.tokenFor(t, "intruder", store.RoleGuest)

	rec := ta.do(t, http.MethodGet, "/api/conversations/conv-1/messages", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminLogin(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAdmin(t, "admin-1", "admin@example.com", "hunter2")

	rec := ta.do(t, http.MethodPost, "/api/admin/login", "",
		AdminLoginRequest{Email: "admin@example.com", Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[AdminLoginResponse](t, rec)
	assert.Equal(t, "admin-1", resp.AdminID)

	claims, err := ta.verifier.Verify(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, store.RoleAdmin, claims.Role)
}

func TestAdminLoginFailures(t *testing.T) {
	ta := newTestAPI(t)
	ta.seedAdmin(t, "admin-1", "admin@example.com", "hunter2")

	t.Run("wrong password", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/admin/login", "",
			AdminLoginRequest{Email: "admin@example.com", Password: "wrong"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/admin/login", "",
			AdminLoginRequest{Email: "nobody@example.com", Password: "hunter2"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("guest cannot use admin login", func(t *testing.T) {
		require.NoError(t, ta.store.CreateUser(context.Background(), &store.User{
			ID: "guest-1", FullName: "Grace", Email: "grace@example.com",
			Role: store.RoleGuest, CreatedAt: time.Now().UTC(),
		}))
		rec := ta.do(t, http.MethodPost, "/api/admin/login", "",
			AdminLoginRequest{Email: "grace@example.com", Password: "anything"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCreateAdminRequiresAdminRole(t *testing.T) {
	ta := newTestAPI(t)
	guestToken := ta.tokenFor(t, "guest-1", store.RoleGuest)

	rec := ta.do(t, http.MethodPost, "/api/admin/users", guestToken,
		CreateAdminRequest{FullName: "New Admin", Email: "new@example.com", Password: "secret"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAdmin(t *testing.T) {
	ta := newTestAPI(t)
	ownerToken := ta.tokenFor(t, "owner-1", store.RoleOwner)

	rec := ta.do(t, http.MethodPost, "/api/admin/users", ownerToken,
		CreateAdminRequest{FullName: "New Admin", Email: "new@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	created := decodeBody[UserResponse](t, rec)
	assert.Equal(t, store.RoleAdmin, created.Role)

	// Duplicate email is rejected.
	rec = ta.do(t, http.MethodPost, "/api/admin/users", ownerToken,
		CreateAdminRequest{FullName: "Again", Email: "new@example.com", Password: "secret"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The new admin can log in.
	rec = ta.do(t, http.MethodPost, "/api/admin/login", "",
		AdminLoginRequest{Email: "new@example.com", Password: "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminConversations(t *testing.T) {
	ta := newTestAPI(t)
	seedConversation(t, ta.store, "conv-1", "admin-1", "guest-1")
	seedConversation(t, ta.store, "conv-2", "admin-1", "guest-2")
	seedConversation(t, ta.store, "conv-3", "admin-2", "guest-3")
	token := ta.tokenFor(t, "admin-1", store.RoleAdmin)

	rec := ta.do(t, http.MethodGet, "/api/admin/conversations", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[map[string][]ConversationResponse](t, rec)
	assert.Len(t, resp["conversations"], 2)
}

func TestExpiredTokenRejected(t *testing.T) {
	ta := newTestAPI(t)
	expired, err := ta.verifier.Generate("guest-1", store.RoleGuest, -time.Minute)
	require.NoError(t, err)

	rec := ta.do(t, http.MethodPost, "/api/user/conversations", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
