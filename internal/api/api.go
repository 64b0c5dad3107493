// ABOUTME: HTTP API handlers for registration, login, conversations and history
// ABOUTME: The REST boundary surfaces structured error codes the socket path lacks

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parleychat/relay/internal/auth"
	"github.com/parleychat/relay/internal/presence"
	"github.com/parleychat/relay/internal/relay"
	"github.com/parleychat/relay/internal/store"
)

// EventGetMessages is the outbound event pushing a conversation's history to
// live members when a collaborator requests it over REST.
const EventGetMessages = "getMessages"

// API exposes the REST boundary of the relay.
type API struct {
	store    store.Store
	verifier *auth.JWTVerifier
	tokenTTL time.Duration
	assigner *relay.Assigner
	gate     *relay.Gate
	router   *relay.Router
	registry *presence.Registry
	logger   *slog.Logger
}

// New creates the API. Pass nil logger for default.
func New(st store.Store, verifier *auth.JWTVerifier, tokenTTL time.Duration,
	assigner *relay.Assigner, gate *relay.Gate, router *relay.Router,
	registry *presence.Registry, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:    st,
		verifier: verifier,
		tokenTTL: tokenTTL,
		assigner: assigner,
		gate:     gate,
		router:   router,
		registry: registry,
		logger:   logger.With("component", "api"),
	}
}

// Routes registers all REST endpoints on the given mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/user/register-or-login", a.handleRegisterOrLogin)
	mux.HandleFunc("GET /api/user/admins", a.handleListAdmins)
	mux.Handle("POST /api/user/conversations", a.requireAuth(a.handleStartConversation))
	mux.Handle("GET /api/conversations/{id}/messages", a.requireAuth(a.handleGetMessages))
	mux.Handle("POST /api/conversations/{id}/messages", a.requireAuth(a.handleSendMessage))
	mux.HandleFunc("POST /api/admin/login", a.handleAdminLogin)
	mux.Handle("POST /api/admin/users", a.requireAuth(a.handleCreateAdmin, store.RoleAdmin, store.RoleOwner))
	mux.Handle("GET /api/admin/users", a.requireAuth(a.handleListUsers, store.RoleAdmin, store.RoleOwner))
	mux.Handle("GET /api/admin/conversations", a.requireAuth(a.handleAdminConversations, store.RoleAdmin, store.RoleOwner))
}

// UserResponse is the sanitized wire form of a user.
type UserResponse struct {
	ID        string `json:"id"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CreatedAt string `json:"createdAt"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		FullName:  u.FullName,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ConversationResponse is the wire form of a conversation.
type ConversationResponse struct {
	ID        string `json:"id"`
	AdminID   string `json:"adminId"`
	UserID    string `json:"userId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        c.ID,
		AdminID:   c.AdminID,
		UserID:    c.UserID,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// MessageResponse is the wire form of a stored message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Body           string `json:"body"`
	SentAt         string `json:"sentAt"`
}

func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		Body:           m.Body,
		SentAt:         m.SentAt.UTC().Format(time.RFC3339Nano),
	}
}

// RegisterOrLoginRequest is the JSON request body for POST /api/user/register-or-login.
type RegisterOrLoginRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// RegisterOrLoginResponse carries the user and a bearer token.
type RegisterOrLoginResponse struct {
	User  UserResponse `json:"user"`
	Token string       `json:"token"`
}

// handleRegisterOrLogin upserts a guest by email and issues a token.
func (a *API) handleRegisterOrLogin(w http.ResponseWriter, r *http.Request) {
	var req RegisterOrLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FullName == "" || req.Email == "" {
		a.sendJSONError(w, http.StatusBadRequest, "fullName and email are required")
		return
	}

	user, err := a.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		user = &store.User{
			ID:        uuid.New().String(),
			FullName:  req.FullName,
			Email:     req.Email,
			Role:      store.RoleGuest,
			CreatedAt: time.Now().UTC(),
		}
		if createErr := a.store.CreateUser(r.Context(), user); createErr != nil {
			a.logger.Error("creating guest failed", "email", req.Email, "error", createErr)
			a.sendJSONError(w, http.StatusInternalServerError, "internal error")
			return
		}
	} else if err != nil {
		a.logger.Error("user lookup failed", "email", req.Email, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := a.verifier.Generate(user.ID, user.Role, a.tokenTTL)
	if err != nil {
		a.logger.Error("token generation failed", "user_id", user.ID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.sendJSON(w, http.StatusOK, RegisterOrLoginResponse{
		User:  userResponse(user),
		Token: token,
	})
}

// handleListAdmins returns all admin identities, without credentials.
func (a *API) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := a.store.ListAdmins(r.Context())
	if err != nil {
		a.logger.Error("listing admins failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]UserResponse, 0, len(admins))
	for _, admin := range admins {
		response = append(response, userResponse(admin))
	}
	a.sendJSON(w, http.StatusOK, response)
}

// handleStartConversation assigns an admin to the calling user and returns
// the (possibly pre-existing) conversation.
func (a *API) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	conv, err := a.assigner.AssignAdmin(r.Context(), claims.UserID)
	if errors.Is(err, relay.ErrNoAdminAvailable) {
		a.sendJSONError(w, http.StatusNotFound, "no admins available to start a conversation")
		return
	}
	if err != nil {
		a.logger.Error("assignment failed", "user_id", claims.UserID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.sendJSON(w, http.StatusOK, map[string]ConversationResponse{
		"conversation": conversationResponse(conv),
	})
}

// MessagesResponse is the JSON response for GET /api/conversations/{id}/messages
// and the payload of the getMessages socket event.
type MessagesResponse struct {
	ConversationID string            `json:"conversationId"`
	Messages       []MessageResponse `json:"messages"`
}

// handleGetMessages returns a conversation's history and additionally pushes
// it to both members' live connections, if any.
func (a *API) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	conversationID := r.PathValue("id")

	conv, err := a.gate.Authorize(r.Context(), claims.UserID, conversationID)
	if err != nil {
		a.sendRelayError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			a.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	messages, err := a.store.ListMessages(r.Context(), conv.ID, limit)
	if err != nil {
		a.logger.Error("listing messages failed", "conversation_id", conv.ID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := MessagesResponse{
		ConversationID: conv.ID,
		Messages:       make([]MessageResponse, 0, len(messages)),
	}
	for _, m := range messages {
		response.Messages = append(response.Messages, messageResponse(m))
	}

	// Best-effort push to whoever is connected right now.
	for _, memberID := range []string{conv.AdminID, conv.UserID} {
		if conn, ok := a.registry.Lookup(memberID); ok {
			if err := conn.Send(EventGetMessages, response); err != nil {
				a.logger.Debug("history push failed",
					"user_id", memberID, "conn_id", conn.ID(), "error", err)
			}
		}
	}

	a.sendJSON(w, http.StatusOK, response)
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
// ReceiverID is optional; it defaults to the other conversation member.
type SendMessageRequest struct {
	ReceiverID string `json:"receiverId,omitempty"`
	Body       string `json:"body"`
}

// handleSendMessage runs the REST send path through the same router as the
// socket path, but reports failures as structured errors.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	conversationID := r.PathValue("id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	receiverID := req.ReceiverID
	if receiverID == "" {
		conv, err := a.gate.Authorize(r.Context(), claims.UserID, conversationID)
		if err != nil {
			a.sendRelayError(w, err)
			return
		}
		receiverID = conv.OtherMember(claims.UserID)
	}

	msg, err := a.router.Route(r.Context(), claims.UserID, receiverID, req.Body, conversationID)
	if err != nil {
		a.sendRelayError(w, err)
		return
	}

	a.sendJSON(w, http.StatusOK, map[string]MessageResponse{
		"message": messageResponse(msg),
	})
}

// AdminLoginRequest is the JSON request body for POST /api/admin/login.
type AdminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminLoginResponse carries the admin's token and ID.
type AdminLoginResponse struct {
	Token   string `json:"token"`
	AdminID string `json:"adminId"`
}

// handleAdminLogin checks admin credentials and issues a token.
func (a *API) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		a.sendJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := a.store.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) || (err == nil && user.Role == store.RoleGuest) {
		a.sendJSONError(w, http.StatusNotFound, "admin user not found")
		return
	}
	if err != nil {
		a.logger.Error("admin lookup failed", "email", req.Email, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	token, err := a.verifier.Generate(user.ID, user.Role, a.tokenTTL)
	if err != nil {
		a.logger.Error("token generation failed", "user_id", user.ID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.sendJSON(w, http.StatusOK, AdminLoginResponse{Token: token, AdminID: user.ID})
}

// CreateAdminRequest is the JSON request body for POST /api/admin/users.
type CreateAdminRequest struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleCreateAdmin creates a new admin operator.
func (a *API) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req CreateAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FullName == "" || req.Email == "" || req.Password == "" {
		a.sendJSONError(w, http.StatusBadRequest, "fullName, email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		a.logger.Error("hashing password failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	admin := &store.User{
		ID:           uuid.New().String(),
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         store.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(r.Context(), admin); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			a.sendJSONError(w, http.StatusBadRequest, "admin user already exists")
			return
		}
		a.logger.Error("creating admin failed", "email", req.Email, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	a.sendJSON(w, http.StatusOK, userResponse(admin))
}

// handleListUsers returns all non-admin users for the admin UI.
func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.store.ListUsers(r.Context())
	if err != nil {
		a.logger.Error("listing users failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, userResponse(u))
	}
	a.sendJSON(w, http.StatusOK, response)
}

// handleAdminConversations returns the calling admin's conversations.
func (a *API) handleAdminConversations(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	convs, err := a.store.ListConversationsByMember(r.Context(), claims.UserID)
	if err != nil {
		a.logger.Error("listing conversations failed", "admin_id", claims.UserID, "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	response := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		response = append(response, conversationResponse(c))
	}
	a.sendJSON(w, http.StatusOK, map[string][]ConversationResponse{
		"conversations": response,
	})
}

// sendRelayError maps relay sentinel errors onto HTTP status codes.
func (a *API) sendRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrConversationNotFound):
		a.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, relay.ErrNotAMember):
		a.sendJSONError(w, http.StatusForbidden, "not a member of this conversation")
	case errors.Is(err, relay.ErrInvalidMessage):
		a.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error("send failed", "error", err)
		a.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("encoding response failed", "error", err)
	}
}

func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	a.sendJSON(w, status, map[string]string{"error": message})
}
