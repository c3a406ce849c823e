package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/imbizlabs/imchat/internal/auth"
	"github.com/imbizlabs/imchat/internal/chat"
	"github.com/imbizlabs/imchat/internal/vendcreds"
	"github.com/imbizlabs/imchat/internal/ws"
)

// Handlers wires the store, token issuer, websocket hub and credential
// vendor into the HTTP surface.
type Handlers struct {
	store    *chat.Store
	tokens   *auth.Tokens
	hub      *ws.Hub
	vendor   *vendcreds.Vendor
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(store *chat.Store, tokens *auth.Tokens, hub *ws.Hub, vendor *vendcreds.Vendor, log *slog.Logger) *Handlers {
	return &Handlers{
		store:  store,
		tokens: tokens,
		hub:    hub,
		vendor: vendor,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API is consumed cross-origin by the web client.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.store.UserByUsername(r.Context(), req.Username)
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password))
	}
	if err != nil {
		// Same answer for unknown user and bad password.
		respondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		h.log.ErrorContext(r.Context(), "issue token", slog.Any("error", err))
		respondFailure(w, err)
		return
	}

	user.PasswordHash = ""
	respondOK(w, map[string]any{"token": token, "user": user})
}

func (h *Handlers) userByID(w http.ResponseWriter, r *http.Request) {
	user, err := h.store.UserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, err)
		return
	}
	user.PasswordHash = ""
	respondOK(w, user)
}

func (h *Handlers) contacts(w http.ResponseWriter, r *http.Request) {
	role := chat.Role(chi.URLParam(r, "role"))
	if role != chat.RoleExpert && role != chat.RoleEnterprise {
		respondError(w, http.StatusBadRequest, "Unknown contact role")
		return
	}

	var req struct {
		Search string `json:"search"`
		Page   int    `json:"page"`
		Limit  int    `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	users, page, err := h.store.Contacts(r.Context(), role, req.Search, req.Page, req.Limit)
	if err != nil {
		respondFailure(w, err)
		return
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	respondOK(w, map[string]any{
		"list":       users,
		"total":      page.Total,
		"page":       page.Page,
		"limit":      page.Limit,
		"totalPages": page.TotalPages,
	})
}

func (h *Handlers) listConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	convs, err := h.store.Conversations(r.Context(), id.UserID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondOK(w, convs)
}

func (h *Handlers) createConversation(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ParticipantID == "" {
		respondError(w, http.StatusBadRequest, "participantId is required")
		return
	}
	if req.ParticipantID == id.UserID {
		respondError(w, http.StatusBadRequest, "Cannot start a conversation with yourself")
		return
	}
	if _, err := h.store.UserByID(r.Context(), req.ParticipantID); err != nil {
		respondFailure(w, err)
		return
	}

	conv, err := h.store.EnsureConversation(r.Context(), id.UserID, req.ParticipantID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondOK(w, conv)
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	otherID := r.URL.Query().Get("userId")
	if otherID == "" {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	msgs, err := h.store.Messages(r.Context(), id.UserID, otherID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondOK(w, msgs)
}

func (h *Handlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req struct {
		ReceiverID string           `json:"receiverId"`
		Type       chat.MessageType `json:"type"`
		Content    string           `json:"content"`
		FileName   string           `json:"fileName"`
		FileSize   int64            `json:"fileSize"`
	}
	if err := decodeJSON(r, &req); err != nil || req.ReceiverID == "" || req.Content == "" {
		respondError(w, http.StatusBadRequest, "receiverId and content are required")
		return
	}
	switch req.Type {
	case chat.MessageText, chat.MessageImage, chat.MessageFile, chat.MessageAudio, chat.MessageVideo:
	case "":
		req.Type = chat.MessageText
	default:
		respondError(w, http.StatusBadRequest, "Unknown message type")
		return
	}

	status := chat.StatusSent
	if h.hub.Online(r.Context(), req.ReceiverID) {
		status = chat.StatusDelivered
	}
	msg, err := h.store.SendMessage(r.Context(), &chat.Message{
		SenderID:   id.UserID,
		ReceiverID: req.ReceiverID,
		Type:       req.Type,
		Content:    req.Content,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		Status:     status,
	})
	if err != nil {
		respondFailure(w, err)
		return
	}

	h.hub.SendTo(msg.ReceiverID, ws.Event{Type: ws.EventNewMessage, Data: msg})
	respondOK(w, msg)
}

func (h *Handlers) markRead(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req struct {
		SenderID string `json:"senderId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.SenderID == "" {
		respondError(w, http.StatusBadRequest, "senderId is required")
		return
	}

	if err := h.store.MarkRead(r.Context(), id.UserID, req.SenderID); err != nil {
		respondFailure(w, err)
		return
	}

	h.hub.SendTo(req.SenderID, ws.Event{
		Type: ws.EventMessageRead,
		Data: map[string]string{"readerId": id.UserID},
	})
	respondOK(w, nil)
}

func (h *Handlers) recallMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := decodeJSON(r, &req); err != nil || req.MessageID == "" {
		respondError(w, http.StatusBadRequest, "messageId is required")
		return
	}

	msg, err := h.store.RecallMessage(r.Context(), id.UserID, req.MessageID)
	if err != nil {
		respondFailure(w, err)
		return
	}

	h.hub.SendTo(msg.ReceiverID, ws.Event{Type: ws.EventMessageRecalled, Data: msg})
	respondOK(w, msg)
}

func (h *Handlers) ossConfig(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	lease, err := h.vendor.Vend(r.Context(), id.UserID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "vend storage credentials", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "Missing server STS configuration")
		return
	}
	respondOK(w, lease)
}

func (h *Handlers) serveWS(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	h.hub.Serve(r.Context(), conn, id.UserID)
}
