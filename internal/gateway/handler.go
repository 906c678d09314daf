package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"member-chat/internal/auth"
	"member-chat/internal/store"
)

// Handler serves the websocket endpoint and the small REST surface used to
// bootstrap conversations before the live channel takes over. Both sit
// behind the auth middleware, so the verified user id is already bound to
// the request context; no client-supplied id is ever trusted.
type Handler struct {
	gw       *Gateway
	store    *store.Store
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

func NewHandler(gw *Gateway, st *store.Store, readBuf, writeBuf int, allowedOrigins []string) *Handler {
	return &Handler{
		gw:    gw,
		store: st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuf,
			WriteBufferSize: writeBuf,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: zap.S().With("component", "handler"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS upgrades an authenticated request into a live connection. The
// middleware already verified the credential exactly once; a request that
// somehow reaches here without a bound user id is refused before any event
// handler exists.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade failed", "error", err)
		return
	}

	id := uuid.NewString()
	c := &Conn{
		ID:     id,
		UserID: userID,
		gw:     h.gw,
		sock:   sock,
		send:   make(chan []byte, h.gw.sendBuffer),
		joined: make(map[string]struct{}),
		log:    zap.S().With("component", "conn", "cid", id[:8], "user", userID),
	}
	h.gw.admit(c)

	go c.writePump()
	go c.readPump()
}

type startConversationRequest struct {
	MemberIDs []int  `json:"member_ids"`
	IsGroup   bool   `json:"is_group"`
	Name      string `json:"name"`
}

// StartConversation finds or creates the conversation for the given member
// set. Direct (two-person) chats are deduplicated; group chats are always
// created fresh.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	members := append([]int{userID}, req.MemberIDs...)
	if len(members) < 2 {
		http.Error(w, "at least one other member is required", http.StatusBadRequest)
		return
	}

	if !req.IsGroup && len(members) == 2 {
		conv, err := h.store.FindDirectConversation(r.Context(), members[0], members[1])
		if err == nil {
			json.NewEncoder(w).Encode(conv)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			http.Error(w, "failed to look up conversation", http.StatusInternalServerError)
			return
		}
	}

	conv, err := h.store.CreateConversation(r.Context(), req.IsGroup, req.Name, members)
	if err != nil {
		h.log.Errorw("create conversation", "error", err)
		http.Error(w, "failed to create conversation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

// GetMessages loads a conversation's history, oldest first, with the
// caller's read flags.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conversationID, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil || conversationID <= 0 {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	messages, err := h.store.ListMessages(r.Context(), conversationID, userID)
	if err != nil {
		h.log.Errorw("list messages", "conversation", conversationID, "error", err)
		http.Error(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []store.Message{}
	}
	json.NewEncoder(w).Encode(messages)
}
