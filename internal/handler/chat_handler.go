package handler

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/apperr"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/models"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
)

// adminInboxID addresses the shared admin inbox in thread paths.
const adminInboxID = "inbox"

type ChatHandler struct {
	base
	chat service.ChatServiceInterface
}

func NewChatHandler(chat service.ChatServiceInterface, log *logger.Logger) *ChatHandler {
	return &ChatHandler{base: base{logger: log.WithComponent("chat_handler")}, chat: chat}
}

// Send handles POST /api/v1/{kind}/chat/messages
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req service.SendMessageRequest
	if err := h.parseRequestBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.chat.Send(r.Context(), h.principal(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusCreated, msg)
}

// Conversations handles GET /api/v1/{kind}/chat/conversations
func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.chat.Conversations(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, list)
}

// Thread handles GET /api/v1/{kind}/chat/conversations/{peer_kind}/{peer_id}.
// A peer of admin/inbox reads the shared admin inbox.
func (h *ChatHandler) Thread(w http.ResponseWriter, r *http.Request) {
	peer, err := peerFromPath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.chat.Thread(r.Context(), h.principal(r), peer, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, msgs)
}

// Unread handles GET /api/v1/{kind}/chat/unread
func (h *ChatHandler) Unread(w http.ResponseWriter, r *http.Request) {
	n, err := h.chat.Unread(r.Context(), h.principal(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSONResponse(w, http.StatusOK, n)
}

func peerFromPath(r *http.Request) (models.ActorRef, error) {
	kind := models.ActorKind(r.PathValue("peer_kind"))
	raw := r.PathValue("peer_id")
	if kind == models.KindAdmin && raw == adminInboxID {
		return models.AdminInbox(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return models.ActorRef{}, apperr.Validation("Invalid peer_id.").With("field", "peer_id").WithCode("invalid_uuid")
	}
	return models.ActorRef{Kind: kind, ID: &id}, nil
}
