package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"campuschat/pkg/auth"
	"campuschat/pkg/models"
	"campuschat/pkg/msglog"
	"campuschat/pkg/utils"
	"campuschat/pkg/validation"
)

type messageHandlers struct {
	msgs *msglog.Service
}

// RegisterMessages mounts the message routes on the given subrouter.
func RegisterMessages(r *mux.Router, msgs *msglog.Service) {
	h := &messageHandlers{msgs: msgs}
	r.HandleFunc("/rooms/{roomID}/messages", h.send).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/messages", h.list).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/messages/search", h.search).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}", h.edit).Methods(http.MethodPut)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}", h.delete).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}/reactions", h.toggleReaction).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}/star", h.toggleStar).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}/forward", h.forward).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}/versions", h.versions).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/messages/{msgID}/delivered", h.markDelivered).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/read", h.markRead).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/unread", h.unread).Methods(http.MethodGet)
}

// send appends a message. A client-generated temp_id, when present, is
// echoed back so the sender's outbox can reconcile the optimistic entry.
func (h *messageHandlers) send(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(body, &generic); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateSend(generic); err != nil {
		utils.JSONAppError(w, err)
		return
	}
	var req struct {
		msglog.SendRequest
		TempID string `json:"temp_id,omitempty"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	m, err := h.msgs.Append(r.Context(), roomID, actor, req.SendRequest)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, struct {
		Message *models.Message `json:"message"`
		TempID  string          `json:"temp_id,omitempty"`
	}{Message: m, TempID: req.TempID})
}

func (h *messageHandlers) list(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]
	page, size := pageParams(r)
	msgs, err := h.msgs.Retrieve(r.Context(), roomID, actor, page, size)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
		Page     int              `json:"page"`
	}{Messages: msgs, Page: page})
}

func (h *messageHandlers) search(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]
	out, err := h.msgs.Search(r.Context(), roomID, actor, r.URL.Query().Get("q"))
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Messages []models.Message `json:"messages"`
	}{Messages: out})
}

func (h *messageHandlers) edit(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.msgs.Edit(r.Context(), vars["roomID"], actor, vars["msgID"], req.Content)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *messageHandlers) delete(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	if r.URL.Query().Get("for_everyone") == "true" {
		m, err := h.msgs.DeleteForEveryone(r.Context(), vars["roomID"], actor, vars["msgID"])
		if err != nil {
			utils.JSONAppError(w, err)
			return
		}
		_ = utils.JSONWrite(w, http.StatusOK, m)
		return
	}
	if err := h.msgs.DeleteForMe(r.Context(), vars["roomID"], actor, vars["msgID"]); err != nil {
		utils.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *messageHandlers) toggleReaction(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.msgs.ToggleReaction(r.Context(), vars["roomID"], actor, vars["msgID"], req.Emoji)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *messageHandlers) toggleStar(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	m, err := h.msgs.ToggleStar(r.Context(), vars["roomID"], actor, vars["msgID"])
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

func (h *messageHandlers) forward(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	var req struct {
		TargetRoomID string `json:"target_room_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.TargetRoomID == "" {
		utils.JSONError(w, http.StatusBadRequest, "target_room_id is required")
		return
	}
	m, err := h.msgs.Forward(r.Context(), vars["roomID"], actor, vars["msgID"], req.TargetRoomID)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, m)
}

func (h *messageHandlers) versions(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	out, err := h.msgs.Versions(r.Context(), vars["roomID"], actor, vars["msgID"])
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Versions []models.Message `json:"versions"`
	}{Versions: out})
}

func (h *messageHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	if err := h.msgs.MarkDelivered(r.Context(), vars["roomID"], vars["msgID"], actor); err != nil {
		utils.JSONAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *messageHandlers) markRead(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]
	var req struct {
		MessageIDs []string `json:"message_ids,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	changed, err := h.msgs.MarkRoomRead(r.Context(), roomID, actor, req.MessageIDs)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"marked": changed})
}

func (h *messageHandlers) unread(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]
	n, err := h.msgs.UnreadCount(r.Context(), roomID, actor)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": n})
}
