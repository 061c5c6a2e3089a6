// Package handlers holds the route handlers for the versioned REST
// surface. Each handler resolves the acting user from the request
// context, delegates to the owning service and maps errors through the
// shared taxonomy.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"campuschat/pkg/auth"
	"campuschat/pkg/models"
	"campuschat/pkg/msglog"
	"campuschat/pkg/room"
	"campuschat/pkg/utils"
)

type roomHandlers struct {
	rooms *room.Registry
	msgs  *msglog.Service
}

// RegisterRooms mounts the room routes on the given subrouter.
func RegisterRooms(r *mux.Router, rooms *room.Registry, msgs *msglog.Service) {
	h := &roomHandlers{rooms: rooms, msgs: msgs}
	r.HandleFunc("/rooms", h.createRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms/direct", h.directRoom).Methods(http.MethodPost)
	r.HandleFunc("/rooms", h.listRooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}", h.getRoom).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomID}/participants", h.addParticipants).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomID}/participants/{userID}", h.removeParticipant).Methods(http.MethodDelete)
	r.HandleFunc("/rooms/{roomID}/settings", h.patchSettings).Methods(http.MethodPatch)
}

type createRoomRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Type         models.RoomType `json:"type,omitempty"`
	Participants []string        `json:"participants"`
	Course       string          `json:"course,omitempty"`
}

func (h *roomHandlers) createRoom(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := h.rooms.CreateGroupRoom(r.Context(), actor, req.Name, req.Description, req.Type, req.Participants, req.Course)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, created)
}

func (h *roomHandlers) directRoom(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rm, err := h.rooms.GetOrCreateDirectRoom(r.Context(), actor, req.UserID)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rm)
}

func (h *roomHandlers) listRooms(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	out, err := h.rooms.ListRooms(r.Context(), actor)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Rooms []*models.Room `json:"rooms"`
	}{Rooms: out})
}

// getRoom returns the room plus one page of its messages, the shape the
// chat view opens with.
func (h *roomHandlers) getRoom(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]

	rm, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	page, size := pageParams(r)
	msgs, err := h.msgs.Retrieve(r.Context(), roomID, actor, page, size)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Room     *models.Room     `json:"room"`
		Messages []models.Message `json:"messages"`
		Page     int              `json:"page"`
	}{Room: rm, Messages: msgs, Page: page})
}

func (h *roomHandlers) addParticipants(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rm, err := h.rooms.AddParticipants(r.Context(), roomID, actor, req.UserIDs)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rm)
}

func (h *roomHandlers) removeParticipant(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	vars := mux.Vars(r)
	rm, err := h.rooms.RemoveParticipant(r.Context(), vars["roomID"], actor, vars["userID"])
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rm)
}

func (h *roomHandlers) patchSettings(w http.ResponseWriter, r *http.Request) {
	actor := auth.UserIDFromContext(r.Context())
	roomID := mux.Vars(r)["roomID"]
	var patch models.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rm, err := h.rooms.UpdateSettings(r.Context(), roomID, actor, patch)
	if err != nil {
		utils.JSONAppError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, rm)
}

func pageParams(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	size, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = msglog.DefaultPageSize
	}
	return page, size
}
