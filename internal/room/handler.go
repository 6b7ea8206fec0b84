package room

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crisisflow/internal/respond"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.Service.List(r.Context())
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}
	respond.JSON(w, http.StatusOK, rooms)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	rm, err := h.Service.Create(r.Context(), &req)
	if err != nil {
		writeError(w, err, "Failed to create room")
		return
	}
	respond.JSON(w, http.StatusCreated, rm)
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	roomID := chi.URLParam(r, "roomID")
	if err := h.Service.Rename(r.Context(), roomID, req.Name); err != nil {
		writeError(w, err, "Requested rename of invalid room")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"id": roomID})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if err := h.Service.Delete(r.Context(), roomID); err != nil {
		writeError(w, err, "Requested deletion of invalid room")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.Service.CreateChannel(r.Context(), chi.URLParam(r, "roomID"), req.Name)
	if err != nil {
		writeError(w, err, "Failed to create channel")
		return
	}
	respond.JSON(w, http.StatusCreated, c)
}

func (h *Handler) RenameChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := channelParam(w, r)
	if !ok {
		return
	}

	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Service.RenameChannel(r.Context(), channelID, req.Name); err != nil {
		writeError(w, err, "Requested rename of invalid channel")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int64{"id": channelID})
}

func (h *Handler) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := channelParam(w, r)
	if !ok {
		return
	}

	roomID, err := h.Service.DeleteChannel(r.Context(), channelID)
	if err != nil {
		writeError(w, err, "Failed to delete channel")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"room": roomID})
}

func channelParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	channelID, err := strconv.ParseInt(chi.URLParam(r, "channelID"), 10, 64)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid channel id")
		return 0, false
	}
	return channelID, true
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case IsNotFound(err):
		respond.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidName):
		respond.Error(w, http.StatusBadRequest, err.Error())
	default:
		respond.Error(w, http.StatusInternalServerError, fallback)
	}
}
