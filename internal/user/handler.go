package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"crisisflow/internal/respond"
)

type Handler struct {
	Service    *Service
	cookieName string
	tokenTTL   time.Duration
}

func NewHandler(s *Service, cookieName string, tokenTTL time.Duration) *Handler {
	return &Handler{Service: s, cookieName: cookieName, tokenTTL: tokenTTL}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrUsernameTaken):
		respond.Error(w, http.StatusConflict, "Requested username is already in use")
		return
	case errors.Is(err, ErrInvalidAccessCode):
		respond.Error(w, http.StatusForbidden, "Access code is incorrect")
		return
	case errors.Is(err, ErrInvalidCredentials):
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}

	respond.JSON(w, http.StatusCreated, u.DisplayInfo())
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    res.AccessToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.tokenTTL),
	})
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.UsersByID(r.Context())
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}

	list := make([]DisplayInfo, 0, len(users))
	for _, u := range users {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Username < list[j].Username })
	respond.JSON(w, http.StatusOK, list)
}
