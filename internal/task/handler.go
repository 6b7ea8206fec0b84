package task

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"

	myMiddleware "crisisflow/internal/middleware"
	"crisisflow/internal/respond"
	"crisisflow/internal/room"

	"github.com/go-chi/chi/v5"
)

const maxFormMemory = 32 << 20

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// Create handles the multipart task form: title, content, high_priority,
// repeated tags values, and any number of files.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	session, ok := myMiddleware.SessionFromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "Session is invalid")
		return
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	highPriority, _ := strconv.ParseBool(r.FormValue("high_priority"))
	req := &CreateRequest{
		Room:              chi.URLParam(r, "roomID"),
		Author:            session.UserID,
		AuthorDisplayName: session.DisplayName,
		Title:             r.FormValue("title"),
		Content:           r.FormValue("content"),
		HighPriority:      highPriority,
		Tags:              r.Form["tags"],
		Uploads:           formUploads(r.MultipartForm),
	}

	t, err := h.Service.Create(r.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidTask):
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, room.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "Requested room is invalid")
		return
	case err != nil:
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}
	respond.JSON(w, http.StatusCreated, t)
}

func formUploads(form *multipart.Form) []Upload {
	if form == nil {
		return nil
	}

	keys := make([]string, 0, len(form.File))
	for key := range form.File {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var uploads []Upload
	for _, key := range keys {
		for _, fh := range form.File[key] {
			uploads = append(uploads, Upload{
				Filename: fh.Filename,
				Open:     func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return uploads
}

func (h *Handler) ListForRoom(w http.ResponseWriter, r *http.Request) {
	session, _ := myMiddleware.SessionFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")

	rm, err := h.Service.rooms.GetRoom(r.Context(), roomID)
	if err != nil {
		respond.Error(w, http.StatusNotFound, "Requested room is invalid")
		return
	}

	list := h.Service.ForRoom
	if open, _ := strconv.ParseBool(r.URL.Query().Get("open")); open {
		list = h.Service.OpenForRoom
	}
	tasks, err := list(r.Context(), roomID)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}

	res := map[string]any{
		"room":      rm,
		"tasks":     tasks,
		"statusMap": StatusMap(),
	}
	if session != nil {
		res["username"] = session.UserID
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.Service.Tags(r.Context())
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}
	respond.JSON(w, http.StatusOK, tags)
}

// Download serves an attachment under the name it was uploaded with.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	a, path, err := h.Service.Attachment(r.Context(), chi.URLParam(r, "filename"))
	if errors.Is(err, ErrAttachmentNotFound) {
		respond.Error(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(a.UserFilename))
	http.ServeFile(w, r, path)
}
