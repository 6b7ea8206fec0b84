package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crisisflow/internal/message"
	myMiddleware "crisisflow/internal/middleware"
	"crisisflow/internal/respond"
	"crisisflow/internal/room"
	"crisisflow/internal/task"
	"crisisflow/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// SessionResolver authenticates the request that opens a websocket.
type SessionResolver interface {
	Resolve(r *http.Request) (*user.Session, error)
}

// RoomReader is what the room page endpoints read besides the hub.
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*room.Room, error)
	MessagesForRoom(ctx context.Context, roomID string, limit int) ([]*message.Message, error)
	TasksForRoom(ctx context.Context, roomID string) ([]*task.Task, error)
	UsersByID(ctx context.Context) (map[string]user.DisplayInfo, error)
}

type Handler struct {
	hub          *Hub
	auth         SessionResolver
	data         RoomReader
	messageCount int
	upgrader     websocket.Upgrader
	log          *slog.Logger
}

// NewHandler serves websocket connections and the room data endpoints.
// An empty allowedOrigins list accepts same-host origins only; "*" accepts
// any.
func NewHandler(hub *Hub, auth SessionResolver, data RoomReader, messageCount int, allowedOrigins []string, log *slog.Logger) *Handler {
	return &Handler{
		hub:          hub,
		auth:         auth,
		data:         data,
		messageCount: messageCount,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log.With("component", "ws"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := map[string]struct{}{}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		if u, err := url.Parse(origin); err == nil && u.Scheme != "" && u.Host != "" {
			set[strings.ToLower(u.Scheme+"://"+u.Host)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// ServeWs upgrades the connection and hands it to the hub. A request
// without a valid session still gets upgraded so the client can be told
// why it is being closed.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	session, authErr := h.auth.Resolve(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	if authErr != nil {
		h.log.Info("rejecting websocket", "remote", r.RemoteAddr, "error", authErr)
		payload, _ := encodeFrame(EventRecoverableError, "Session is invalid")
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, payload)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session is invalid"))
		conn.Close()
		return
	}

	client := newClient(h.hub, conn, session)
	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// RoomData returns everything a client needs to render a room: the room,
// who is present, the latest threaded messages and every task.
func (h *Handler) RoomData(w http.ResponseWriter, r *http.Request) {
	session, _ := myMiddleware.SessionFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")
	ctx := r.Context()

	rm, err := h.data.GetRoom(ctx, roomID)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	users, err := h.data.UsersByID(ctx)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}
	messages, err := h.data.MessagesForRoom(ctx, roomID, h.messageCount)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}
	tasks, err := h.data.TasksForRoom(ctx, roomID)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}

	memberIDs, err := h.hub.Members(ctx, roomID)
	if err != nil && !errors.Is(err, ErrUnknownRoom) {
		respond.Error(w, http.StatusServiceUnavailable, "Request failed")
		return
	}

	res := map[string]any{
		"room":      rm,
		"members":   displayInfos(memberIDs, users),
		"messages":  nonNil(messages),
		"tasks":     tasks,
		"statusMap": task.StatusMap(),
	}
	if session != nil {
		res["username"] = session.UserID
		res["displayName"] = session.DisplayName
	}
	respond.JSON(w, http.StatusOK, res)
}

// MessageArchive returns every message of a room.
func (h *Handler) MessageArchive(w http.ResponseWriter, r *http.Request) {
	session, _ := myMiddleware.SessionFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")

	rm, err := h.data.GetRoom(r.Context(), roomID)
	if err != nil {
		writeRoomError(w, err)
		return
	}
	messages, err := h.data.MessagesForRoom(r.Context(), roomID, 0)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "Request failed")
		return
	}

	res := map[string]any{"room": rm, "messages": nonNil(messages)}
	if session != nil {
		res["username"] = session.UserID
	}
	respond.JSON(w, http.StatusOK, res)
}

func writeRoomError(w http.ResponseWriter, err error) {
	if errors.Is(err, room.ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "Requested room is invalid")
		return
	}
	respond.Error(w, http.StatusInternalServerError, "Request failed")
}

func nonNil(messages []*message.Message) []*message.Message {
	if messages == nil {
		return []*message.Message{}
	}
	return messages
}
