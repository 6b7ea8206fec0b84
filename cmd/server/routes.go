package main

import (
	"net/http"

	"crisisflow/internal/chat"
	myMiddleware "crisisflow/internal/middleware"
	"crisisflow/internal/respond"
	"crisisflow/internal/room"
	"crisisflow/internal/task"
	"crisisflow/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type routes struct {
	auth  *myMiddleware.AuthMiddleware
	users *user.Handler
	rooms *room.Handler
	tasks *task.Handler
	chat  *chat.Handler
}

func newRouter(h routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/signup", h.users.Register)
	r.Post("/signin", h.users.Login)
	r.Post("/signout", h.users.Logout)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// The websocket authenticates itself so it can report a bad session
	// over the socket before closing.
	r.Get("/ws", h.chat.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.auth.Handle)

		r.Get("/api/users", h.users.ListUsers)
		r.Get("/api/tags", h.tasks.ListTags)
		r.Get("/api/attachments/{filename}", h.tasks.Download)

		r.Route("/api/rooms", func(r chi.Router) {
			r.Get("/", h.rooms.List)
			r.Post("/", h.rooms.Create)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Patch("/", h.rooms.Rename)
				r.Delete("/", h.rooms.Delete)
				r.Post("/channels", h.rooms.CreateChannel)
				r.Get("/data", h.chat.RoomData)
				r.Get("/messages", h.chat.MessageArchive)
				r.Get("/tasks", h.tasks.ListForRoom)
				r.Post("/tasks", h.tasks.Create)
			})
		})

		r.Patch("/api/channels/{channelID}", h.rooms.RenameChannel)
		r.Delete("/api/channels/{channelID}", h.rooms.DeleteChannel)
	})

	return r
}
