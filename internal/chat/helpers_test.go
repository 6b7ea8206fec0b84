package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"crisisflow/internal/message"
	"crisisflow/internal/room"
	"crisisflow/internal/task"
	"crisisflow/internal/user"

	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memStore is an in-memory Store. UpdateTaskStatus applies the same
// conditional update as the SQL repository.
type memStore struct {
	mu        sync.Mutex
	rooms     []room.Room
	users     map[string]user.DisplayInfo
	statuses  map[int64]task.Status
	taskRooms map[int64]string
	messages  []message.Message
	followups []task.Followup
	nextID    int64

	messageErr  error
	usersErr    error
	statusErr   error
	followupErr error

	// when set, UpdateTaskStatus reports on entered and waits for gate
	entered chan struct{}
	gate    chan struct{}
}

func newMemStore(rooms ...room.Room) *memStore {
	return &memStore{
		rooms: rooms,
		users: map[string]user.DisplayInfo{
			"alice": {Username: "alice", Role: user.RoleProducer, DisplayName: "Alice"},
			"bob":   {Username: "bob", Role: user.RoleConsumer, DisplayName: "Bob"},
			"carol": {Username: "carol", Role: user.RoleAdmin, DisplayName: "Carol"},
		},
		statuses:  map[int64]task.Status{},
		taskRooms: map[int64]string{},
	}
}

func (s *memStore) AllRoomsWithChannels(ctx context.Context) ([]room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms, nil
}

func (s *memStore) CreateMessage(ctx context.Context, roomID, author string, reply int64, content string) (int64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messageErr != nil {
		return 0, 0, s.messageErr
	}
	s.nextID++
	at := float64(time.Now().UnixMicro()) / 1e6
	s.messages = append(s.messages, message.Message{
		ID: s.nextID, Room: roomID, Author: author, Reply: message.NormalizeReply(reply), Content: content, Time: at,
	})
	return s.nextID, at, nil
}

func (s *memStore) UpdateTaskStatus(ctx context.Context, roomID string, taskID int64, old, new task.Status) (int64, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return 0, s.statusErr
	}
	if current, ok := s.statuses[taskID]; !ok || current != old {
		return 0, nil
	}
	if owner, ok := s.taskRooms[taskID]; ok && owner != roomID {
		return 0, nil
	}
	s.statuses[taskID] = new
	return 1, nil
}

func (s *memStore) CreateTaskFollowup(ctx context.Context, taskID int64, content, author string) (int64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.followupErr != nil {
		return 0, 0, s.followupErr
	}
	s.nextID++
	at := float64(time.Now().UnixMicro()) / 1e6
	s.followups = append(s.followups, task.Followup{ID: s.nextID, Task: taskID, Author: author, Content: content, Time: at})
	return s.nextID, at, nil
}

func (s *memStore) UsersByID(ctx context.Context) (map[string]user.DisplayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usersErr != nil {
		return nil, s.usersErr
	}
	return s.users, nil
}

func (s *memStore) status(taskID int64) task.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[taskID]
}

// memRelay connects hubs in the same process. fail only affects Publish.
type memRelay struct {
	mu       sync.Mutex
	subs     []chan Delivery
	presence map[string]map[string]struct{}
	fail     bool
}

func (r *memRelay) JoinRoom(ctx context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.presence == nil {
		r.presence = map[string]map[string]struct{}{}
	}
	if r.presence[roomID] == nil {
		r.presence[roomID] = map[string]struct{}{}
	}
	r.presence[roomID][userID] = struct{}{}
	return nil
}

func (r *memRelay) LeaveRoom(ctx context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence[roomID], userID)
	return nil
}

func (r *memRelay) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]string, 0, len(r.presence[roomID]))
	for id := range r.presence[roomID] {
		members = append(members, id)
	}
	return members, nil
}

func (r *memRelay) ForgetRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.presence, roomID)
	return nil
}

func (r *memRelay) Publish(ctx context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("relay down")
	}
	for _, ch := range r.subs {
		ch <- d
	}
	return nil
}

func (r *memRelay) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	ch := make(chan Delivery, 256)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub == ch {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func newTestHub(t *testing.T, store *memStore, relay Relay) *Hub {
	t.Helper()
	h := NewHub(store, relay, discardLogger, Options{StoreTimeout: time.Second})
	require.NoError(t, h.LoadDirectory(context.Background()))
	require.NoError(t, h.SubscribeToRelay())
	go h.Run()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})
	return h
}

// connect registers a client without a real socket; its frames are read
// straight from the send buffer.
func connect(t *testing.T, h *Hub, uid string) *Client {
	t.Helper()
	return connectWithBuffer(t, h, uid, 64)
}

func connectWithBuffer(t *testing.T, h *Hub, uid string, buffer int) *Client {
	t.Helper()
	display := h.store.(*memStore).users[uid].DisplayName
	c := &Client{
		id:      uid + "-conn",
		hub:     h,
		send:    make(chan []byte, buffer),
		session: &user.Session{UserID: uid, DisplayName: display, Active: true},
		log:     discardLogger,
	}
	h.register <- c
	expectFrame(t, c, EventRejoin)
	return c
}

func emit(t *testing.T, c *Client, event string, data any) {
	t.Helper()
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		f.Data = raw
	}
	select {
	case c.hub.inbound <- inbound{client: c, frame: f}:
	case <-time.After(2 * time.Second):
		t.Fatalf("hub did not accept %s", event)
	}
}

func disconnect(t *testing.T, c *Client) {
	t.Helper()
	select {
	case c.hub.unregister <- c:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not accept disconnect")
	}
}

func join(t *testing.T, c *Client, roomID string) Joined {
	t.Helper()
	emit(t, c, EventJoin, roomID)
	return decode[Joined](t, expectFrame(t, c, EventJoined))
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		require.True(t, ok, "connection of %s was closed", c.userID())
		var f Frame
		require.NoError(t, json.Unmarshal(payload, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.userID())
		return Frame{}
	}
}

func expectFrame(t *testing.T, c *Client, event string) Frame {
	t.Helper()
	f := nextFrame(t, c)
	require.Equal(t, event, f.Event, "unexpected frame for %s: %s", c.userID(), string(f.Data))
	return f
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.userID(), payload)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// collect reads frames until none arrive for a short while.
func collect(t *testing.T, c *Client) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				return frames
			}
			var f Frame
			require.NoError(t, json.Unmarshal(payload, &f))
			frames = append(frames, f)
		case <-time.After(200 * time.Millisecond):
			return frames
		}
	}
}

// expectClosed drains c until the hub closes its send buffer.
func expectClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("connection of %s was not closed", c.userID())
		}
	}
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

// inspect runs fn on the hub loop so tests can read hub-owned state.
func inspect(t *testing.T, h *Hub, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Do(ctx, fn))
}

func roomMembers(t *testing.T, h *Hub, roomID string) []string {
	t.Helper()
	var members []string
	inspect(t, h, func() {
		members, _ = h.directory.RoomMembers(roomID)
	})
	return members
}

func usernames(members []user.DisplayInfo) []string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Username)
	}
	return names
}
