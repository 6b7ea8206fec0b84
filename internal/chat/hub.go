package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"crisisflow/internal/message"
	"crisisflow/internal/task"
	"crisisflow/internal/user"
)

var ErrHubStopped = errors.New("hub stopped")

const relayQueueSize = 1024

type Options struct {
	// StoreTimeout bounds every store call made on behalf of an event.
	StoreTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (o *Options) setDefaults() {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

type inbound struct {
	client *Client
	frame  Frame
}

// Hub owns the membership directory and the connection registry. Every
// socket event, disconnect and topology change runs on the Run loop, so
// neither structure needs locking. Store calls run in their own goroutines
// and hand their results back to the loop. Relay work runs on a single
// queue so other instances see this hub's events in the order it made them.
type Hub struct {
	directory *Directory
	registry  *Registry
	clients   map[*Client]struct{}
	store     Store
	relay     Relay
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	calls      chan func()
	relayJobs  chan func(ctx context.Context)

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	pending sync.WaitGroup
}

// NewHub builds a hub; relay may be nil for a single instance.
func NewHub(store Store, relay Relay, log *slog.Logger, opts Options) *Hub {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		directory:  NewDirectory(),
		registry:   NewRegistry(),
		clients:    map[*Client]struct{}{},
		store:      store,
		relay:      relay,
		opts:       opts,
		log:        log.With("component", "hub"),
		now:        time.Now,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		calls:      make(chan func()),
		relayJobs:  make(chan func(ctx context.Context), relayQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// LoadDirectory rebuilds the directory from the store. It must finish
// before Run starts so no join can target a room the hub has not seen.
func (h *Hub) LoadDirectory(ctx context.Context) error {
	if err := h.directory.LoadFromStore(ctx, h.store); err != nil {
		return err
	}
	h.log.Info("directory loaded", "rooms", len(h.directory.rooms))
	return nil
}

func (h *Hub) Run() {
	defer close(h.done)
	if h.relay != nil {
		h.pending.Add(1)
		go h.runRelayQueue()
	}
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			c.state = stateAuthenticated
			h.sendTo(c, EventRejoin, nil)

		case c := <-h.unregister:
			h.disconnect(c)

		case in := <-h.inbound:
			h.dispatch(in.client, in.frame)

		case fn := <-h.calls:
			fn()

		case <-h.ctx.Done():
			for c := range h.clients {
				h.closeClient(c)
				c.state = stateTerminated
			}
			return
		}
	}
}

// SubscribeToRelay starts feeding deliveries from other instances into the
// loop. It returns once the subscription is live.
func (h *Hub) SubscribeToRelay() error {
	if h.relay == nil {
		return nil
	}
	deliveries, err := h.relay.Subscribe(h.ctx)
	if err != nil {
		return err
	}

	go func() {
		for d := range deliveries {
			select {
			case h.calls <- func() { h.apply(d) }:
			case <-h.done:
				return
			}
		}
	}()
	return nil
}

// runRelayQueue publishes relay work one job at a time, in the order the
// loop queued it.
func (h *Hub) runRelayQueue() {
	defer h.pending.Done()
	for {
		select {
		case job := <-h.relayJobs:
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
			job(ctx)
			cancel()
		case <-h.ctx.Done():
			return
		}
	}
}

// queueRelay hands job to the relay queue. When the queue is full,
// overflow runs instead, on the loop.
func (h *Hub) queueRelay(job func(ctx context.Context), overflow func()) {
	select {
	case h.relayJobs <- job:
	default:
		h.log.Warn("relay queue full")
		if overflow != nil {
			overflow()
		}
	}
}

// post runs fn on the loop without waiting for it.
func (h *Hub) post(fn func()) {
	select {
	case h.calls <- fn:
	case <-h.done:
	}
}

// Shutdown stops the loop, closes every connection and waits for store
// calls still in flight.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	idle := make(chan struct{})
	go func() {
		h.pending.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the hub loop and waits for it to finish.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(finished) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn runs work off the loop with the store timeout. The function it
// returns, if any, runs back on the loop.
func (h *Hub) spawn(work func(ctx context.Context) func()) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
		next := work(ctx)
		cancel()
		if next == nil {
			return
		}

		h.post(next)
	}()
}

func (h *Hub) dispatch(c *Client, f Frame) {
	if c.state == stateTerminated {
		return
	}
	if f.Event == "" {
		h.recoverable(c, "Malformed frame")
		return
	}
	if f.Event == EventJoin {
		h.handleJoin(c, f.Data)
		return
	}
	if c.state != stateJoined {
		h.recoverable(c, "Join a room first")
		return
	}

	switch f.Event {
	case EventMessage:
		h.handleMessage(c, f.Data)
	case EventTaskStatusChanged:
		h.handleTaskStatus(c, f.Data)
	case EventFollowupTask:
		h.handleFollowup(c, f.Data)
	case EventTyping:
		h.broadcast(c.room, c.userID(), EventUserTyping, Presence{User: c.userID()})
	case EventUserIdle:
		h.broadcast(c.room, c.userID(), EventUserWentIdle, Presence{User: c.userID()})
	case EventUserActive:
		h.broadcast(c.room, c.userID(), EventUserBecameActive, Presence{User: c.userID()})
	case EventJoinChannel, EventLeaveChannel:
		h.handleChannel(c, f.Event, f.Data)
	case EventWhisper:
		h.handleWhisper(c, f.Data)
	default:
		h.recoverable(c, "Unknown event "+f.Event)
	}
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil || roomID == "" {
		h.recoverable(c, "Requested room is invalid")
		return
	}
	if !h.directory.HasRoom(roomID) {
		h.recoverable(c, "Requested room is invalid")
		return
	}

	if c.state == stateJoined {
		if c.room == roomID {
			h.announceJoin(c, roomID)
			return
		}
		// one room per connection
		h.leave(c)
	}

	uid := c.userID()
	if prev := h.registry.Register(uid, c); prev != nil {
		h.evict(prev)
	}
	if err := h.directory.AddClientToRoom(uid, roomID); err != nil {
		h.log.Error("join failed", "user", uid, "room", roomID, "error", err)
		h.recoverable(c, "Failed to join")
		return
	}
	c.state = stateJoined
	c.room = roomID
	c.log.Debug("joined room", "room", roomID)

	h.announceJoin(c, roomID)
}

// announceJoin acknowledges the join to c and tells the rest of the room.
func (h *Hub) announceJoin(c *Client, roomID string) {
	if h.relay != nil {
		h.syncPresence(roomID, c.userID(), c)
		return
	}
	h.spawn(func(ctx context.Context) func() {
		users, err := h.store.UsersByID(ctx)
		return func() {
			if err != nil {
				h.log.Error("failed to load users", "room", roomID, "error", err)
				h.recoverable(c, "Failed to join")
				return
			}
			memberIDs, err := h.directory.RoomMembers(roomID)
			if err != nil {
				return
			}
			members := displayInfos(memberIDs, users)
			if h.acknowledgeJoin(c, roomID, members) {
				h.broadcast(roomID, c.userID(), EventMembershipChange, members)
			}
		}
	})
}

// acknowledgeJoin sends the joined frame if c is still in roomID.
func (h *Hub) acknowledgeJoin(c *Client, roomID string, members []user.DisplayInfo) bool {
	if c.room != roomID || c.state != stateJoined {
		return false
	}
	channels, _ := h.directory.Channels(roomID)
	h.sendTo(c, EventJoined, Joined{Room: roomID, Channels: channels, Members: members})
	return true
}

// syncPresence records uid joining (joiner set) or leaving roomID in the
// relay's room presence, then announces the room's members across every
// instance.
func (h *Hub) syncPresence(roomID, uid string, joiner *Client) {
	joinFailed := func() {
		if joiner != nil {
			h.recoverable(joiner, "Failed to join")
		}
	}

	h.queueRelay(func(ctx context.Context) {
		var err error
		if joiner != nil {
			err = h.relay.JoinRoom(ctx, roomID, uid)
		} else {
			err = h.relay.LeaveRoom(ctx, roomID, uid)
		}
		var members []user.DisplayInfo
		if err == nil {
			members, err = h.sharedMembers(ctx, roomID)
		}
		if err != nil {
			h.log.Error("failed to sync room presence", "room", roomID, "user", uid, "error", err)
			h.post(joinFailed)
			return
		}

		exclude := ""
		if joiner != nil {
			exclude = uid
			h.post(func() { h.acknowledgeJoin(joiner, roomID, members) })
		}
		payload, err := encodeFrame(EventMembershipChange, members)
		if err != nil {
			h.log.Error("failed to encode frame", "event", EventMembershipChange, "error", err)
			return
		}
		h.publish(ctx, Delivery{Room: roomID, Exclude: exclude, Payload: payload})
	}, joinFailed)
}

// sharedMembers lists everyone in roomID on any instance.
func (h *Hub) sharedMembers(ctx context.Context, roomID string) ([]user.DisplayInfo, error) {
	ids, err := h.relay.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	users, err := h.store.UsersByID(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return displayInfos(ids, users), nil
}

// leave takes c out of its room and tells whoever is left.
func (h *Hub) leave(c *Client) {
	roomID := c.room
	c.room = ""
	c.state = stateAuthenticated

	if err := h.directory.RemoveClientFromRoom(c.userID(), roomID); err != nil {
		// the room was deleted under us
		return
	}
	h.announceMembers(roomID, c.userID())
}

// announceMembers tells roomID that uid has left.
func (h *Hub) announceMembers(roomID, uid string) {
	if h.relay != nil {
		h.syncPresence(roomID, uid, nil)
		return
	}
	h.spawn(func(ctx context.Context) func() {
		users, err := h.store.UsersByID(ctx)
		return func() {
			if err != nil {
				h.log.Error("failed to load users", "room", roomID, "error", err)
				return
			}
			memberIDs, err := h.directory.RoomMembers(roomID)
			if err != nil {
				return
			}
			h.broadcast(roomID, "", EventMembershipChange, displayInfos(memberIDs, users))
		}
	})
}

// evict drops a connection that a newer one for the same user replaced.
func (h *Hub) evict(c *Client) {
	c.log.Info("connection displaced")
	if c.state == stateJoined {
		h.leave(c)
	}
	c.state = stateTerminated
	delete(h.clients, c)
	h.closeClient(c)
}

func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.closeClient(c)

	joined := c.state == stateJoined
	c.state = stateTerminated
	h.registry.UnregisterHandle(c.userID(), c)
	if !joined {
		return
	}

	uid, roomID := c.userID(), c.room
	c.room = ""
	if err := h.directory.RemoveClientFromRoom(uid, roomID); err != nil {
		return
	}
	h.announceMembers(roomID, uid)
}

func (h *Hub) handleMessage(c *Client, data json.RawMessage) {
	var req MessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.recoverable(c, "Message failed to send.")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.recoverable(c, "Message is empty")
		return
	}

	roomID, uid := c.room, c.userID()
	h.spawn(func(ctx context.Context) func() {
		id, at, err := h.store.CreateMessage(ctx, roomID, uid, req.Reply, req.Content)
		return func() {
			if err != nil {
				h.log.Error("failed to store message", "room", roomID, "user", uid, "error", err)
				h.recoverable(c, "Message failed to send.")
				return
			}

			msg := &message.Message{
				ID:                id,
				Room:              roomID,
				Author:            uid,
				AuthorDisplayName: c.session.DisplayName,
				Reply:             message.NormalizeReply(req.Reply),
				Content:           req.Content,
				Time:              at,
			}
			h.sendTo(c, EventNewMessage, msg)
			h.broadcast(roomID, uid, EventNewMessage, msg)
		}
	})
}

func (h *Hub) handleTaskStatus(c *Client, data json.RawMessage) {
	var req TaskStatusRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.recoverable(c, "Failed to update task status.")
		return
	}
	if !req.OldStatus.Valid() || !req.NewStatus.Valid() {
		h.log.Warn("invalid task status change", "task", req.Task, "old", int(req.OldStatus), "new", int(req.NewStatus))
	}

	roomID, uid := c.room, c.userID()
	h.spawn(func(ctx context.Context) func() {
		n, err := h.store.UpdateTaskStatus(ctx, roomID, req.Task, req.OldStatus, req.NewStatus)
		return func() {
			switch {
			case err != nil:
				h.log.Error("failed to update task status", "task", req.Task, "error", err)
				h.recoverable(c, "Failed to update task status.")
			case n == 0:
				h.sendTo(c, EventTaskStatusConflict, req)
			default:
				h.broadcast(roomID, uid, EventTaskStatusUpdated, TaskStatusUpdate{Task: req.Task, Status: req.NewStatus})
			}
		}
	})
}

func (h *Hub) handleFollowup(c *Client, data json.RawMessage) {
	var req FollowupRequest
	if err := json.Unmarshal(data, &req); err != nil || strings.TrimSpace(req.Content) == "" {
		h.recoverable(c, "Failed to create a task followup.")
		return
	}

	roomID, uid := c.room, c.userID()
	h.spawn(func(ctx context.Context) func() {
		id, at, err := h.store.CreateTaskFollowup(ctx, req.Task, req.Content, uid)
		return func() {
			if err != nil {
				h.log.Error("failed to store followup", "task", req.Task, "error", err)
				h.recoverable(c, "Failed to create a task followup.")
				return
			}
			h.broadcast(roomID, "", EventNewFollowup, task.Followup{
				ID:      id,
				Task:    req.Task,
				Author:  uid,
				Content: req.Content,
				Time:    at,
			})
		}
	})
}

func (h *Hub) handleChannel(c *Client, event string, data json.RawMessage) {
	var channelID int64
	if err := json.Unmarshal(data, &channelID); err != nil {
		h.recoverable(c, "Requested channel is invalid")
		return
	}

	var err error
	if event == EventJoinChannel {
		err = h.directory.AddClientToChannel(c.userID(), c.room, channelID)
	} else {
		err = h.directory.RemoveClientFromChannel(c.userID(), c.room, channelID)
	}
	if err != nil {
		h.recoverable(c, "Requested channel is invalid")
	}
}

func (h *Hub) handleWhisper(c *Client, data json.RawMessage) {
	var req WhisperRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Target == "" || strings.TrimSpace(req.Content) == "" {
		h.recoverable(c, "Whisper is invalid")
		return
	}

	target, ok := h.registry.Lookup(req.Target)
	if !ok {
		h.recoverable(c, req.Target+" is not online")
		return
	}
	h.sendTo(target, EventWhisperReceived, Whisper{
		From:    c.userID(),
		Content: req.Content,
		Time:    float64(h.now().UnixMicro()) / 1e6,
	})
}

// broadcast sends an event to every member of a room except exclude. With
// a relay the frame goes through it so other instances deliver too.
func (h *Hub) broadcast(roomID, exclude, event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		h.log.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	if h.relay == nil {
		h.deliverLocal(roomID, exclude, payload)
		return
	}

	d := Delivery{Room: roomID, Exclude: exclude, Payload: payload}
	h.queueRelay(func(ctx context.Context) {
		h.publish(ctx, d)
	}, func() {
		h.deliverLocal(roomID, exclude, payload)
	})
}

// publish runs on the relay queue. A delivery the relay rejects still
// reaches the members connected here.
func (h *Hub) publish(ctx context.Context, d Delivery) {
	if err := h.relay.Publish(ctx, d); err != nil {
		h.post(func() {
			h.log.Warn("relay publish failed, delivering locally", "room", d.Room, "error", err)
			h.deliverLocal(d.Room, d.Exclude, d.Payload)
		})
	}
}

func (h *Hub) deliverLocal(roomID, exclude string, payload []byte) {
	members, err := h.directory.RoomMembers(roomID)
	if err != nil {
		return
	}
	for _, id := range members {
		if id == exclude {
			continue
		}
		c, ok := h.registry.Lookup(id)
		if !ok || c.room != roomID {
			continue
		}
		h.enqueue(c, payload)
	}
}

func (h *Hub) sendTo(c *Client, event string, data any) {
	payload, err := encodeFrame(event, data)
	if err != nil {
		h.log.Error("failed to encode frame", "event", event, "error", err)
		return
	}
	h.enqueue(c, payload)
}

func (h *Hub) recoverable(c *Client, msg string) {
	h.sendTo(c, EventRecoverableError, msg)
}

func (h *Hub) enqueue(c *Client, payload []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.log.Warn("send buffer full, dropping connection")
		h.closeClient(c)
	}
}

// closeClient makes the write pump send a close frame. The read pump then
// fails and the disconnect is processed as usual.
func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// apply runs a delivery received from the relay.
func (h *Hub) apply(d Delivery) {
	switch d.Op {
	case OpBroadcast:
		h.deliverLocal(d.Room, d.Exclude, d.Payload)
	case OpEnsureRoom:
		h.directory.EnsureRoom(d.Room)
	case OpRemoveRoom:
		h.closeRoom(d.Room)
	case OpAddChannels:
		if err := h.directory.AddChannelsToRoom(d.Room, d.Channels...); err != nil {
			h.log.Warn("cannot add channels", "room", d.Room, "error", err)
		}
	case OpRemoveChannels:
		h.directory.RemoveChannelsFromRoom(d.Room, d.Channels...)
	default:
		h.log.Warn("unknown relay operation", "op", d.Op)
	}
}

// closeRoom removes a room and sends everyone still in it back to the
// authenticated state.
func (h *Hub) closeRoom(roomID string) {
	for _, id := range h.directory.RemoveRoom(roomID) {
		c, ok := h.registry.Lookup(id)
		if !ok || c.room != roomID {
			continue
		}
		c.room = ""
		c.state = stateAuthenticated
		h.sendTo(c, EventRoomDeleted, RoomDeleted{Room: roomID})
	}
}

func (h *Hub) changeTopology(ctx context.Context, d Delivery) error {
	if err := h.Do(ctx, func() { h.apply(d) }); err != nil {
		return err
	}
	if h.relay == nil {
		return nil
	}
	if err := h.relay.Publish(ctx, d); err != nil {
		h.log.Warn("failed to relay topology change", "op", d.Op, "room", d.Room, "error", err)
	}
	if d.Op == OpRemoveRoom {
		if err := h.relay.ForgetRoom(ctx, d.Room); err != nil {
			h.log.Warn("failed to clear room presence", "room", d.Room, "error", err)
		}
	}
	return nil
}

func (h *Hub) EnsureRoom(ctx context.Context, roomID string) error {
	return h.changeTopology(ctx, Delivery{Op: OpEnsureRoom, Room: roomID})
}

func (h *Hub) RemoveRoom(ctx context.Context, roomID string) error {
	return h.changeTopology(ctx, Delivery{Op: OpRemoveRoom, Room: roomID})
}

func (h *Hub) AddChannels(ctx context.Context, roomID string, channelIDs ...int64) error {
	return h.changeTopology(ctx, Delivery{Op: OpAddChannels, Room: roomID, Channels: channelIDs})
}

func (h *Hub) RemoveChannels(ctx context.Context, roomID string, channelIDs ...int64) error {
	return h.changeTopology(ctx, Delivery{Op: OpRemoveChannels, Room: roomID, Channels: channelIDs})
}

// AddTask announces a task created over HTTP to the whole room.
func (h *Hub) AddTask(ctx context.Context, roomID string, t *task.Task) error {
	return h.Do(ctx, func() {
		h.broadcast(roomID, "", EventAddTask, t)
	})
}

// Members returns the ids of the clients in a room. With a relay that is
// every instance's clients, otherwise only this one's.
func (h *Hub) Members(ctx context.Context, roomID string) ([]string, error) {
	var (
		members []string
		err     error
	)
	if doErr := h.Do(ctx, func() {
		members, err = h.directory.RoomMembers(roomID)
	}); doErr != nil {
		return nil, doErr
	}
	if err != nil || h.relay == nil {
		return members, err
	}

	members, err = h.relay.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func displayInfos(ids []string, users map[string]user.DisplayInfo) []user.DisplayInfo {
	infos := make([]user.DisplayInfo, 0, len(ids))
	for _, id := range ids {
		info, ok := users[id]
		if !ok {
			info = user.DisplayInfo{Username: id, DisplayName: id}
		}
		infos = append(infos, info)
	}
	return infos
}
