package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"crisisflow/internal/message"
	"crisisflow/internal/room"
	"crisisflow/internal/task"
	"crisisflow/internal/user"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opsRoom() room.Room {
	return roomWithChannels("ops", 1, 2)
}

func TestHub_JoinThenMessage(t *testing.T) {
	store := newMemStore(opsRoom())
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	joined := join(t, alice, "ops")
	assert.Equal(t, "ops", joined.Room)
	assert.Equal(t, []int64{1, 2}, joined.Channels)
	require.Len(t, joined.Members, 1)
	assert.Equal(t, "Alice", joined.Members[0].DisplayName)

	inspect(t, h, func() {
		members, err := h.directory.ChannelMembers("ops", 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, members)
	})

	emit(t, alice, EventMessage, MessageRequest{Content: "hello", Reply: 0})
	msg := decode[message.Message](t, expectFrame(t, alice, EventNewMessage))
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "alice", msg.Author)
	assert.Equal(t, "Alice", msg.AuthorDisplayName)
	assert.Equal(t, message.NoReply, msg.Reply)
	assert.Positive(t, msg.ID)
	assert.Positive(t, msg.Time)

	// the author gets exactly one copy
	expectNoFrame(t, alice)
}

func TestHub_MessageReachesRoomOnce(t *testing.T) {
	store := newMemStore(opsRoom(), roomWithChannels("other"))
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	carol := connect(t, h, "carol")
	join(t, alice, "ops")
	join(t, bob, "ops")
	members := decode[[]user.DisplayInfo](t, expectFrame(t, alice, EventMembershipChange))
	assert.Len(t, members, 2)
	join(t, carol, "other")

	emit(t, bob, EventMessage, MessageRequest{Content: "status?", Reply: 4})
	fromBob := decode[message.Message](t, expectFrame(t, bob, EventNewMessage))
	toAlice := decode[message.Message](t, expectFrame(t, alice, EventNewMessage))
	assert.Equal(t, fromBob, toAlice)
	assert.Equal(t, int64(4), toAlice.Reply)

	expectNoFrame(t, alice)
	expectNoFrame(t, bob)
	expectNoFrame(t, carol)
}

func TestHub_MessageErrors(t *testing.T) {
	store := newMemStore(opsRoom())
	store.messageErr = errors.New("disk full")
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	emit(t, alice, EventMessage, MessageRequest{Content: "   "})
	assert.Equal(t, "Message is empty", decode[string](t, expectFrame(t, alice, EventRecoverableError)))

	emit(t, alice, EventMessage, MessageRequest{Content: "hello"})
	assert.Equal(t, "Message failed to send.", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
	expectNoFrame(t, bob)
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	disconnect(t, bob)
	expectClosed(t, bob)

	members := decode[[]user.DisplayInfo](t, expectFrame(t, alice, EventMembershipChange))
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)

	assert.Equal(t, []string{"alice"}, roomMembers(t, h, "ops"))
	inspect(t, h, func() {
		_, ok := h.registry.Lookup("bob")
		assert.False(t, ok)
		for _, channelID := range []int64{1, 2} {
			ids, _ := h.directory.ChannelMembers("ops", channelID)
			assert.NotContains(t, ids, "bob")
		}
	})
}

func TestHub_EventsBeforeJoin(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)
	alice := connect(t, h, "alice")

	tests := []struct {
		name  string
		event string
		data  any
		want  string
	}{
		{"message", EventMessage, MessageRequest{Content: "hi"}, "Join a room first"},
		{"typing", EventTyping, nil, "Join a room first"},
		{"unknown room", EventJoin, "nope", "Requested room is invalid"},
		{"room id of wrong type", EventJoin, 42, "Requested room is invalid"},
		{"missing event", "", nil, "Malformed frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emit(t, alice, tt.event, tt.data)
			assert.Equal(t, tt.want, decode[string](t, expectFrame(t, alice, EventRecoverableError)))
		})
	}

	assert.Empty(t, roomMembers(t, h, "ops"))
}

func TestHub_UnknownEvent(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)
	alice := connect(t, h, "alice")
	join(t, alice, "ops")

	emit(t, alice, "cts_dance", nil)
	assert.Equal(t, "Unknown event cts_dance", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
}

func TestHub_TaskStatusRace(t *testing.T) {
	store := newMemStore(opsRoom())
	store.statuses[7] = task.StatusSubmitted
	store.entered = make(chan struct{}, 2)
	store.gate = make(chan struct{})
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	emit(t, alice, EventTaskStatusChanged, TaskStatusRequest{Task: 7, OldStatus: task.StatusSubmitted, NewStatus: task.StatusInProgress})
	emit(t, bob, EventTaskStatusChanged, TaskStatusRequest{Task: 7, OldStatus: task.StatusSubmitted, NewStatus: task.StatusCancelled})
	for i := 0; i < 2; i++ {
		select {
		case <-store.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("status updates did not reach the store")
		}
	}
	close(store.gate)

	fromAlice, fromBob := collect(t, alice), collect(t, bob)
	winnerFrames, loserFrames := fromAlice, fromBob
	if len(fromAlice) > len(fromBob) {
		winnerFrames, loserFrames = fromBob, fromAlice
	}
	assert.Empty(t, winnerFrames)
	require.Len(t, loserFrames, 2)

	var conflicts, updates int
	for _, f := range loserFrames {
		switch f.Event {
		case EventTaskStatusConflict:
			conflicts++
		case EventTaskStatusUpdated:
			updates++
			update := decode[TaskStatusUpdate](t, f)
			assert.Equal(t, int64(7), update.Task)
			assert.Equal(t, store.status(7), update.Status)
		}
	}
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, updates)
}

func TestHub_TaskStatusOutcomes(t *testing.T) {
	store := newMemStore(opsRoom())
	store.statuses[3] = task.StatusInProgress
	store.statuses[5] = task.StatusSubmitted
	store.taskRooms[5] = "logistics"
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	t.Run("applied", func(t *testing.T) {
		emit(t, alice, EventTaskStatusChanged, TaskStatusRequest{Task: 3, OldStatus: task.StatusInProgress, NewStatus: task.StatusCompleted})
		update := decode[TaskStatusUpdate](t, expectFrame(t, bob, EventTaskStatusUpdated))
		assert.Equal(t, TaskStatusUpdate{Task: 3, Status: task.StatusCompleted}, update)
		expectNoFrame(t, alice)
	})

	t.Run("stale old status", func(t *testing.T) {
		req := TaskStatusRequest{Task: 3, OldStatus: task.StatusInProgress, NewStatus: task.StatusCancelled}
		emit(t, alice, EventTaskStatusChanged, req)
		assert.Equal(t, req, decode[TaskStatusRequest](t, expectFrame(t, alice, EventTaskStatusConflict)))
		expectNoFrame(t, bob)
		assert.Equal(t, task.StatusCompleted, store.status(3))
	})

	t.Run("task of another room", func(t *testing.T) {
		req := TaskStatusRequest{Task: 5, OldStatus: task.StatusSubmitted, NewStatus: task.StatusCancelled}
		emit(t, alice, EventTaskStatusChanged, req)
		assert.Equal(t, req, decode[TaskStatusRequest](t, expectFrame(t, alice, EventTaskStatusConflict)))
		expectNoFrame(t, bob)
		assert.Equal(t, task.StatusSubmitted, store.status(5))
	})

	t.Run("out of range status is still attempted", func(t *testing.T) {
		emit(t, alice, EventTaskStatusChanged, TaskStatusRequest{Task: 3, OldStatus: task.StatusCompleted, NewStatus: task.Status(9)})
		update := decode[TaskStatusUpdate](t, expectFrame(t, bob, EventTaskStatusUpdated))
		assert.Equal(t, task.Status(9), update.Status)
	})

	t.Run("store failure", func(t *testing.T) {
		store.mu.Lock()
		store.statusErr = errors.New("connection reset")
		store.mu.Unlock()

		emit(t, alice, EventTaskStatusChanged, TaskStatusRequest{Task: 3, OldStatus: task.Status(9), NewStatus: task.StatusInReview})
		assert.Equal(t, "Failed to update task status.", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
		expectNoFrame(t, bob)
	})
}

func TestHub_FollowupGoesToWholeRoom(t *testing.T) {
	store := newMemStore(opsRoom())
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	emit(t, bob, EventFollowupTask, FollowupRequest{Task: 11, Content: "pump is back online"})
	for _, c := range []*Client{alice, bob} {
		f := decode[task.Followup](t, expectFrame(t, c, EventNewFollowup))
		assert.Equal(t, int64(11), f.Task)
		assert.Equal(t, "bob", f.Author)
		assert.Equal(t, "pump is back online", f.Content)
	}

	store.mu.Lock()
	store.followupErr = errors.New("task is gone")
	store.mu.Unlock()
	emit(t, bob, EventFollowupTask, FollowupRequest{Task: 12, Content: "anyone?"})
	assert.Equal(t, "Failed to create a task followup.", decode[string](t, expectFrame(t, bob, EventRecoverableError)))
	expectNoFrame(t, alice)
}

func TestHub_Presence(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	tests := map[string]string{
		EventTyping:     EventUserTyping,
		EventUserIdle:   EventUserWentIdle,
		EventUserActive: EventUserBecameActive,
	}
	for in, out := range tests {
		emit(t, alice, in, nil)
		assert.Equal(t, Presence{User: "alice"}, decode[Presence](t, expectFrame(t, bob, out)))
		expectNoFrame(t, alice)
	}
}

func TestHub_ChannelMembership(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)
	alice := connect(t, h, "alice")
	join(t, alice, "ops")

	channelMembers := func(channelID int64) []string {
		var ids []string
		inspect(t, h, func() {
			ids, _ = h.directory.ChannelMembers("ops", channelID)
		})
		return ids
	}

	emit(t, alice, EventLeaveChannel, 1)
	expectNoFrame(t, alice)
	assert.Empty(t, channelMembers(1))
	assert.Equal(t, []string{"alice"}, channelMembers(2))

	emit(t, alice, EventJoinChannel, 1)
	expectNoFrame(t, alice)
	assert.Equal(t, []string{"alice"}, channelMembers(1))

	emit(t, alice, EventJoinChannel, 99)
	assert.Equal(t, "Requested channel is invalid", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
	emit(t, alice, EventJoinChannel, "general")
	assert.Equal(t, "Requested channel is invalid", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
}

func TestHub_Whisper(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom(), roomWithChannels("other")), nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "other")

	emit(t, alice, EventWhisper, WhisperRequest{Target: "bob", Content: "check your DMs"})
	w := decode[Whisper](t, expectFrame(t, bob, EventWhisperReceived))
	assert.Equal(t, "alice", w.From)
	assert.Equal(t, "check your DMs", w.Content)
	assert.Positive(t, w.Time)
	expectNoFrame(t, alice)

	emit(t, alice, EventWhisper, WhisperRequest{Target: "dave", Content: "hello?"})
	assert.Equal(t, "dave is not online", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
}

func TestHub_JoiningAnotherRoomMovesTheConnection(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom(), roomWithChannels("other", 5)), nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	joined := join(t, alice, "other")
	assert.Equal(t, []int64{5}, joined.Channels)

	members := decode[[]user.DisplayInfo](t, expectFrame(t, bob, EventMembershipChange))
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username)

	inspect(t, h, func() {
		assert.Equal(t, []string{"other"}, h.directory.RoomsOf("alice"))
	})

	emit(t, bob, EventMessage, MessageRequest{Content: "still here?"})
	expectFrame(t, bob, EventNewMessage)
	expectNoFrame(t, alice)
}

func TestHub_RejoinSameRoomReannounces(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)
	alice := connect(t, h, "alice")
	join(t, alice, "ops")

	joined := join(t, alice, "ops")
	assert.Len(t, joined.Members, 1)
	assert.Equal(t, []string{"alice"}, roomMembers(t, h, "ops"))
}

func TestHub_NewConnectionDisplacesOld(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)

	first := connect(t, h, "alice")
	join(t, first, "ops")

	second := connect(t, h, "alice")
	emit(t, second, EventJoin, "ops")
	expectClosed(t, first)

	var events []string
	for _, f := range collect(t, second) {
		events = append(events, f.Event)
	}
	assert.Contains(t, events, EventJoined)

	// the old read pump still reports its disconnect
	disconnect(t, first)

	assert.Equal(t, []string{"alice"}, roomMembers(t, h, "ops"))
	inspect(t, h, func() {
		c, ok := h.registry.Lookup("alice")
		require.True(t, ok)
		assert.Same(t, second, c)
		assert.Equal(t, stateJoined, second.state)
	})
}

func TestHub_JoinFailsWhenUsersUnavailable(t *testing.T) {
	store := newMemStore(opsRoom())
	store.usersErr = errors.New("users table locked")
	h := newTestHub(t, store, nil)

	alice := connect(t, h, "alice")
	emit(t, alice, EventJoin, "ops")
	assert.Equal(t, "Failed to join", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
}

func TestHub_RemoveRoomNotifiesMembers(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	require.NoError(t, h.RemoveRoom(context.Background(), "ops"))
	for _, c := range []*Client{alice, bob} {
		assert.Equal(t, RoomDeleted{Room: "ops"}, decode[RoomDeleted](t, expectFrame(t, c, EventRoomDeleted)))
	}

	emit(t, alice, EventMessage, MessageRequest{Content: "hello?"})
	assert.Equal(t, "Join a room first", decode[string](t, expectFrame(t, alice, EventRecoverableError)))
	emit(t, alice, EventJoin, "ops")
	assert.Equal(t, "Requested room is invalid", decode[string](t, expectFrame(t, alice, EventRecoverableError)))

	// removing it again is harmless
	require.NoError(t, h.RemoveRoom(context.Background(), "ops"))
	expectNoFrame(t, bob)

	// deleted-room members disconnect cleanly
	disconnect(t, bob)
	expectClosed(t, bob)
	inspect(t, h, func() {
		_, ok := h.registry.Lookup("bob")
		assert.False(t, ok)
	})
}

func TestHub_TopologyChanges(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)
	ctx := context.Background()
	alice := connect(t, h, "alice")

	require.NoError(t, h.EnsureRoom(ctx, "drill"))
	require.NoError(t, h.AddChannels(ctx, "drill", 8, 9))
	joined := join(t, alice, "drill")
	assert.Equal(t, "drill", joined.Room)
	assert.Equal(t, []int64{8, 9}, joined.Channels)

	require.NoError(t, h.RemoveChannels(ctx, "drill", 8))
	inspect(t, h, func() {
		channels, err := h.directory.Channels("drill")
		require.NoError(t, err)
		assert.Equal(t, []int64{9}, channels)
	})

	members, err := h.Members(ctx, "drill")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	_, err = h.Members(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestHub_AddTaskReachesRoom(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	created := &task.Task{ID: 21, Room: "ops", Author: "alice", Title: "Refill generator", Status: task.StatusSubmitted}
	require.NoError(t, h.AddTask(context.Background(), "ops", created))
	for _, c := range []*Client{alice, bob} {
		got := decode[task.Task](t, expectFrame(t, c, EventAddTask))
		assert.Equal(t, int64(21), got.ID)
		assert.Equal(t, "Refill generator", got.Title)
	}
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)

	slow := connectWithBuffer(t, h, "alice", 1)
	emit(t, slow, EventJoin, "ops")
	expectFrame(t, slow, EventJoined)

	bob := connect(t, h, "bob")
	join(t, bob, "ops")
	// slow now holds the membership change and stops reading
	emit(t, bob, EventTyping, nil)
	emit(t, bob, EventTyping, nil)

	expectFrame(t, slow, EventMembershipChange)
	expectClosed(t, slow)

	// bob is unaffected
	emit(t, bob, EventMessage, MessageRequest{Content: "ping"})
	expectFrame(t, bob, EventNewMessage)
}

func TestHub_Shutdown(t *testing.T) {
	h := newTestHub(t, newMemStore(opsRoom()), nil)
	alice := connect(t, h, "alice")
	join(t, alice, "ops")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))
	expectClosed(t, alice)

	assert.ErrorIs(t, h.Do(ctx, func() {}), ErrHubStopped)
	assert.ErrorIs(t, h.EnsureRoom(ctx, "late"), ErrHubStopped)
}

func TestHub_RelayAcrossInstances(t *testing.T) {
	relay := &memRelay{}
	store := newMemStore(opsRoom())
	hubA := newTestHub(t, store, relay)
	hubB := newTestHub(t, store, relay)

	alice := connect(t, hubA, "alice")
	bob := connect(t, hubB, "bob")
	assert.Equal(t, []string{"alice"}, usernames(join(t, alice, "ops").Members))
	expectNoFrame(t, alice)

	// the member list spans both instances
	assert.Equal(t, []string{"alice", "bob"}, usernames(join(t, bob, "ops").Members))
	members := decode[[]user.DisplayInfo](t, expectFrame(t, alice, EventMembershipChange))
	assert.Equal(t, []string{"alice", "bob"}, usernames(members))

	ids, err := hubA.Members(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, ids)

	emit(t, alice, EventMessage, MessageRequest{Content: "from A"})
	expectFrame(t, alice, EventNewMessage)
	msg := decode[message.Message](t, expectFrame(t, bob, EventNewMessage))
	assert.Equal(t, "from A", msg.Content)
	expectNoFrame(t, alice)

	ctx := context.Background()
	require.NoError(t, hubA.EnsureRoom(ctx, "drill"))
	require.Eventually(t, func() bool {
		var ok bool
		inspect(t, hubB, func() { ok = hubB.directory.HasRoom("drill") })
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, hubA.RemoveRoom(ctx, "ops"))
	assert.Equal(t, RoomDeleted{Room: "ops"}, decode[RoomDeleted](t, expectFrame(t, bob, EventRoomDeleted)))
	assert.Equal(t, RoomDeleted{Room: "ops"}, decode[RoomDeleted](t, expectFrame(t, alice, EventRoomDeleted)))

	left, err := relay.RoomMembers(ctx, "ops")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestHub_RelayDisconnectUpdatesOtherInstance(t *testing.T) {
	relay := &memRelay{}
	store := newMemStore(opsRoom())
	hubA := newTestHub(t, store, relay)
	hubB := newTestHub(t, store, relay)

	alice := connect(t, hubA, "alice")
	bob := connect(t, hubB, "bob")
	join(t, alice, "ops")
	expectNoFrame(t, alice)
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	disconnect(t, bob)
	members := decode[[]user.DisplayInfo](t, expectFrame(t, alice, EventMembershipChange))
	assert.Equal(t, []string{"alice"}, usernames(members))
}

func TestHub_RelayKeepsConnectionOrder(t *testing.T) {
	relay := &memRelay{}
	store := newMemStore(opsRoom())
	hubA := newTestHub(t, store, relay)
	hubB := newTestHub(t, store, relay)

	alice := connect(t, hubA, "alice")
	bob := connect(t, hubB, "bob")
	join(t, bob, "ops")
	join(t, alice, "ops")
	expectFrame(t, bob, EventMembershipChange)

	sent := []struct{ in, out string }{
		{EventTyping, EventUserTyping},
		{EventUserIdle, EventUserWentIdle},
		{EventUserActive, EventUserBecameActive},
	}
	var want []string
	for i := 0; i < 20; i++ {
		for _, ev := range sent {
			emit(t, alice, ev.in, nil)
			want = append(want, ev.out)
		}
	}

	got := make([]string, 0, len(want))
	for range want {
		got = append(got, nextFrame(t, bob).Event)
	}
	assert.Equal(t, want, got)
}

func TestHub_RelayFailureFallsBackToLocalDelivery(t *testing.T) {
	relay := &memRelay{fail: true}
	h := newTestHub(t, newMemStore(opsRoom()), relay)

	alice := connect(t, h, "alice")
	bob := connect(t, h, "bob")
	join(t, alice, "ops")
	join(t, bob, "ops")
	expectFrame(t, alice, EventMembershipChange)

	emit(t, bob, EventMessage, MessageRequest{Content: "local only"})
	expectFrame(t, bob, EventNewMessage)
	assert.Equal(t, "local only", decode[message.Message](t, expectFrame(t, alice, EventNewMessage)).Content)
}
