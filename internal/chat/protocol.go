package chat

import (
	"encoding/json"

	"crisisflow/internal/task"
	"crisisflow/internal/user"
)

// Client to server events.
const (
	EventJoin              = "join"
	EventMessage           = "cts_message"
	EventTaskStatusChanged = "cts_task_status_changed"
	EventFollowupTask      = "cts_followup_task"
	EventTyping            = "cts_typing"
	EventUserIdle          = "cts_user_idle"
	EventUserActive        = "cts_user_active"
	EventJoinChannel       = "cts_join_channel"
	EventLeaveChannel      = "cts_leave_channel"
	EventWhisper           = "cts_whisper"
)

// Server to client events.
const (
	EventRejoin             = "rejoin"
	EventJoined             = "stc_joined"
	EventNewMessage         = "stc_message"
	EventAddTask            = "stc_add_task"
	EventTaskStatusUpdated  = "stc_task_status_changed"
	EventTaskStatusConflict = "stc_task_status_conflict"
	EventNewFollowup        = "stc_followup_task"
	EventUserTyping         = "stc_typing"
	EventUserWentIdle       = "stc_user_idle"
	EventUserBecameActive   = "stc_user_active"
	EventWhisperReceived    = "stc_whisper"
	EventRoomDeleted        = "stc_room_deleted"
	EventMembershipChange   = "membership_change"
	EventRecoverableError   = "recoverable_error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

type MessageRequest struct {
	Content string `json:"content"`
	Reply   int64  `json:"reply"`
}

type TaskStatusRequest struct {
	Task      int64       `json:"task"`
	OldStatus task.Status `json:"old_status"`
	NewStatus task.Status `json:"new_status"`
}

type TaskStatusUpdate struct {
	Task   int64       `json:"task"`
	Status task.Status `json:"status"`
}

type FollowupRequest struct {
	Task    int64  `json:"task"`
	Content string `json:"content"`
}

type WhisperRequest struct {
	Target  string `json:"target"`
	Content string `json:"content"`
}

type Whisper struct {
	From    string  `json:"from"`
	Content string  `json:"content"`
	Time    float64 `json:"time"`
}

type Presence struct {
	User string `json:"user"`
}

type Joined struct {
	Room     string             `json:"room"`
	Channels []int64            `json:"channels"`
	Members  []user.DisplayInfo `json:"members"`
}

type RoomDeleted struct {
	Room string `json:"room"`
}
