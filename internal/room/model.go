package room

import "errors"

var (
	ErrNotFound        = errors.New("room not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrInvalidName     = errors.New("name must not be empty")
	ErrDuplicateID     = errors.New("room id already taken")
)

type Room struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

// ChannelIDs lists the ids of the room's channels in display order.
func (r *Room) ChannelIDs() []int64 {
	ids := make([]int64, 0, len(r.Channels))
	for _, c := range r.Channels {
		ids = append(ids, c.ID)
	}
	return ids
}

type Channel struct {
	ID         int64  `json:"id"`
	Room       string `json:"room"`
	Name       string `json:"name"`
	ColorIndex int    `json:"color_index"`
}

type CreateRoomRequest struct {
	Name     string   `json:"room_name"`
	Channels []string `json:"channels"`
}

type RenameRequest struct {
	Name string `json:"new_name"`
}

type CreateChannelRequest struct {
	Name string `json:"channel_name"`
}
