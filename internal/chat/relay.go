package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Topology operations carried by a Delivery. The zero Op is a room
// broadcast.
const (
	OpBroadcast      = ""
	OpEnsureRoom     = "ensure_room"
	OpRemoveRoom     = "remove_room"
	OpAddChannels    = "add_channels"
	OpRemoveChannels = "remove_channels"
)

// Delivery is what server instances exchange: either an encoded frame for
// the local members of a room, or a change to the room topology.
type Delivery struct {
	Op       string          `json:"op,omitempty"`
	Room     string          `json:"room"`
	Exclude  string          `json:"exclude,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Channels []int64         `json:"channels,omitempty"`
}

// Relay fans deliveries out to every server instance, this one included,
// and keeps track of who is in each room across all of them.
type Relay interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe returns once the subscription is live. The channel is
	// closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan Delivery, error)

	JoinRoom(ctx context.Context, roomID, userID string) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
	ForgetRoom(ctx context.Context, roomID string) error
}

type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisRelay(client *redis.Client, channel string, log *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, log: log.With("component", "relay")}
}

func (r *RedisRelay) Publish(ctx context.Context, d Delivery) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, raw).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	// wait for the subscription confirmation so nothing published after
	// this returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var d Delivery
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					r.log.Warn("dropping malformed delivery", "error", err)
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Room presence lives in one Redis set per room next to the channel name.
func (r *RedisRelay) presenceKey(roomID string) string {
	return r.channel + ":presence:" + roomID
}

func (r *RedisRelay) JoinRoom(ctx context.Context, roomID, userID string) error {
	return r.client.SAdd(ctx, r.presenceKey(roomID), userID).Err()
}

func (r *RedisRelay) LeaveRoom(ctx context.Context, roomID, userID string) error {
	return r.client.SRem(ctx, r.presenceKey(roomID), userID).Err()
}

func (r *RedisRelay) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.presenceKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("members of room %s: %w", roomID, err)
	}
	return members, nil
}

func (r *RedisRelay) ForgetRoom(ctx context.Context, roomID string) error {
	return r.client.Del(ctx, r.presenceKey(roomID)).Err()
}
