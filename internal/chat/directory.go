package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"crisisflow/internal/room"
)

var (
	ErrUnknownRoom    = errors.New("unknown room")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNotInRoom      = errors.New("client is not in the room")
)

type clientSet map[string]struct{}

func (s clientSet) sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Membership is who is present in one room and in each of its channels.
// Every client in a channel set is also in clients.
type Membership struct {
	clients  clientSet
	channels map[int64]clientSet
}

func newMembership() *Membership {
	return &Membership{clients: clientSet{}, channels: map[int64]clientSet{}}
}

// RoomLister is the part of the store the directory rebuilds itself from.
type RoomLister interface {
	AllRoomsWithChannels(ctx context.Context) ([]room.Room, error)
}

// Directory tracks which clients are present in which rooms and channels.
// It does no locking; the Hub owns it and touches it from its loop only.
type Directory struct {
	rooms map[string]*Membership
}

func NewDirectory() *Directory {
	return &Directory{rooms: map[string]*Membership{}}
}

// LoadFromStore replaces the directory with one empty record per stored
// room. On error the previous contents are kept.
func (d *Directory) LoadFromStore(ctx context.Context, lister RoomLister) error {
	rooms, err := lister.AllRoomsWithChannels(ctx)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}

	loaded := make(map[string]*Membership, len(rooms))
	for _, rm := range rooms {
		m := newMembership()
		for _, c := range rm.Channels {
			m.channels[c.ID] = clientSet{}
		}
		loaded[rm.ID] = m
	}
	d.rooms = loaded
	return nil
}

func (d *Directory) EnsureRoom(roomID string) *Membership {
	m, ok := d.rooms[roomID]
	if !ok {
		m = newMembership()
		d.rooms[roomID] = m
	}
	return m
}

// RemoveRoom drops a room and returns who was in it.
func (d *Directory) RemoveRoom(roomID string) []string {
	m, ok := d.rooms[roomID]
	if !ok {
		return nil
	}
	delete(d.rooms, roomID)
	return m.clients.sorted()
}

func (d *Directory) HasRoom(roomID string) bool {
	_, ok := d.rooms[roomID]
	return ok
}

// Rooms lists every known room id in order.
func (d *Directory) Rooms() []string {
	ids := make([]string, 0, len(d.rooms))
	for id := range d.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoomsOf lists the rooms a client is currently present in.
func (d *Directory) RoomsOf(clientID string) []string {
	var ids []string
	for id, m := range d.rooms {
		if _, ok := m.clients[clientID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) room(roomID string) (*Membership, error) {
	m, ok := d.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
	}
	return m, nil
}

// AddClientToRoom puts a client in a room and in the given channels, or in
// every channel the room has right now when none are given. A client
// already in the room is left as it is.
func (d *Directory) AddClientToRoom(clientID, roomID string, channelIDs ...int64) error {
	m, err := d.room(roomID)
	if err != nil {
		return err
	}
	if _, ok := m.clients[clientID]; ok {
		return nil
	}

	for _, id := range channelIDs {
		if _, ok := m.channels[id]; !ok {
			return fmt.Errorf("%w: %d in %s", ErrUnknownChannel, id, roomID)
		}
	}

	m.clients[clientID] = struct{}{}
	if len(channelIDs) == 0 {
		for _, members := range m.channels {
			members[clientID] = struct{}{}
		}
		return nil
	}
	for _, id := range channelIDs {
		m.channels[id][clientID] = struct{}{}
	}
	return nil
}

func (d *Directory) RemoveClientFromRoom(clientID, roomID string) error {
	m, err := d.room(roomID)
	if err != nil {
		return err
	}
	delete(m.clients, clientID)
	for _, members := range m.channels {
		delete(members, clientID)
	}
	return nil
}

func (d *Directory) AddClientToChannel(clientID, roomID string, channelID int64) error {
	m, err := d.room(roomID)
	if err != nil {
		return err
	}
	members, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: %d in %s", ErrUnknownChannel, channelID, roomID)
	}
	if _, ok := m.clients[clientID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotInRoom, roomID)
	}
	members[clientID] = struct{}{}
	return nil
}

func (d *Directory) RemoveClientFromChannel(clientID, roomID string, channelID int64) error {
	m, err := d.room(roomID)
	if err != nil {
		return err
	}
	members, ok := m.channels[channelID]
	if !ok {
		return fmt.Errorf("%w: %d in %s", ErrUnknownChannel, channelID, roomID)
	}
	delete(members, clientID)
	return nil
}

// RoomMembers returns a sorted snapshot of the room's clients.
func (d *Directory) RoomMembers(roomID string) ([]string, error) {
	m, err := d.room(roomID)
	if err != nil {
		return nil, err
	}
	return m.clients.sorted(), nil
}

func (d *Directory) ChannelMembers(roomID string, channelID int64) ([]string, error) {
	m, err := d.room(roomID)
	if err != nil {
		return nil, err
	}
	members, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: %d in %s", ErrUnknownChannel, channelID, roomID)
	}
	return members.sorted(), nil
}

// Channels lists a room's channel ids in order.
func (d *Directory) Channels(roomID string) ([]int64, error) {
	m, err := d.room(roomID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// AddChannelsToRoom opens empty channel slots; existing ones are kept.
func (d *Directory) AddChannelsToRoom(roomID string, channelIDs ...int64) error {
	m, err := d.room(roomID)
	if err != nil {
		return err
	}
	for _, id := range channelIDs {
		if _, ok := m.channels[id]; !ok {
			m.channels[id] = clientSet{}
		}
	}
	return nil
}

func (d *Directory) RemoveChannelsFromRoom(roomID string, channelIDs ...int64) error {
	m, err := d.room(roomID)
	if err != nil {
		return err
	}
	for _, id := range channelIDs {
		delete(m.channels, id)
	}
	return nil
}
