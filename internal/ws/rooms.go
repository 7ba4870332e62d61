package ws

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

var ErrBadConversationID = errors.New("malformed conversation id")

// ChatRoomID derives the canonical conversation id for a user pair. The pair
// is sorted so join(A,B) and join(B,A) converge on the same room.
func ChatRoomID(userID, otherUserID int) string {
	lo, hi := userID, otherUserID
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%d:%d", lo, hi)
}

// ParticipantIDs parses the two participants out of a conversation id.
func ParticipantIDs(conversationID string) (int, int, error) {
	parts := strings.SplitN(conversationID, ":", 2)
	if len(parts) != 2 {
		return 0, 0, ErrBadConversationID
	}
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, ErrBadConversationID
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, ErrBadConversationID
	}
	if lo <= 0 || hi <= 0 || lo >= hi {
		return 0, 0, ErrBadConversationID
	}
	return lo, hi, nil
}

type room struct {
	userA int
	userB int
	conns map[string]struct{}
}

// RoomManager groups connections into two-party conversation rooms. Rooms are
// created lazily on first join and reclaimed when their last connection
// leaves; message durability lives in the store, so no close event is needed.
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	byUser map[int]map[string]struct{}
}

// NewRoomManager creates an empty RoomManager.
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]*room),
		byUser: make(map[int]map[string]struct{}),
	}
}

// Join adds the connection to the room for the user pair and returns the
// canonical room id.
func (m *RoomManager) Join(connID string, userID, otherUserID int) string {
	roomID := ChatRoomID(userID, otherUserID)

	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		lo, hi := userID, otherUserID
		if lo > hi {
			lo, hi = hi, lo
		}
		rm = &room{userA: lo, userB: hi, conns: make(map[string]struct{})}
		m.rooms[roomID] = rm
		m.indexRoom(lo, roomID)
		m.indexRoom(hi, roomID)
	}
	rm.conns[connID] = struct{}{}
	return roomID
}

// Leave removes the connection from the room, reclaiming the room once empty.
func (m *RoomManager) Leave(connID string, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(rm.conns, connID)
	if len(rm.conns) == 0 {
		delete(m.rooms, roomID)
		m.unindexRoom(rm.userA, roomID)
		m.unindexRoom(rm.userB, roomID)
	}
}

// MembersOf returns the ids of connections currently joined to the room. This
// reflects joined connections only, never the two logical participants.
func (m *RoomManager) MembersOf(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rm, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]string, 0, len(rm.conns))
	for id := range rm.conns {
		conns = append(conns, id)
	}
	return conns
}

// RoomsInvolving returns ids of live rooms that have the user as a
// participant, joined or not. Used to scope presence fan-out.
func (m *RoomManager) RoomsInvolving(userID int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.byUser[userID]
	rooms := make([]string, 0, len(set))
	for id := range set {
		rooms = append(rooms, id)
	}
	return rooms
}

func (m *RoomManager) indexRoom(userID int, roomID string) {
	set, ok := m.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[userID] = set
	}
	set[roomID] = struct{}{}
}

func (m *RoomManager) unindexRoom(userID int, roomID string) {
	if set, ok := m.byUser[userID]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(m.byUser, userID)
		}
	}
}
