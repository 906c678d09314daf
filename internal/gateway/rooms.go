package gateway

import (
	"strconv"
	"sync"

	"go.uber.org/zap"
)

const privateGroupPrefix = "user:"

func privateGroup(userID int) string {
	return privateGroupPrefix + strconv.Itoa(userID)
}

func conversationGroup(conversationID int) string {
	return strconv.Itoa(conversationID)
}

// RoomManager tracks which live connections belong to which broadcast
// groups. Groups are purely in-memory presence state, rebuilt from scratch
// on reconnect; losing them loses nothing durable.
type RoomManager struct {
	mu     sync.Mutex
	groups map[string]map[*Conn]struct{}
	log    *zap.SugaredLogger
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		groups: make(map[string]map[*Conn]struct{}),
		log:    zap.S().With("component", "rooms"),
	}
}

// Admit enrolls a connection into its own private group. Called once, right
// after authentication.
func (m *RoomManager) Admit(c *Conn) {
	m.Join(c, privateGroup(c.UserID))
}

// Join adds the connection to a group. Joining twice is a no-op; the return
// value reports whether membership changed.
func (m *RoomManager) Join(c *Conn, group string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := c.joined[group]; ok {
		return false
	}
	members, ok := m.groups[group]
	if !ok {
		members = make(map[*Conn]struct{})
		m.groups[group] = members
	}
	members[c] = struct{}{}
	c.joined[group] = struct{}{}
	return true
}

// Leave removes the connection from a group. Leaving a group not joined is
// a no-op.
func (m *RoomManager) Leave(c *Conn, group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(c, group)
}

func (m *RoomManager) leaveLocked(c *Conn, group string) {
	if _, ok := c.joined[group]; !ok {
		return
	}
	delete(c.joined, group)
	if members, ok := m.groups[group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(m.groups, group)
		}
	}
}

// Drop removes the connection from every group it joined. The connection's
// own joined set makes this a local operation, not a scan of all groups.
func (m *RoomManager) Drop(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for group := range c.joined {
		m.leaveLocked(c, group)
	}
}

func (m *RoomManager) IsEmpty(group string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups[group]) == 0
}

// Broadcast delivers one event to every connection currently in the group.
// Delivery to a member that cannot receive is silently skipped.
func (m *RoomManager) Broadcast(group, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		m.log.Errorw("encode frame", "event", event, "error", err)
		return
	}

	m.mu.Lock()
	members := make([]*Conn, 0, len(m.groups[group]))
	for c := range m.groups[group] {
		members = append(members, c)
	}
	m.mu.Unlock()

	for _, c := range members {
		c.enqueue(event, frame)
	}
}
