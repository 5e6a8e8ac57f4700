// Package hub is the process-wide room registry. Rooms are concurrent sets of
// clients; a disconnect removes a client from every room in one sweep.
package hub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/tiffin-realtime/internal/apperr"
)

func PersonalRoom(userID string) string     { return "user:" + userID }
func ConversationRoom(convID string) string { return "conversation:" + convID }

// Relay forwards a room frame to the other instances.
type Relay interface {
	Publish(ctx context.Context, room string, payload []byte) error
}

// Observer receives delivery and connection counters.
type Observer interface {
	OnDeliveryDropped(room string)
	OnConnectionsChanged(n int)
}

type nopObserver struct{}

func (nopObserver) OnDeliveryDropped(string) {}
func (nopObserver) OnConnectionsChanged(int) {}

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}

	relay Relay
	obs   Observer
	log   *zap.SugaredLogger
}

type Option func(*Hub)

func WithRelay(r Relay) Option       { return func(h *Hub) { h.relay = r } }
func WithObserver(o Observer) Option { return func(h *Hub) { h.obs = o } }

func New(log *zap.SugaredLogger, opts ...Option) *Hub {
	h := &Hub{
		rooms:       make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
		obs:         nopObserver{},
		log:         log,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// SetRelay installs the relay after construction; the relay itself needs the hub.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Register enrolls c in its personal room.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if c.Closed() {
		h.mu.Unlock()
		return apperr.Delivery("connection already closed")
	}
	if _, ok := h.memberships[c]; ok {
		h.mu.Unlock()
		return nil
	}
	h.memberships[c] = make(map[string]struct{})
	h.addLocked(c, PersonalRoom(c.UserID))
	n := len(h.memberships)
	h.mu.Unlock()

	h.obs.OnConnectionsChanged(n)
	return nil
}

// Join fails for clients that are not registered, so a join racing a
// disconnect cannot leave a dangling membership.
func (h *Hub) Join(c *Client, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.memberships[c]; !ok {
		return apperr.Delivery("connection is not registered")
	}
	h.addLocked(c, room)
	return nil
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, room)
}

// Disconnect removes c from every room and closes its send channel.
// It returns the rooms c was in; a second call returns nil.
func (h *Hub) Disconnect(c *Client) []string {
	h.mu.Lock()
	set, ok := h.memberships[c]
	var left []string
	if ok {
		left = make([]string, 0, len(set))
		for room := range set {
			h.removeLocked(c, room)
			left = append(left, room)
		}
		delete(h.memberships, c)
	}
	n := len(h.memberships)
	h.mu.Unlock()

	c.Close()
	if ok {
		h.obs.OnConnectionsChanged(n)
	}
	sort.Strings(left)
	return left
}

func (h *Hub) addLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.memberships[c][room] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if set, ok := h.memberships[c]; ok {
		delete(set, room)
	}
}

func (h *Hub) snapshot(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// LocalBroadcast delivers to this instance's members only and returns how many accepted.
func (h *Hub) LocalBroadcast(room string, payload []byte) int {
	delivered := 0
	for _, c := range h.snapshot(room) {
		if c.Deliver(payload) {
			delivered++
			continue
		}
		h.obs.OnDeliveryDropped(room)
		h.log.Debugw("delivery dropped", "room", room, "user_id", c.UserID, "client_id", c.ID)
	}
	return delivered
}

// Broadcast is best effort: local drops and relay failures are logged, never returned.
func (h *Hub) Broadcast(ctx context.Context, room string, payload []byte) int {
	n := h.LocalBroadcast(room, payload)
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		if err := relay.Publish(ctx, room, payload); err != nil {
			h.log.Warnw("relay publish failed", "room", room, "error", err)
		}
	}
	return n
}

// Emit encodes a frame and broadcasts it to room.
func (h *Hub) Emit(ctx context.Context, room, event string, data any) int {
	payload, err := Encode(event, data)
	if err != nil {
		h.log.Errorw("encode frame", "event", event, "error", err)
		return 0
	}
	return h.Broadcast(ctx, room, payload)
}

// EmitTo sends a frame to a single client.
func (h *Hub) EmitTo(c *Client, event string, data any) bool {
	payload, err := Encode(event, data)
	if err != nil {
		h.log.Errorw("encode frame", "event", event, "error", err)
		return false
	}
	if !c.Deliver(payload) {
		h.obs.OnDeliveryDropped("client:" + c.ID)
		h.log.Debugw("delivery dropped", "event", event, "user_id", c.UserID, "client_id", c.ID)
		return false
	}
	return true
}

func (h *Hub) Rooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.memberships[c]))
	for room := range h.memberships[c] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Members lists the distinct user ids connected to room on this instance.
func (h *Hub) Members(room string) []string {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.rooms[room]))
	for c := range h.rooms[room] {
		seen[c.UserID] = struct{}{}
	}
	h.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasUserIn reports whether any local connection of userID is in room.
func (h *Hub) HasUserIn(room, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) Online(userID string) bool {
	return h.RoomSize(PersonalRoom(userID)) > 0
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberships)
}
