package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"lokapasar/internal/observability"
	"lokapasar/pkg/logger"
)

// EventHandler receives decoded-frame callbacks from the manager. The chat
// usecase implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, client *Client, envelope *Envelope)
	OnDisconnect(ctx context.Context, client *Client, wasLastConnection bool)
}

// Manager owns the connection registry and the broadcast groups: one
// personal channel per user (the user's connection set) and one room per
// conversation. All maps are guarded by a single mutex; handlers never touch
// them directly.
type Manager struct {
	mu          sync.RWMutex
	registry    *Registry
	clients     map[string]*Client            // connection id -> client
	userClients map[string]map[string]*Client // user id -> connection id -> client
	rooms       map[string]map[string]*Client // conversation id -> connection id -> client

	handler EventHandler
}

func NewManager() *Manager {
	return &Manager{
		registry:    NewRegistry(),
		clients:     make(map[string]*Client),
		userClients: make(map[string]map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
	}
}

// SetHandler wires the event handler. Must be called before the first
// connection is registered.
func (m *Manager) SetHandler(handler EventHandler) {
	m.handler = handler
}

// Registry exposes the online/offline source of truth.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Register adds a client to its personal channel and reports whether this is
// the user's first live connection.
func (m *Manager) Register(client *Client) bool {
	m.mu.Lock()
	m.clients[client.ConnectionID] = client
	if _, ok := m.userClients[client.UserID]; !ok {
		m.userClients[client.UserID] = make(map[string]*Client)
	}
	m.userClients[client.UserID][client.ConnectionID] = client
	m.mu.Unlock()

	first := m.registry.Add(client.UserID, client.ConnectionID)

	observability.IncWSActive()
	if first {
		observability.IncOnlineUsers()
	}
	logger.Info("client registered: user=%s conn=%s first=%v", client.UserID, client.ConnectionID, first)

	return first
}

// Unregister removes a client from every room and from its personal channel,
// then notifies the handler with the 1->0 transition flag. Safe to call once
// per client; subsequent calls are no-ops.
func (m *Manager) Unregister(client *Client) {
	m.mu.Lock()
	if _, ok := m.clients[client.ConnectionID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.clients, client.ConnectionID)

	if conns, ok := m.userClients[client.UserID]; ok {
		delete(conns, client.ConnectionID)
		if len(conns) == 0 {
			delete(m.userClients, client.UserID)
		}
	}

	for conversationID, members := range m.rooms {
		delete(members, client.ConnectionID)
		if len(members) == 0 {
			delete(m.rooms, conversationID)
		}
	}
	m.mu.Unlock()

	client.closeSend()

	last := m.registry.Remove(client.UserID, client.ConnectionID)

	observability.DecWSActive()
	if last {
		observability.DecOnlineUsers()
	}
	logger.Info("client unregistered: user=%s conn=%s last=%v", client.UserID, client.ConnectionID, last)

	if m.handler != nil {
		m.handler.OnDisconnect(context.Background(), client, last)
	}
}

// JoinRoom puts a client into a conversation's broadcast group. Membership
// authorization happens in the usecase before this is called.
func (m *Manager) JoinRoom(conversationID string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[conversationID]; !ok {
		m.rooms[conversationID] = make(map[string]*Client)
	}
	m.rooms[conversationID][client.ConnectionID] = client
}

func (m *Manager) LeaveRoom(conversationID string, client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if members, ok := m.rooms[conversationID]; ok {
		delete(members, client.ConnectionID)
		if len(members) == 0 {
			delete(m.rooms, conversationID)
		}
	}
}

// SendToUser delivers a payload to every connection in a user's personal
// channel.
func (m *Manager) SendToUser(userID string, payload []byte) {
	m.mu.RLock()
	conns := make([]*Client, 0, len(m.userClients[userID]))
	for _, client := range m.userClients[userID] {
		conns = append(conns, client)
	}
	m.mu.RUnlock()

	for _, client := range conns {
		m.deliver(client, payload)
	}
}

// SendToRoom delivers a payload to every connection in a conversation room,
// skipping all connections belonging to excludeUserID.
func (m *Manager) SendToRoom(conversationID string, payload []byte, excludeUserID string) {
	m.mu.RLock()
	conns := make([]*Client, 0, len(m.rooms[conversationID]))
	for _, client := range m.rooms[conversationID] {
		if client.UserID == excludeUserID {
			continue
		}
		conns = append(conns, client)
	}
	m.mu.RUnlock()

	for _, client := range conns {
		m.deliver(client, payload)
	}
}

// SendToClient delivers a payload to one specific connection.
func (m *Manager) SendToClient(client *Client, payload []byte) {
	m.deliver(client, payload)
}

func (m *Manager) IsOnline(userID string) bool {
	return m.registry.IsOnline(userID)
}

// deliver is non-blocking: a connection whose send buffer is full has its
// payload dropped rather than stalling delivery to other connections. The
// durable store remains the source of truth for anything dropped here. A
// client that unregistered between the room snapshot and this call absorbs
// the payload silently.
func (m *Manager) deliver(client *Client, payload []byte) {
	switch client.enqueue(payload) {
	case sendBufferFull:
		observability.IncBroadcastDrop()
		logger.Warn("dropping payload for slow connection: user=%s conn=%s", client.UserID, client.ConnectionID)
	case sendClosed:
		// disconnect won the race; the store still holds the message
	}
}

// HandleClientMessage parses an inbound frame, answers pings locally, and
// passes everything else to the event handler. Malformed frames produce an
// error event on the offending connection only.
func (m *Manager) HandleClientMessage(client *Client, message []byte) {
	var envelope Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Warn("malformed frame from user %s: %v", client.UserID, err)
		m.SendError(client, "invalid message format")
		return
	}

	observability.IncWSEvent(envelope.Type)

	if envelope.Type == EventPing {
		if payload, err := MarshalEvent(EventPong, map[string]string{"status": "alive"}); err == nil {
			m.deliver(client, payload)
		}
		return
	}

	if m.handler == nil {
		m.SendError(client, "service unavailable")
		return
	}
	m.handler.HandleEvent(context.Background(), client, &envelope)
}

// SendError emits an error event to a single connection.
func (m *Manager) SendError(client *Client, message string) {
	payload, err := MarshalEvent(EventError, ErrorData{Message: message})
	if err != nil {
		return
	}
	m.deliver(client, payload)
}
