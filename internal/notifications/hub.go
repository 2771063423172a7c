package notifications

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Notice is an out-of-band message for one participant: an invitation, a
// party ending while they were away, a host action. It rides a separate
// channel from the party streams so it reaches people who are not currently
// in the room.
type Notice struct {
	Event   string `json:"event"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
	PartyID string `json:"party_id,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Notice event names.
const (
	EventInvite     = "party.invite"
	EventPartyEnded = "party.ended"
)

// Sink delivers notices to participants. Delivery is best effort; a
// participant with no live subscriber simply misses the notice.
type Sink interface {
	Notify(participantID string, notice Notice)
	NotifyMany(participantIDs []string, notice Notice)
}

type client struct {
	conn *websocket.Conn
	send chan Notice
}

// Hub fans notices out to each participant's connected subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

var _ Sink = (*Hub)(nil)

// NewHub constructs a notification hub instance.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
	}
}

// Serve upgrades the HTTP connection to a WebSocket and registers the
// participant subscriber.
func (h *Hub) Serve(participantID string, w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: func(config *websocket.Config, req *http.Request) error {
			config.Protocol = append(config.Protocol, "json")
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			_ = conn.SetDeadline(time.Now().Add(5 * time.Minute))
			cl := &client{
				conn: conn,
				send: make(chan Notice, 16),
			}

			h.addClient(participantID, cl)
			defer h.removeClient(participantID, cl)

			go h.writeLoop(cl)
			h.readLoop(cl)
		},
	}

	server.ServeHTTP(w, r)
}

// Notify delivers a notice to all subscribers for the participant.
func (h *Hub) Notify(participantID string, notice Notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[participantID] {
		select {
		case client.send <- notice:
		default:
			// Drop if buffer full to avoid blocking all clients.
		}
	}
}

// NotifyMany delivers a notice to each supplied participant.
func (h *Hub) NotifyMany(participantIDs []string, notice Notice) {
	for _, participantID := range participantIDs {
		h.Notify(participantID, notice)
	}
}

func (h *Hub) addClient(participantID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[participantID] == nil {
		h.clients[participantID] = make(map[*client]struct{})
	}
	h.clients[participantID][cl] = struct{}{}
}

func (h *Hub) removeClient(participantID string, cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients := h.clients[participantID]; clients != nil {
		delete(clients, cl)
		if len(clients) == 0 {
			delete(h.clients, participantID)
		}
	}
	close(cl.send)
	_ = cl.conn.Close()
}

func (h *Hub) writeLoop(cl *client) {
	for notice := range cl.send {
		if err := websocket.JSON.Send(cl.conn, notice); err != nil {
			break
		}
	}
}

func (h *Hub) readLoop(cl *client) {
	defer cl.conn.Close()

	for {
		var payload any
		if err := websocket.JSON.Receive(cl.conn, &payload); err != nil {
			break
		}
	}
}

// MarshalNotice converts a notice into JSON bytes (utility for testing).
func MarshalNotice(notice Notice) ([]byte, error) {
	return json.Marshal(notice)
}
