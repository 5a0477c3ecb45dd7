package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type WebSocketHandler struct {
	hub *WebSocketHub
	log *logrus.Logger
}

type WebSocketHub struct {
	clients    map[string][]*Client // keyed by userID
	resources  map[string][]*Client // resource watchers
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan *models.AuditEvent
}

type subscription struct {
	client     *Client
	resourceID string
}

type Client struct {
	UserID    string
	Resources map[string]bool
	Conn      *websocket.Conn
}

type wsMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

func NewWebSocketHandler(log *logrus.Logger) *WebSocketHandler {
	hub := &WebSocketHub{
		clients:    make(map[string][]*Client),
		resources:  make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan *models.AuditEvent, 100),
	}

	go hub.run()

	return &WebSocketHandler{hub: hub, log: log}
}

// Publish implements services.EventSink: every dispatched audit event is
// pushed to the affected viewer and to anyone watching the performer.
func (h *WebSocketHandler) Publish(ctx context.Context, event *models.AuditEvent) error {
	select {
	case h.hub.broadcast <- event:
	default:
		// A full buffer drops the push; the audit trail still has the event.
		h.log.WithField("event_id", event.EventID).Warn("websocket broadcast buffer full")
	}
	return nil
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("failed to upgrade to websocket")
		return
	}

	client := &Client{
		UserID:    userID,
		Resources: make(map[string]bool),
		Conn:      conn,
	}

	h.hub.register <- client

	defer func() {
		h.hub.unregister <- client
		conn.Close()
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket read error")
			}
			break
		}

		switch msg.Type {
		case "PING":
			conn.WriteJSON(wsMessage{Type: "PONG"})
		case "WATCH_RESOURCE":
			h.hub.subscribe <- subscription{client: client, resourceID: msg.Data}
		}
	}
}

func (hub *WebSocketHub) run() {
	for {
		select {
		case client := <-hub.register:
			hub.clients[client.UserID] = append(hub.clients[client.UserID], client)
			for resourceID := range client.Resources {
				hub.resources[resourceID] = append(hub.resources[resourceID], client)
			}

		case sub := <-hub.subscribe:
			sub.client.Resources[sub.resourceID] = true
			hub.resources[sub.resourceID] = append(hub.resources[sub.resourceID], sub.client)

		case client := <-hub.unregister:
			hub.clients[client.UserID] = removeClient(hub.clients[client.UserID], client)
			for resourceID := range client.Resources {
				hub.resources[resourceID] = removeClient(hub.resources[resourceID], client)
			}

		case event := <-hub.broadcast:
			for _, client := range hub.clients[event.UserID] {
				client.Conn.WriteJSON(event)
			}
			for _, client := range hub.resources[event.ResourceID] {
				if client.UserID != event.UserID {
					client.Conn.WriteJSON(event)
				}
			}
		}
	}
}

func removeClient(clients []*Client, target *Client) []*Client {
	out := clients[:0]
	for _, c := range clients {
		if c.Conn != target.Conn {
			out = append(out, c)
		}
	}
	return out
}
