package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const broadcastBuffer = 64

type Hub struct {
	logger     *logrus.Entry
	clients    map[*Client]bool
	broadcast  chan interface{}
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	writeWait  time.Duration
	sync.Mutex
}

func NewHub() (*Hub, error) {
	logger, err := CreateLogger("ws")
	if err != nil {
		return nil, err
	}

	return newHub(logger), nil
}

func newHub(logger *logrus.Entry) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan interface{}, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		writeWait:  writeWait,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.Lock()
			for client := range h.clients {
				h.removeClient(client)
			}
			h.Unlock()
			return

		case client := <-h.register:
			h.Lock()
			h.clients[client] = true
			h.Unlock()
			h.logger.Debug("Client registered: ", client.conn.RemoteAddr())

		case client := <-h.unregister:
			h.Lock()
			h.removeClient(client)
			h.Unlock()

		case message := <-h.broadcast:
			h.Lock()
			for client := range h.clients {
				// A client that stopped reading must not stall the hub
				client.conn.SetWriteDeadline(time.Now().Add(h.writeWait))
				if err := client.conn.WriteJSON(message); err != nil {
					h.logger.Debugf("Error sending message to client %s: %v", client.conn.RemoteAddr(), err)
					h.removeClient(client)
				}
			}
			h.Unlock()
		}
	}
}

// Must be called with the lock held
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	client.close()
	h.logger.Debug("Client unregistered: ", client.conn.RemoteAddr())
}

// BroadcastMessage never blocks, messages are dropped when the hub is
// behind
func (h *Hub) BroadcastMessage(message interface{}) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Debug("Broadcast buffer full, dropping message")
	}
}

func (h *Hub) ClientCount() int {
	h.Lock()
	defer h.Unlock()

	return len(h.clients)
}

func (h *Hub) HandleConnections(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(err)
		return
	}

	client := NewClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.readLoop()
	go client.pingClient()
}
