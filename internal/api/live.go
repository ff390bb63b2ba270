package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"caliberscan/internal/eventbus"

	"github.com/gorilla/websocket"
)

// Hub fans pipeline events out to connected websocket clients. Slow
// clients are dropped rather than allowed to stall the broadcast.
type Hub struct {
	clients    map[*liveClient]bool
	broadcast  chan []byte
	register   chan *liveClient
	unregister chan *liveClient
	mutex      sync.Mutex
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*liveClient]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mutex.Unlock()
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// liveEvent is the wire shape of one pipeline event on /api/v1/live.
type liveEvent struct {
	Type      string      `json:"type"`
	DealerID  string      `json:"dealer_id,omitempty"`
	FeedID    string      `json:"feed_id,omitempty"`
	RunID     string      `json:"run_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// BridgeEvents subscribes the hub to the pipeline bus and forwards run
// lifecycle events to every connected client.
func (h *Hub) BridgeEvents(bus *eventbus.Bus) {
	ch := make(chan eventbus.Event, 64)
	bus.Subscribe(eventbus.TypeRunStarted, ch)
	bus.Subscribe(eventbus.TypeRunCompleted, ch)
	bus.Subscribe(eventbus.TypeRunFailed, ch)
	bus.Subscribe(eventbus.TypeFeedStatus, ch)

	go func() {
		for evt := range ch {
			data, err := json.Marshal(liveEvent{
				Type:      evt.Type,
				DealerID:  evt.DealerID,
				FeedID:    evt.FeedID,
				RunID:     evt.RunID,
				Timestamp: evt.Timestamp,
				Data:      evt.Data,
			})
			if err != nil {
				continue
			}
			h.broadcast <- data
		}
	}()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

var hub = NewHub()

func init() {
	go hub.Run()
}

// GlobalHub is wired to the event bus by main.
func GlobalHub() *Hub { return hub }

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] websocket upgrade failed: %v", err)
		return
	}

	client := &liveClient{
		conn: conn,
		send: make(chan []byte, 256),
	}
	hub.register <- client

	go func() {
		defer func() {
			hub.unregister <- client
			conn.Close()
		}()
		for {
			message, ok := <-client.send
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			writer, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			writer.Write(message)
			writer.Close()
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
