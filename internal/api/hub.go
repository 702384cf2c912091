package api

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/msgproc"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/pkg/utils"
)

// client is one WebSocket connection subscribed to the live tagged-message
// feed.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans every Tagged message out to every connected WebSocket client. A
// single background goroutine owns the client set so registration,
// unregistration and broadcast never race.
type hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan segmenter.Tagged
	logger     *utils.Logger
}

func newHub(logger *utils.Logger) *hub {
	h := &hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client, 16),
		unregister: make(chan *client, 16),
		broadcast:  make(chan segmenter.Tagged, 1024),
		logger:     logger,
	}
	go h.run()
	return h
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketConnections.Inc()

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WebSocketConnections.Dec()
			}

		case tagged := <-h.broadcast:
			payload, err := json.Marshal(tagged)
			if err != nil {
				h.logger.Warn("failed to marshal tagged message for broadcast: " + err.Error())
				continue
			}
			metrics.WebSocketMessagesOut.WithLabelValues(kindLabel(tagged)).Inc()
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					h.logger.Debug("dropping slow websocket client")
				}
			}
		}
	}
}

func kindLabel(tagged segmenter.Tagged) string {
	return msgproc.Classify(tagged.Message, msgproc.DefaultLimits()).String()
}

// Publish hands one tagged message to the hub for broadcast. Safe to call
// from any goroutine; never blocks the caller beyond the channel send.
func (h *hub) Publish(tagged segmenter.Tagged) {
	select {
	case h.broadcast <- tagged:
	default:
		h.logger.Warn("broadcast channel full, dropping tagged message")
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				metrics.WebSocketErrors.Inc()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
