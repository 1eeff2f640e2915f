// internal/server/handlers/events_ws.go

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// WebSocketConfig contains timing limits for event-feed connections.
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: (60 * time.Second * 9) / 10,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// eventsClient is one connected subscriber to the live trend feed. The feed
// is one-way: the client receives events and never sends application
// messages.
type eventsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	sub    *nats.Subscription
	logger *logrus.Logger
}

// EventsWebSocketHandler streams new-trend events to connected clients as
// they are published on the bus. ?geo=US narrows the stream to one region;
// the default is every region.
func EventsWebSocketHandler(natsConn *nats.Conn, topic string, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		region := "*"
		if geo := r.URL.Query().Get("geo"); geo != "" {
			region = strings.ToLower(geo)
		}
		subject := fmt.Sprintf("%s.detected.%s", topic, region)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Error("Failed to upgrade to WebSocket")
			return
		}

		client := &eventsClient{
			conn:   conn,
			send:   make(chan []byte, 256),
			logger: logger,
		}

		sub, err := natsConn.Subscribe(subject, func(msg *nats.Msg) {
			select {
			case client.send <- msg.Data:
			default:
				// Slow consumer; drop the event rather than block the bus.
			}
		})
		if err != nil {
			logger.WithError(err).Error("Failed to subscribe to trend events")
			conn.Close()
			return
		}
		client.sub = sub

		welcome, _ := json.Marshal(map[string]interface{}{
			"type":    "welcome",
			"subject": subject,
			"time":    time.Now(),
		})
		client.send <- welcome

		go client.writePump()
		go client.readPump()

		logger.WithField("subject", subject).Info("New WebSocket subscriber")
	}
}

// readPump consumes control frames until the peer goes away. Application
// messages from the client are ignored.
func (c *eventsClient) readPump() {
	config := DefaultWebSocketConfig()

	defer c.close()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			break
		}
	}
}

// writePump pumps bus events to the WebSocket connection.
func (c *eventsClient) writePump() {
	config := DefaultWebSocketConfig()
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears down the NATS subscription and the connection. Safe to call
// from both pumps; unsubscribing and closing twice are no-ops.
func (c *eventsClient) close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.conn.Close()
}
