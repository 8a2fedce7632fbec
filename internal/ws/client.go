package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codehuddle/backend/internal/auth"
	"github.com/codehuddle/backend/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 50
	messageBurst      = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one session connection. The identity is bound at upgrade
// time from the verified token and never changes; roomID is the
// connection's session state, owned by the read pump goroutine and
// empty while unjoined.
type Client struct {
	router  *Router
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	limiter *ratelimit.Limiter

	identity auth.Identity
	roomID   string
}

// ServeWS authenticates the upgrade request and starts a session
// connection. The token query parameter must carry a valid identity;
// role claims inside later event payloads are ignored.
func ServeWS(router *Router, verifier *auth.Verifier, w http.ResponseWriter, r *http.Request) {
	identity, err := verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		router:   router,
		conn:     conn,
		send:     make(chan []byte, 256),
		done:     make(chan struct{}),
		limiter:  ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		identity: identity,
	}

	go client.writePump()
	go client.readPump()
}

// enqueue offers data to the client's send buffer without blocking.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown asks the write pump to stop, which tears the connection
// down. Safe to call more than once and from any goroutine.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer func() {
		// Exit cleanup always runs, even when the peer vanishes mid
		// mutation. HandleDisconnect is idempotent.
		c.router.HandleDisconnect(c)
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", c.identity.Name, err)
			}
			break
		}

		if !c.limiter.Allow() {
			continue
		}

		c.router.Dispatch(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		}
	}
}
