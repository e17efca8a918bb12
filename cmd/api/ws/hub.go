package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wbrunovieira/WB-project-manager-sub000/cmd/api/events"
)

var wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ws_clients",
	Help: "Number of connected WebSocket clients",
})

func init() { prometheus.MustRegister(wsClients) }

// Hub maintains the set of active clients and broadcasts events to the ones
// watching the event's workspace.
type Hub struct {
	rdb        *redis.Client
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool
	count      chan chan int
	done       chan struct{}
}

// NewHub constructs a Hub. With a nil rdb no events reach the clients.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:        rdb,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run starts the hub loop, subscribing to events.Channel when Redis is set.
// Without Redis the hub only tracks connections.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	var ch <-chan *redis.Message
	if h.rdb != nil {
		sub := h.rdb.Subscribe(ctx, events.Channel)
		ch = sub.Channel()
		go func() {
			<-ctx.Done()
			_ = sub.Close()
		}()
	}
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case msg, ok := <-ch:
			if !ok {
				ch = nil
				continue
			}
			var ev events.Live
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("decode live event")
				continue
			}
			h.send(ev)
		case c := <-h.register:
			h.clients[c] = true
			wsClients.Inc()
		case c := <-h.unregister:
			h.drop(c)
		case r := <-h.count:
			r <- len(h.clients)
		}
	}
}

func (h *Hub) send(ev events.Live) {
	for c := range h.clients {
		if c.workspace != ev.WorkspaceID {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		wsClients.Dec()
	}
}

// Len reports the number of registered clients, or 0 once the hub stopped.
func (h *Hub) Len() int {
	r := make(chan int)
	select {
	case h.count <- r:
		return <-r
	case <-h.done:
		return 0
	}
}

// Client is a WebSocket connection watching one workspace.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan events.Live
	workspace string
}

// ReadPump reads messages from the WebSocket to detect disconnects.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump writes events to the WebSocket connection.
func (c *Client) WritePump() {
	defer func() { _ = c.conn.Close() }()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// Origins are checked by the CORS middleware.
var Upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Handler upgrades the request and streams the live events of the workspace
// named by the :id route parameter.
func Handler(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Ctx(c.Request.Context()).Debug().Err(err).Msg("websocket upgrade")
			return
		}
		cl := &Client{hub: h, conn: conn, send: make(chan events.Live, 8), workspace: c.Param("id")}
		select {
		case h.register <- cl:
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
		go cl.WritePump()
		cl.ReadPump()
	}
}
