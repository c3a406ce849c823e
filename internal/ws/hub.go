package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// presenceKey is the Redis set mirroring connected user ids, shared
	// across instances behind a load balancer.
	presenceKey = "imchat:online"

	sendBuffer = 32
)

// Hub tracks connected clients per user and fans events out to them. A
// user may hold several connections (multiple tabs); presence flips only
// on the first connect and the last disconnect.
type Hub struct {
	rdb redis.UniversalClient
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func NewHub(rdb redis.UniversalClient, log *slog.Logger) *Hub {
	return &Hub{
		rdb:     rdb,
		log:     log,
		clients: make(map[string]map[*client]struct{}),
	}
}

// Serve owns an upgraded connection until it closes: registers the
// client, sends the online snapshot, then pumps events both ways.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID string) {
	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}

	first := h.register(c)
	if first {
		if err := h.rdb.SAdd(ctx, presenceKey, userID).Err(); err != nil {
			h.log.Warn("presence add failed", slog.Any("error", err))
		}
	}

	// Snapshot goes out before the join broadcast so the client's first
	// event is always the online list.
	h.sendSnapshot(ctx, c)
	if first {
		h.Broadcast(Event{Type: EventUserStatus, Data: StatusPayload{UserID: userID, Online: true}})
	}

	done := make(chan struct{})
	go c.writePump(done)
	c.readPump()

	last := h.unregister(c)
	close(done)
	if last {
		if err := h.rdb.SRem(ctx, presenceKey, userID).Err(); err != nil {
			h.log.Warn("presence remove failed", slog.Any("error", err))
		}
		h.Broadcast(Event{Type: EventUserStatus, Data: StatusPayload{UserID: userID, Online: false}})
	}
}

func (h *Hub) register(c *client) (firstConn bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return !ok
}

func (h *Hub) unregister(c *client) (lastConn bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

func (h *Hub) sendSnapshot(ctx context.Context, c *client) {
	ids, err := h.rdb.SMembers(ctx, presenceKey).Result()
	if err != nil {
		h.log.Warn("presence snapshot failed", slog.Any("error", err))
		ids = h.localOnline()
	}
	c.deliver(Event{Type: EventOnlineUsers, Data: OnlinePayload{UserIDs: ids}}, h.log)
}

func (h *Hub) localOnline() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// SendTo delivers an event to every connection of one user. A user with
// no open connections simply misses the push; state is re-fetched over
// REST on reconnect.
func (h *Hub) SendTo(userID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		c.deliver(ev, h.log)
	}
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for c := range set {
			c.deliver(ev, h.log)
		}
	}
}

// Online reports whether the user has at least one connection anywhere,
// consulting Redis so the answer holds across instances.
func (h *Hub) Online(ctx context.Context, userID string) bool {
	ok, err := h.rdb.SIsMember(ctx, presenceKey, userID).Result()
	if err != nil {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, local := h.clients[userID]
		return local
	}
	return ok
}

func (c *client) deliver(ev Event, log *slog.Logger) {
	buf, err := ev.encode()
	if err != nil {
		log.Error("encode event", slog.Any("error", err))
		return
	}
	select {
	case c.send <- buf:
	default:
		// Slow consumer, drop the connection rather than block the hub.
		log.Warn("client send buffer full, closing", slog.String("user_id", c.userID))
		c.closeConn()
	}
}

func (c *client) closeConn() {
	c.once.Do(func() { _ = c.conn.Close() })
}

func (c *client) readPump() {
	defer c.closeConn()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Clients talk to the server over REST; the read side only
		// services control frames and close detection.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.closeConn()
	for {
		select {
		case buf := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
