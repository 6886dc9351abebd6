package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"LnSPoll/logger"

	"github.com/gorilla/websocket"
)

// FeedEventType 管理端实时事件类型
type FeedEventType string

const (
	EventResponseSaved    FeedEventType = "response_saved"
	EventCatalogueChanged FeedEventType = "catalogue_changed"
	EventResponsesCleared FeedEventType = "responses_cleared"
	EventPing             FeedEventType = "ping"
	EventPong             FeedEventType = "pong"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024
	sendBufferSize = 64
)

// FeedEvent is one message pushed to dashboard clients.
type FeedEvent struct {
	Type      FeedEventType `json:"type"`
	Data      interface{}   `json:"data,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// FeedClient is one connected dashboard.
type FeedClient struct {
	hub  *FeedHub
	conn *websocket.Conn
	send chan []byte
}

// FeedHub fans dashboard events out to every connected admin client.
type FeedHub struct {
	clients map[*FeedClient]bool

	register   chan *FeedClient
	unregister chan *FeedClient
	broadcast  chan []byte

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewFeedHub 创建事件推送中心
func NewFeedHub() *FeedHub {
	return &FeedHub{
		clients:    make(map[*FeedClient]bool),
		register:   make(chan *FeedClient),
		unregister: make(chan *FeedClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *FeedHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("[Feed] client connected", logger.Int("clients", h.ClientCount()))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				h.removeClient(client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止 Hub，关闭所有连接
func (h *FeedHub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// removeClient 需要持有锁
func (h *FeedHub) removeClient(client *FeedClient) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		logger.Info("[Feed] client disconnected", logger.Int("clients", len(h.clients)))
	}
}

func (h *FeedHub) fanOut(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// 发送缓冲区满，移除客户端
			h.removeClient(client)
		}
	}
}

// ClientCount returns the number of connected dashboards.
func (h *FeedHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues an event for all clients. It never blocks the caller: when
// the queue is full or the hub has stopped the event is dropped.
func (h *FeedHub) Publish(t FeedEventType, data interface{}) {
	msg, err := json.Marshal(FeedEvent{Type: t, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		logger.Error("[Feed] failed to encode event", logger.String("type", string(t)), logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		logger.Warn("[Feed] broadcast queue full, dropping event", logger.String("type", string(t)))
	}
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *FeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[Feed] websocket upgrade failed", logger.ErrorField(err))
		return
	}
	client := &FeedClient{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only answers pings; dashboards never send anything else.
func (c *FeedClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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
				logger.Warn("[Feed] websocket read error", logger.ErrorField(err))
			}
			return
		}

		var msg FeedEvent
		if err := json.Unmarshal(message, &msg); err != nil || msg.Type != EventPing {
			continue
		}
		pong, _ := json.Marshal(FeedEvent{Type: EventPong, Timestamp: time.Now().UnixMilli()})
		c.hub.mu.RLock()
		if c.hub.clients[c] {
			select {
			case c.send <- pong:
			default:
			}
		}
		c.hub.mu.RUnlock()
	}
}

func (c *FeedClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 合并发送队列中的消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
