// Package telemetry 向看板推送循环报告，并维护 Prometheus 指标
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

// Message 推送给客户端的消息格式
type Message struct {
	Topic string `json:"topic"`
	Time  int64  `json:"time"`
	Data  any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 管理所有 websocket 连接，把广播消息分发给每个客户端。
// 慢客户端的队列满了就断开，不阻塞广播方
type Hub struct {
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:    logger.With(zap.String("component", "hub")),
		broadcast: make(chan []byte, sendBuffer),
		clients:   make(map[*client]struct{}),
	}
}

// Run 分发广播消息，ctx 取消时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.dropLocked(c)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("Dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
					h.dropLocked(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast 编码后放入广播队列。队列满时丢弃本条消息
func (h *Hub) Broadcast(topic string, v any) {
	payload, err := json.Marshal(Message{Topic: topic, Time: time.Now().UnixMilli(), Data: v})
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("topic", topic), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("Broadcast queue full, message dropped", zap.String("topic", topic))
	}
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS 升级为 websocket 连接并注册到 Hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// readPump 只用于感知断开，客户端发来的内容直接丢弃
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(c)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("Websocket write failed", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}
