// Package notify 通过 websocket 推送结算通知
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

// ErrQueueFull 至少一个连接的发送队列已满，事件被丢弃
var ErrQueueFull = errors.New("notification queue full")

// ErrClosed Close 之后再调用 ServeWS
var ErrClosed = errors.New("hub closed")

// Config 单连接参数；AllowedOrigins 为空时只接受同源握手
type Config struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PongWait       time.Duration
	AllowedOrigins []string
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		SendBuffer:   16,
		WriteTimeout: 10 * time.Second,
		PongWait:     60 * time.Second,
	}
}

type client struct {
	ownerID string
	conn    *websocket.Conn
	send    chan []byte
}

// Hub 按所有者分组连接并分发事件
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool

	wg sync.WaitGroup
}

// NewHub 创建 Hub
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultConfig().PongWait
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(cfg.AllowedOrigins) > 0 {
		upgrader.CheckOrigin = originChecker(cfg.AllowedOrigins)
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		upgrader: upgrader,
		clients:  make(map[string]map[*client]struct{}),
	}
}

// originChecker 浏览器握手必须来自允许的来源；无 Origin 头的非浏览器客户端放行
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeWS 升级连接并为 ownerID 服务直到断开
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, ownerID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return oops.Code("WS_UPGRADE_FAILED").With("owner_id", ownerID).Wrap(err)
	}

	c := &client{ownerID: ownerID, conn: conn, send: make(chan []byte, h.cfg.SendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return ErrClosed
	}
	h.logger.Debug("websocket connected", "owner_id", ownerID)

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.ownerID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.ownerID] = set
	}
	set[c] = struct{}{}
	// 与 Close 持同一把锁，Close 的 Wait 一定能看到这次 Add
	h.wg.Add(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.ownerID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.ownerID)
	}
	close(c.send)
}

// readPump 读取客户端帧以处理 pong 与关闭帧
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
		h.logger.Debug("websocket disconnected", "owner_id", c.ownerID)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Notify 非阻塞投递给 ownerID 的所有连接；无连接不算错误
func (h *Hub) Notify(_ context.Context, ownerID string, n models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return oops.Code("NOTIFY_ENCODE_FAILED").Wrap(err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for c := range h.clients[ownerID] {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return oops.Code("NOTIFY_DROPPED").With("owner_id", ownerID).With("dropped", dropped).Wrap(ErrQueueFull)
	}
	return nil
}

// ClientCount ownerID 当前连接数
func (h *Hub) ClientCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ownerID])
}

// Close 断开所有连接并等待写协程退出
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var conns []*websocket.Conn
	for _, set := range h.clients {
		for c := range set {
			conns = append(conns, c.conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	h.wg.Wait()
}
