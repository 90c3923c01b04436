// Package notify pushes generation status changes to websocket clients.
//
// Events arrive from the Redis status channel and are delivered only to the
// connections of the user who owns the generation. Nothing but status is
// sent; images are fetched through the HTTP API once a record completes.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quel-fitting-server/modules/common/auth"
	"quel-fitting-server/modules/common/model"
	"quel-fitting-server/modules/common/redis"
)

const (
	sendBuffer = 16
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// TokenVerifier - ?token= 검증 (auth.Verifier)
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Message - 클라이언트로 보내는 메시지
type Message struct {
	Type string `json:"type"`
	model.StatusEvent
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub - user id 별 websocket 연결 관리
type Hub struct {
	verifier TokenVerifier
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]bool
	closed  bool
}

func NewHub(verifier TokenVerifier) *Hub {
	return &Hub{
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]bool),
	}
}

// Start - Redis 상태 채널 구독 시작. ctx 가 끝나면 구독 종료
func (h *Hub) Start(ctx context.Context, rdb *goredis.Client) error {
	if err := redis.SubscribeStatus(ctx, rdb, h.Publish); err != nil {
		return err
	}
	log.Info().Str("channel", redis.StatusChannel).Msg("📡 [Notify] Subscribed to status channel")
	return nil
}

// Publish - 해당 user 의 모든 연결에 전송. 버퍼가 찬 연결은 끊는다
func (h *Hub) Publish(evt model.StatusEvent) {
	data, err := json.Marshal(Message{Type: "generation_status", StatusEvent: evt})
	if err != nil {
		log.Error().Err(err).Msg("❌ [Notify] Failed to encode status event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[evt.UserID] {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("user_id", c.userID).Msg("⚠️  [Notify] Slow client dropped")
			h.removeLocked(c)
		}
	}
}

// Connections - 현재 연결 수
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// ServeWS - GET /ws?token=<jwt>
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		if bearer, err := auth.BearerToken(r); err == nil {
			token = bearer
		}
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": auth.ErrInvalidToken.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️  [Notify] WebSocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		_ = conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// Shutdown closes every connection. Later connections are refused.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
	log.Info().Msg("🛑 [Notify] Hub stopped")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]bool)
		h.clients[c.userID] = set
	}
	set[c] = true
	log.Info().Str("user_id", c.userID).Int("user_connections", len(set)).Msg("👤 [Notify] Client connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked - h.mu 를 잡은 상태에서 호출. 두 번 호출해도 안전
func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.userID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	log.Debug().Str("user_id", c.userID).Msg("👋 [Notify] Client disconnected")
}

// readPump - 클라이언트 메시지는 무시하고 연결 종료만 감지
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("[Notify] Read error")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("[Notify] Write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
