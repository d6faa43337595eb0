package http

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"symptomdx/monitoring"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// newUpgrader 按CORS配置检查Origin
func newUpgrader(origins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			if allowed[origin] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

// wsClient WebSocket客户端，每条文本消息是一个预测请求
type wsClient struct {
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	clientID string
	logger   *zap.Logger
}

// handleWebsocket 处理WebSocket连接
func (h *Handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, 16),
		done:     make(chan struct{}),
		clientID: uuid.NewString(),
		logger:   h.logger,
	}
	monitoring.TrackWebsocket(1)
	defer monitoring.TrackWebsocket(-1)
	h.logger.Info("websocket client connected", zap.String("client_id", client.clientID))

	go client.writePump()
	client.readPump(h, r)

	h.logger.Info("websocket client disconnected", zap.String("client_id", client.clientID))
}

// readPump WebSocket读取泵，返回时关闭发送通道
func (c *wsClient) readPump(h *Handler, r *http.Request) {
	defer close(c.send)

	if h.maxBodyBytes > 0 {
		c.conn.SetReadLimit(h.maxBodyBytes)
	}
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.String("client_id", c.clientID), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		_, payload := h.predict(r, message)
		reply, err := encodeJSON(payload)
		if err != nil {
			c.logger.Error("encode websocket reply", zap.Error(err))
			return
		}
		select {
		case c.send <- reply:
		case <-c.done:
			return
		}
	}
}

// writePump WebSocket写入泵
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", zap.String("client_id", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
