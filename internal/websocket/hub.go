package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/errors"
)

// Hub WebSocket连接管理中心，同时实现game.Broadcaster
type Hub struct {
	// 客户端连接池，key为连接ID（即玩家ID）
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	onConnect    func(*Client)
	onDisconnect func(*Client)

	logger *zap.Logger
}

// Message 出入站消息信封
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// 消息类型
const (
	// 系统消息
	MessageTypeConnected = "connected"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeError     = "error"

	// 客户端上行
	MessageTypeJoinGame       = "joinGame"
	MessageTypePlayerReady    = "playerReady"
	MessageTypeRequestRestart = "requestRestart"
	MessageTypeShotFired      = "shotFired"
	MessageTypeProjectileHit  = "projectileHit"
)

// ConnectedPayload 连接成功消息
type ConnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// OnConnect 设置连接注册完成后的回调，在Run的goroutine中调用
func (h *Hub) OnConnect(fn func(*Client)) {
	h.onConnect = fn
}

// OnDisconnect 设置连接注销后的回调，每个连接只调用一次
func (h *Hub) OnDisconnect(fn func(*Client)) {
	h.onDisconnect = fn
}

// Run 运行Hub，ctx结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("remote", client.RemoteAddr()))

	// 先发连接成功消息，再通知会话，保证客户端先拿到自己的ID
	h.SendTo(client.ID, MessageTypeConnected, ConnectedPayload{PlayerID: client.ID})

	if h.onConnect != nil {
		h.onConnect(client)
	}
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client.ID]
	if ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	if !ok {
		return
	}

	h.logger.Info("WebSocket客户端断开", zap.String("client_id", client.ID))

	if h.onDisconnect != nil {
		h.onDisconnect(client)
	}
}

// closeAll 关闭全部连接
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
}

// encode 编码消息信封
func encode(msgType string, payload interface{}) ([]byte, error) {
	msg := Message{Type: msgType, Timestamp: time.Now().Unix()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// Broadcast 广播消息给所有连接，缓冲区满的连接丢弃本条
//
// 每条快照都是全量的，丢掉的一条会被下一条覆盖。
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	data, err := encode(msgType, payload)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID),
				zap.String("type", msgType))
		}
	}
}

// SendTo 发送消息给指定连接
func (h *Hub) SendTo(clientID string, msgType string, payload interface{}) {
	if err := h.SendToClient(clientID, msgType, payload); err != nil {
		h.logger.Debug("单播消息失败",
			zap.String("client_id", clientID),
			zap.String("type", msgType),
			zap.Error(err))
	}
}

// SendToClient 发送消息给指定连接并返回错误
func (h *Hub) SendToClient(clientID string, msgType string, payload interface{}) error {
	data, err := encode(msgType, payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrMessageFormat, "序列化消息失败")
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return errors.New(errors.ErrClientNotFound, clientID)
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return errors.New(errors.ErrSendBufferFull, clientID)
	}
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Register 注册客户端，Hub已停止时返回false
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister 注销客户端，可重复调用
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
