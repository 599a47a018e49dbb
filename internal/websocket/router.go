package websocket

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/game"
)

// GameSession 路由器驱动的会话操作，由game.Session实现
type GameSession interface {
	Connect(playerID string)
	Join(playerID, username string)
	Ready(playerID string)
	RequestRestart(playerID string)
	ShotFired(playerID string)
	ProjectileHit(playerID string, report game.HitReport)
	Disconnect(playerID string)
}

// JoinRequest joinGame消息体
type JoinRequest struct {
	Username string `json:"username"`
}

// GameRouter 把入站消息翻译成会话操作
type GameRouter struct {
	session GameSession
	logger  *zap.Logger
}

// NewGameRouter 创建消息路由器
func NewGameRouter(session GameSession, logger *zap.Logger) *GameRouter {
	return &GameRouter{
		session: session,
		logger:  logger,
	}
}

// Bind 把连接生命周期接到会话上
func (r *GameRouter) Bind(hub *Hub) {
	hub.OnConnect(func(c *Client) {
		r.session.Connect(c.ID)
	})
	hub.OnDisconnect(func(c *Client) {
		r.session.Disconnect(c.ID)
	})
}

// HandleMessage 处理一条入站消息，格式错误只回error不断开连接
func (r *GameRouter) HandleMessage(c *Client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		r.logger.Debug("解析WebSocket消息失败",
			zap.String("client_id", c.ID),
			zap.Error(err))
		r.sendError(c, errors.New(errors.ErrMessageFormat))
		return
	}

	switch msg.Type {
	case MessageTypeJoinGame:
		username, err := decodeUsername(msg.Data)
		if err != nil {
			r.sendError(c, err)
			return
		}
		r.session.Join(c.ID, username)

	case MessageTypePlayerReady:
		r.session.Ready(c.ID)

	case MessageTypeRequestRestart:
		r.session.RequestRestart(c.ID)

	case MessageTypeShotFired:
		r.session.ShotFired(c.ID)

	case MessageTypeProjectileHit:
		var report game.HitReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			r.sendError(c, errors.Wrap(err, errors.ErrMessageFormat))
			return
		}
		r.session.ProjectileHit(c.ID, report)

	case MessageTypePing:
		c.SendMessage(MessageTypePong, nil)

	default:
		r.logger.Debug("收到不支持的消息类型",
			zap.String("client_id", c.ID),
			zap.String("type", msg.Type))
		r.sendError(c, errors.New(errors.ErrUnknownMessage, msg.Type))
	}
}

// decodeUsername 同时接受{"username": "..."}和裸字符串
func decodeUsername(data json.RawMessage) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return "", errors.Wrap(err, errors.ErrMessageFormat)
		}
		return name, nil
	}

	var req JoinRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", errors.Wrap(err, errors.ErrMessageFormat)
		}
	}
	return req.Username, nil
}

func (r *GameRouter) sendError(c *Client, err error) {
	if sendErr := c.SendMessage(MessageTypeError, game.ErrorPayload{Error: errors.Message(err)}); sendErr != nil {
		r.logger.Debug("发送错误消息失败", zap.String("client_id", c.ID), zap.Error(sendErr))
	}
}
