package chat

import (
	"context"
	"encoding/json"
)

// 客户端与网关之间的事件名
const (
	EventNew     = "chat:new"     // 客户端发消息
	EventMessage = "chat:message" // 下发给接收方
	EventAck     = "chat:ack"     // 只回给发送的那条连接
	EventSeen    = "chat:seen"
	EventTyping  = "chat:typing"
	EventReady   = "chat:ready" // 握手完成、已入组
	EventError   = "chat:error"
)

type Handler interface {
	Event() string
	Handle(*ChatContext, json.RawMessage) error
}

// ChatContext 单个事件的处理上下文
type ChatContext struct {
	context.Context
	S    *Server
	Conn *Client
}

// UserID 当前连接的用户
func (c *ChatContext) UserID() string { return c.Conn.UserID }
