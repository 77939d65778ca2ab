package bus

import (
	"context"
	"encoding/json"
)

// Envelope 跨节点转发的一帧；Origin 为发布节点，转发端据此跳过自己
type Envelope struct {
	Origin string          `json:"origin"`
	UserID string          `json:"user_id"`
	Frame  json.RawMessage `json:"frame"`
}

type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	StartForwarder(ctx context.Context, onMsg func(env Envelope)) error
	Close() error
}

// DefaultSubject redis channel / nats subject
const DefaultSubject = "marketchat.relay"
