package chat

import (
	"encoding/json"
	"time"

	chatsvc "MarketChat/module/chat/service"
	usermodel "MarketChat/module/user/model"
	"MarketChat/tools/decode"
	"MarketChat/tools/errs"
)

// Frame 线上统一信封 {"event": "...", "data": {...}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("malformed frame", "err", err.Error())
	}
	if f.Event == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("frame event is required")
	}
	return &f, nil
}

func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// DecodePayload event data 解码，失败统一成参数错误
func DecodePayload[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		return nil, errs.ErrInvalidArgument.WrapMsg("event data is required")
	}
	v, err := decode.DecodeStruct[T](raw)
	if err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("malformed event data", "err", err.Error())
	}
	return v, nil
}

// ---- 入站 ----

type OutgoingMessage struct {
	ID        string            `json:"id"`
	ClientKey string            `json:"clientKey"`
	Time      time.Time         `json:"time"`
	Text      string            `json:"text"`
	User      usermodel.Profile `json:"user"`
}

// Key 幂等键；老客户端只带本地 id
func (m OutgoingMessage) Key() string {
	if m.ClientKey != "" {
		return m.ClientKey
	}
	return m.ID
}

type NewMessageIn struct {
	ConversationID string          `json:"conversationId"`
	To             string          `json:"to"`
	Message        OutgoingMessage `json:"message"`
}

type SeenIn struct {
	ConversationID string `json:"conversationId"`
	PeerID         string `json:"peerId"`
	MessageID      string `json:"messageId"`
}

type TypingIn struct {
	ConversationID string `json:"conversationId"`
	To             string `json:"to"`
	Active         bool   `json:"active"`
}

// ---- 出站 ----

// MessageOut 下发给接收方组
type MessageOut struct {
	ConversationID string              `json:"conversationId"`
	From           usermodel.Profile   `json:"from"`
	Message        chatsvc.MessageView `json:"message"`
}

type SeenOut struct {
	ConversationID string `json:"conversationId"`
	PeerID         string `json:"peerId"`
	MessageID      string `json:"messageId,omitempty"`
}

type TypingOut struct {
	ConversationID string `json:"conversationId,omitempty"`
	From           string `json:"from"`
	Active         bool   `json:"active"`
	Typing         bool   `json:"typing"`
}

type AckOut struct {
	ConversationID string    `json:"conversationId"`
	ClientKey      string    `json:"clientKey"`
	MessageID      string    `json:"messageId"`
	Seq            int64     `json:"seq"`
	Time           time.Time `json:"time"`
	Duplicate      bool      `json:"duplicate,omitempty"`
}

type ReadyOut struct {
	ConnID string            `json:"connId"`
	User   usermodel.Profile `json:"user"`
}

type ErrorOut struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

func NewErrorOut(event string, err error) ErrorOut {
	out := ErrorOut{Event: event, Error: errs.Message(err)}
	if ce, ok := errs.AsCode(err); ok {
		out.Code = ce.Code
	}
	return out
}
