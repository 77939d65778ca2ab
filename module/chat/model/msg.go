package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MsgTableName = "msg"

	MsgFieldID             = "_id"
	MsgFieldConversationID = "conversation_id"
	MsgFieldSeq            = "seq"
	MsgFieldSenderID       = "sender_id"
	MsgFieldClientMsgID    = "client_msg_id"
	MsgFieldText           = "text"
	MsgFieldSendTime       = "send_time"
	MsgFieldCreateTime     = "create_time"
	MsgFieldViewed         = "viewed"
	MsgFieldViewTime       = "view_time"
)

// MessageModel 一条消息一个文档，只追加；创建后除 viewed 外不再修改
type MessageModel struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	ConversationID primitive.ObjectID `bson:"conversation_id"`
	Seq            int64              `bson:"seq"`                     // 会话内序号，排序用
	SenderID       string             `bson:"sender_id"`               // 发送者
	ClientMsgID    string             `bson:"client_msg_id,omitempty"` // 客户端幂等键
	Text           string             `bson:"text"`
	SendTime       time.Time          `bson:"send_time"`   // 客户端发送时间（缺省用服务端时间）
	CreateTime     time.Time          `bson:"create_time"` // 落库时间
	Viewed         bool               `bson:"viewed"`
	ViewTime       *time.Time         `bson:"view_time,omitempty"`
}

func (m *MessageModel) GetTableName() string {
	return MsgTableName
}
