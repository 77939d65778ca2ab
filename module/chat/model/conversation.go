package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ConversationTableName = "conversation"

	ConversationFieldID           = "_id"
	ConversationFieldPairKey      = "pair_key"
	ConversationFieldParticipants = "participants"
	ConversationFieldMaxSeq       = "max_seq"
	ConversationFieldLastMessage  = "last_message"
	ConversationFieldLastSeq      = "last_message.seq"
	ConversationFieldCreateTime   = "create_time"
	ConversationFieldUpdateTime   = "update_time"
)

// LastMessage 会话最后一条消息的快照，列表页不用再查消息表
type LastMessage struct {
	MessageID primitive.ObjectID `bson:"message_id"`
	SenderID  string             `bson:"sender_id"`
	Text      string             `bson:"text"`
	SendTime  time.Time          `bson:"send_time"`
	Seq       int64              `bson:"seq"`
}

// Conversation 两人单聊的会话元数据，消息本体在 msg 表，这里只放水位和最后一条
type Conversation struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	PairKey      string             `bson:"pair_key"`     // 排序后的双方ID拼接，唯一
	Participants []string           `bson:"participants"` // 恰好两个，已排序
	MaxSeq       int64              `bson:"max_seq"`      // 已发出的最大序号
	LastMessage  *LastMessage       `bson:"last_message,omitempty"`
	CreateTime   time.Time          `bson:"create_time"`
	UpdateTime   time.Time          `bson:"update_time"`
}

func (c *Conversation) GetTableName() string {
	return ConversationTableName
}

// HasParticipant 是否会话成员
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// PeerOf 返回另一方；userID 不在会话里返回空
func (c *Conversation) PeerOf(userID string) string {
	if len(c.Participants) != 2 {
		return ""
	}
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}
