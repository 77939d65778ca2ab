package message

import (
	"context"
	"sort"
	"strings"
	"time"

	chatmodel "MarketChat/module/chat/model"
	"MarketChat/tools/errs"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store 会话与消息的持久化契约。
// 会话元数据与消息日志分开存放：追加只写消息表和元数据的水位，汇总只读元数据加一次聚合。
type Store interface {
	// GetOrCreate 按排序后的双方ID幂等创建会话，并发首次联系只会产生一条
	GetOrCreate(ctx context.Context, userA, userB string) (*chatmodel.Conversation, error)
	Get(ctx context.Context, conversationID string) (*chatmodel.Conversation, error)
	// Append 追加一条消息；同一发送者重复的 ClientMsgID 返回第一次的消息，Duplicate=true
	Append(ctx context.Context, in AppendParams) (*AppendResult, error)
	// Messages 按 seq 升序返回整段日志
	Messages(ctx context.Context, conversationID string) ([]*chatmodel.MessageModel, error)
	// MarkViewed 把 peerID 发出的未读消息全部置为已读，返回本次改动条数
	MarkViewed(ctx context.Context, conversationID, readerID, peerID string) (int64, error)
	// Summaries 用户参与的、至少有一条消息的会话，按更新时间倒序，带未读数
	Summaries(ctx context.Context, userID string) ([]*Summary, error)
}

type AppendParams struct {
	ConversationID string
	SenderID       string
	RecipientID    string
	ClientMsgID    string
	Text           string
	SendTime       time.Time
}

type AppendResult struct {
	Message   *chatmodel.MessageModel
	Duplicate bool
}

type Summary struct {
	Conversation *chatmodel.Conversation
	PeerID       string
	Unread       int64
}

const pairSep = "_"

// PairKey 双方ID排序后拼接，与顺序无关
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, pairSep)
}

func sortedPair(a, b string) []string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids
}

// ValidID 用户ID、会话ID 都是 24 位 hex 的 ObjectID
func ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

func checkPair(a, b string) error {
	if !ValidID(a) || !ValidID(b) {
		return errs.ErrInvalidArgument.WrapMsg("invalid user id")
	}
	if a == b {
		return errs.ErrInvalidArgument.WrapMsg("cannot start a conversation with yourself")
	}
	return nil
}

func parseConvID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.ErrInvalidArgument.WrapMsg("invalid conversation id")
	}
	return oid, nil
}

func (in *AppendParams) validate() error {
	if err := checkPair(in.SenderID, in.RecipientID); err != nil {
		return err
	}
	if strings.TrimSpace(in.Text) == "" {
		return errs.ErrInvalidArgument.WrapMsg("message text is empty")
	}
	if in.SendTime.IsZero() {
		in.SendTime = time.Now()
	}
	return nil
}
