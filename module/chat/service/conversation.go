package service

import (
	"context"
	"errors"
	"time"

	"MarketChat/module/chat/message"
	chatmodel "MarketChat/module/chat/model"
	usermodel "MarketChat/module/user/model"
	userstore "MarketChat/module/user/store"
	"MarketChat/tools/errs"
)

// MessageView 下发给客户端的一条消息
type MessageView struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	Seq            int64             `json:"seq"`
	ClientKey      string            `json:"clientKey,omitempty"`
	Text           string            `json:"text"`
	Time           time.Time         `json:"time"`
	Viewed         bool              `json:"viewed"`
	User           usermodel.Profile `json:"user"`
}

// ConversationView 打开会话时返回：自己、对方和按 seq 排好的消息
type ConversationView struct {
	ConversationID string            `json:"conversationId"`
	Self           usermodel.Profile `json:"self"`
	Peer           usermodel.Profile `json:"peer"`
	Messages       []MessageView     `json:"messages"`
}

// ChatSummary 会话列表的一行
type ChatSummary struct {
	ConversationID   string            `json:"conversationId"`
	Peer             usermodel.Profile `json:"peerProfile"`
	LastMessage      string            `json:"lastMessage"`
	LastSenderID     string            `json:"lastSenderId"`
	LastTimestamp    time.Time         `json:"timestamp"`
	UnreadChatCounts int64             `json:"unreadChatCounts"`
}

type SendParams struct {
	ConversationID string
	Sender         usermodel.Profile
	RecipientID    string
	ClientKey      string
	Text           string
	Time           time.Time
}

type SendResult struct {
	Message   MessageView
	Duplicate bool
}

func NewMessageView(m *chatmodel.MessageModel, sender usermodel.Profile) MessageView {
	if sender.ID == "" {
		sender.ID = m.SenderID
	}
	return MessageView{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID.Hex(),
		Seq:            m.Seq,
		ClientKey:      m.ClientMsgID,
		Text:           m.Text,
		Time:           m.SendTime,
		Viewed:         m.Viewed,
		User:           sender,
	}
}

// Conversations 会话读写入口，REST 和网关都走这里
type Conversations struct {
	store message.Store
	users userstore.Directory
}

func NewConversations(store message.Store, users userstore.Directory) *Conversations {
	return &Conversations{store: store, users: users}
}

// With 与 peer 的会话，不存在就建一条
func (s *Conversations) With(ctx context.Context, selfID, peerID string) (*ConversationView, error) {
	if !message.ValidID(peerID) || !message.ValidID(selfID) {
		return nil, errs.ErrInvalidArgument.WrapMsg("Invalid user id!")
	}
	if selfID == peerID {
		return nil, errs.ErrInvalidArgument.WrapMsg("cannot start a conversation with yourself")
	}
	if _, err := s.users.Get(ctx, peerID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.ErrNotFound.WrapMsg("User not found!")
		}
		return nil, err
	}
	conv, err := s.store.GetOrCreate(ctx, selfID, peerID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, selfID, conv)
}

// Fetch 按会话ID取整段消息；只有成员能看
func (s *Conversations) Fetch(ctx context.Context, selfID, conversationID string) (*ConversationView, error) {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(selfID) {
		return nil, errs.ErrForbidden.WrapMsg("not a participant of this conversation")
	}
	return s.view(ctx, selfID, conv)
}

func (s *Conversations) view(ctx context.Context, selfID string, conv *chatmodel.Conversation) (*ConversationView, error) {
	msgs, err := s.store.Messages(ctx, conv.ID.Hex())
	if err != nil {
		return nil, err
	}
	peerID := conv.PeerOf(selfID)
	profiles, err := s.users.Profiles(ctx, conv.Participants)
	if err != nil {
		return nil, err
	}
	out := &ConversationView{
		ConversationID: conv.ID.Hex(),
		Self:           profileOr(profiles, selfID),
		Peer:           profileOr(profiles, peerID),
		Messages:       make([]MessageView, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, NewMessageView(m, profileOr(profiles, m.SenderID)))
	}
	return out, nil
}

// Summaries 会话列表：最后一条 + 未读数
func (s *Conversations) Summaries(ctx context.Context, selfID string) ([]ChatSummary, error) {
	rows, err := s.store.Summaries(ctx, selfID)
	if err != nil {
		return nil, err
	}
	peerIDs := make([]string, 0, len(rows))
	for _, r := range rows {
		peerIDs = append(peerIDs, r.PeerID)
	}
	profiles, err := s.users.Profiles(ctx, peerIDs)
	if err != nil {
		return nil, err
	}
	out := make([]ChatSummary, 0, len(rows))
	for _, r := range rows {
		cs := ChatSummary{
			ConversationID:   r.Conversation.ID.Hex(),
			Peer:             profileOr(profiles, r.PeerID),
			UnreadChatCounts: r.Unread,
		}
		if lm := r.Conversation.LastMessage; lm != nil {
			cs.LastMessage = lm.Text
			cs.LastSenderID = lm.SenderID
			cs.LastTimestamp = lm.SendTime
		}
		out = append(out, cs)
	}
	return out, nil
}

// MarkViewed 自己把 peer 发来的消息全部置已读
func (s *Conversations) MarkViewed(ctx context.Context, selfID, conversationID, peerID string) (int64, error) {
	if !message.ValidID(peerID) {
		return 0, errs.ErrInvalidArgument.WrapMsg("Invalid user id!")
	}
	return s.store.MarkViewed(ctx, conversationID, selfID, peerID)
}

// Send 网关收到新消息时落库
func (s *Conversations) Send(ctx context.Context, in SendParams) (*SendResult, error) {
	res, err := s.store.Append(ctx, message.AppendParams{
		ConversationID: in.ConversationID,
		SenderID:       in.Sender.ID,
		RecipientID:    in.RecipientID,
		ClientMsgID:    in.ClientKey,
		Text:           in.Text,
		SendTime:       in.Time,
	})
	if err != nil {
		return nil, err
	}
	return &SendResult{
		Message:   NewMessageView(res.Message, in.Sender),
		Duplicate: res.Duplicate,
	}, nil
}

func profileOr(m map[string]usermodel.Profile, id string) usermodel.Profile {
	if p, ok := m[id]; ok {
		return p
	}
	return usermodel.Profile{ID: id}
}
