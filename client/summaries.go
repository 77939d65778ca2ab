package client

import (
	"sort"
	"sync"

	chatsvc "MarketChat/module/chat/service"
	"MarketChat/service/chat"
)

// ChatSummaries 会话列表 + 总未读角标
type ChatSummaries struct {
	mu     sync.Mutex
	selfID string
	rows   map[string]*chatsvc.ChatSummary
	active string
}

func NewChatSummaries(selfID string, rows []chatsvc.ChatSummary) *ChatSummaries {
	s := &ChatSummaries{selfID: selfID}
	s.Reset(rows)
	return s
}

// Reset 用一次 last-chats 的结果覆盖
func (s *ChatSummaries) Reset(rows []chatsvc.ChatSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = make(map[string]*chatsvc.ChatSummary, len(rows))
	for i := range rows {
		r := rows[i]
		s.rows[r.ConversationID] = &r
	}
	if s.active != "" {
		if r, ok := s.rows[s.active]; ok {
			r.UnreadChatCounts = 0
		}
	}
}

// Badge 所有会话未读之和
func (s *ChatSummaries) Badge() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		n += r.UnreadChatCounts
	}
	return n
}

func (s *ChatSummaries) Unread(conversationID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[conversationID]; ok {
		return r.UnreadChatCounts
	}
	return 0
}

// Open 打开会话：先本地清零，调用方随后发 seen
func (s *ChatSummaries) Open(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conversationID
	if r, ok := s.rows[conversationID]; ok {
		r.UnreadChatCounts = 0
	}
}

// Close 离开当前会话
func (s *ChatSummaries) Close() {
	s.mu.Lock()
	s.active = ""
	s.mu.Unlock()
}

func (s *ChatSummaries) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ApplyLive 收到新消息：更新最后一条；不是当前会话时未读 +1
func (s *ChatSummaries) ApplyLive(out chat.MessageOut) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[out.ConversationID]
	if !ok {
		r = &chatsvc.ChatSummary{ConversationID: out.ConversationID, Peer: out.From}
		s.rows[out.ConversationID] = r
	}
	r.LastMessage = out.Message.Text
	r.LastSenderID = out.Message.User.ID
	r.LastTimestamp = out.Message.Time
	if out.From.ID != s.selfID && out.ConversationID != s.active {
		r.UnreadChatCounts++
	}
}

// Rows 按最后消息时间倒序
func (s *ChatSummaries) Rows() []chatsvc.ChatSummary {
	s.mu.Lock()
	out := make([]chatsvc.ChatSummary, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, *r)
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastTimestamp.After(out[j].LastTimestamp) })
	return out
}
