package client

import (
	"sort"
	"sync"
	"time"

	chatsvc "MarketChat/module/chat/service"
	"MarketChat/service/chat"
)

// Entry 视图里的一条消息；Pending 表示本地已渲染、服务端还没确认
type Entry struct {
	ID        string
	ClientKey string
	Seq       int64
	SenderID  string
	Text      string
	Time      time.Time
	Viewed    bool
	Pending   bool
}

// ConversationView 单个会话的合并视图：拉取的历史 + 实时推送 + 本地待确认
// 去重键是服务端 id；本地消息用幂等键标记，确认后被服务端副本替换
type ConversationView struct {
	mu             sync.Mutex
	conversationID string
	selfID         string
	byID           map[string]*Entry
	byKey          map[string]*Entry
}

func NewConversationView(conversationID, selfID string) *ConversationView {
	return &ConversationView{
		conversationID: conversationID,
		selfID:         selfID,
		byID:           make(map[string]*Entry),
		byKey:          make(map[string]*Entry),
	}
}

func (v *ConversationView) ConversationID() string { return v.conversationID }

// AddPending 本地发送时立即渲染
func (v *ConversationView) AddPending(clientKey, text string, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.byKey[clientKey]; ok {
		return
	}
	v.byKey[clientKey] = &Entry{
		ClientKey: clientKey,
		SenderID:  v.selfID,
		Text:      text,
		Time:      at,
		Pending:   true,
	}
}

// LoadFetched 合并一次 fetch 的结果
func (v *ConversationView) LoadFetched(msgs []chatsvc.MessageView) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range msgs {
		if m.ConversationID != "" && m.ConversationID != v.conversationID {
			continue
		}
		v.upsertLocked(m)
	}
}

// ApplyLive 实时收到的 chat:message
func (v *ConversationView) ApplyLive(out chat.MessageOut) bool {
	if out.ConversationID != v.conversationID {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.upsertLocked(out.Message)
}

// ApplyAck 自己发的消息被服务端确认
func (v *ConversationView) ApplyAck(ack chat.AckOut) bool {
	if ack.ConversationID != v.conversationID {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.byKey[ack.ClientKey]
	if !ok {
		return false
	}
	if e.ID == "" {
		e.ID = ack.MessageID
		e.Seq = ack.Seq
		e.Time = ack.Time
		e.Pending = false
		v.byID[e.ID] = e
	}
	return true
}

// ApplySeen 对方已读到 MessageID：只标记 seq 不超过它的自己的消息
// 本地找不到这条 id 时返回 false，调用方应重新拉取
func (v *ConversationView) ApplySeen(s chat.SeenOut) bool {
	if s.ConversationID != v.conversationID {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	upTo, ok := v.byID[s.MessageID]
	if !ok || upTo.Seq <= 0 {
		return false
	}
	for _, e := range v.byID {
		if e.SenderID == v.selfID && e.Seq > 0 && e.Seq <= upTo.Seq {
			e.Viewed = true
		}
	}
	return true
}

// MarkPeerViewed 本地打开会话后把对方消息置为已读
func (v *ConversationView) MarkPeerViewed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.byID {
		if e.SenderID != v.selfID {
			e.Viewed = true
		}
	}
}

// upsertLocked 返回是否新增了一条
func (v *ConversationView) upsertLocked(m chatsvc.MessageView) bool {
	if e, ok := v.byID[m.ID]; ok {
		// viewed 只会从 false 变 true
		e.Viewed = e.Viewed || m.Viewed
		return false
	}
	if m.ClientKey != "" && m.User.ID == v.selfID {
		if e, ok := v.byKey[m.ClientKey]; ok {
			e.ID, e.Seq, e.Time, e.Text = m.ID, m.Seq, m.Time, m.Text
			e.Viewed = e.Viewed || m.Viewed
			e.Pending = false
			v.byID[m.ID] = e
			return false
		}
	}
	e := &Entry{
		ID:        m.ID,
		ClientKey: m.ClientKey,
		Seq:       m.Seq,
		SenderID:  m.User.ID,
		Text:      m.Text,
		Time:      m.Time,
		Viewed:    m.Viewed,
	}
	v.byID[m.ID] = e
	if e.ClientKey != "" && e.SenderID == v.selfID {
		v.byKey[e.ClientKey] = e
	}
	return true
}

// Messages 已确认的按 seq，待确认的排在最后按本地时间
func (v *ConversationView) Messages() []Entry {
	v.mu.Lock()
	out := make([]Entry, 0, len(v.byID)+len(v.byKey))
	for _, e := range v.byID {
		out = append(out, *e)
	}
	for _, e := range v.byKey {
		if e.Pending {
			out = append(out, *e)
		}
	}
	v.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return a.Time.Before(b.Time)
		}
		return a.Seq < b.Seq
	})
	return out
}

// Pending 还没确认的本地消息，重连后可按原 key 重发
func (v *ConversationView) Pending() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []Entry
	for _, e := range v.byKey {
		if e.Pending {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
