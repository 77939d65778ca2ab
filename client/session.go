package client

import (
	"context"
	"sync"
	"time"

	"MarketChat/logger"
	"MarketChat/service/chat"
	"MarketChat/tools/safe"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session 登录态下的聊天会话：持有连接、会话列表和已打开的会话视图
type Session struct {
	SelfID    string
	API       *API
	Conn      *ConnectionManager
	Summaries *ChatSummaries
	tokens    *Tokens

	mu     sync.Mutex
	views  map[string]*ConversationView
	peers  map[string]string // conversationID -> peerID
	cancel func()
}

func NewSession(selfID string, api *API, tokens *Tokens, wsURL string) *Session {
	s := &Session{
		SelfID:    selfID,
		API:       api,
		tokens:    tokens,
		Summaries: NewChatSummaries(selfID, nil),
		views:     make(map[string]*ConversationView),
		peers:     make(map[string]string),
	}
	s.Conn = NewConnectionManager(Options{URL: wsURL, Refresh: api.RefreshTokens})
	return s
}

// Start 拉会话列表并建立连接
func (s *Session) Start(ctx context.Context) error {
	s.cancel = s.Conn.OnEvent(s.route)
	if err := s.Conn.Connect(ctx, s.tokens.Access()); err != nil {
		return err
	}
	rows, err := s.API.LastChats(ctx)
	if err != nil {
		return err
	}
	s.Summaries.Reset(rows)
	return nil
}

func (s *Session) Stop() {
	s.Conn.Disconnect()
	if s.cancel != nil {
		s.cancel()
	}
}

// Open 打开与 peer 的会话：拉历史、本地清零未读、发 seen
func (s *Session) Open(ctx context.Context, peerID string) (*ConversationView, error) {
	cv, err := s.API.With(ctx, peerID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	v, ok := s.views[cv.ConversationID]
	if !ok {
		v = NewConversationView(cv.ConversationID, s.SelfID)
		s.views[cv.ConversationID] = v
	}
	s.peers[cv.ConversationID] = peerID
	s.mu.Unlock()

	v.LoadFetched(cv.Messages)
	s.Summaries.Open(cv.ConversationID)
	v.MarkPeerViewed()
	lastID := ""
	if n := len(cv.Messages); n > 0 {
		lastID = cv.Messages[n-1].ID
	}
	if err := s.Conn.Seen(cv.ConversationID, peerID, lastID); err != nil {
		logger.Warn("[Client] seen not sent", zap.Error(err))
	}
	return v, nil
}

// CloseView 离开当前会话
func (s *Session) CloseView() { s.Summaries.Close() }

// Send 先本地渲染再发出；返回幂等键
func (s *Session) Send(conversationID, text string) (string, error) {
	s.mu.Lock()
	v := s.views[conversationID]
	peerID := s.peers[conversationID]
	s.mu.Unlock()
	key := uuid.NewString()
	if v != nil {
		v.AddPending(key, text, time.Now())
	}
	_, err := s.Conn.SendMessage(conversationID, peerID, text, key)
	return key, err
}

// Resend 重连后按原幂等键重发未确认的消息
func (s *Session) Resend(conversationID string) int {
	s.mu.Lock()
	v := s.views[conversationID]
	peerID := s.peers[conversationID]
	s.mu.Unlock()
	if v == nil {
		return 0
	}
	n := 0
	for _, e := range v.Pending() {
		if _, err := s.Conn.SendMessage(conversationID, peerID, e.Text, e.ClientKey); err == nil {
			n++
		}
	}
	return n
}

// refetch seen 指向本地没有的消息时重新拉一次会话，以服务端 viewed 为准
func (s *Session) refetch(v *ConversationView) {
	safe.Go("client-refetch", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cv, err := s.API.Chat(ctx, v.ConversationID())
		if err != nil {
			logger.Warn("[Client] refetch after seen", zap.String("conv", v.ConversationID()), zap.Error(err))
			return
		}
		v.LoadFetched(cv.Messages)
	})
}

func (s *Session) View(conversationID string) *ConversationView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[conversationID]
}

func (s *Session) route(ev Event) {
	switch ev.Name {
	case chat.EventMessage:
		var out chat.MessageOut
		if ev.Decode(&out) != nil {
			return
		}
		s.Summaries.ApplyLive(out)
		if v := s.View(out.ConversationID); v != nil && v.ApplyLive(out) &&
			s.Summaries.Active() == out.ConversationID {
			v.MarkPeerViewed()
			_ = s.Conn.Seen(out.ConversationID, out.From.ID, out.Message.ID)
		}
	case chat.EventAck:
		var ack chat.AckOut
		if ev.Decode(&ack) != nil {
			return
		}
		if v := s.View(ack.ConversationID); v != nil {
			v.ApplyAck(ack)
		}
	case chat.EventSeen:
		var seen chat.SeenOut
		if ev.Decode(&seen) != nil {
			return
		}
		if v := s.View(seen.ConversationID); v != nil && !v.ApplySeen(seen) {
			s.refetch(v)
		}
	case chat.EventError:
		var e chat.ErrorOut
		if ev.Decode(&e) == nil {
			logger.Warn("[Client] server error", zap.String("event", e.Event), zap.String("error", e.Error))
		}
	}
}
