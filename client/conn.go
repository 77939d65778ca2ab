package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"MarketChat/logger"
	"MarketChat/service/chat"
	"MarketChat/tools/errs"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event 服务端推来的一帧
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode 按事件类型解出 payload
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errs.WrapMsg(err, "decode event", "event", e.Name)
	}
	return nil
}

// Refresher 换新的 access token；握手返回 "jwt expired" 时调用一次
type Refresher func(ctx context.Context) (string, error)

type Options struct {
	URL       string // ws://host/socket-message
	Refresh   Refresher
	Dialer    *websocket.Dialer
	SendQueue int
	WriteWait time.Duration
	ReadyWait time.Duration // 升级后等 chat:ready 的上限
}

// ConnectionManager 客户端连接生命周期：Connect / Disconnect / OnEvent
type ConnectionManager struct {
	opts Options

	mu       sync.Mutex
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	handlers map[int]func(Event)
	nextID   int
	wg       sync.WaitGroup
}

func NewConnectionManager(opts Options) *ConnectionManager {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 64
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.ReadyWait <= 0 {
		opts.ReadyWait = 10 * time.Second
	}
	return &ConnectionManager{opts: opts, handlers: make(map[int]func(Event))}
}

// OnEvent 注册事件回调，返回取消函数；回调在读协程里串行执行
func (m *ConnectionManager) OnEvent(h func(Event)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = h
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// Connected 当前是否有活动连接
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ws != nil
}

// Connect 建立连接；"jwt expired" 时刷新一次再重连，其它鉴权错误直接返回（需要重新登录）
func (m *ConnectionManager) Connect(ctx context.Context, credential string) error {
	if m.Connected() {
		return errs.ErrPrecondition.WrapMsg("already connected")
	}
	err := m.dial(ctx, credential)
	if err == nil {
		return nil
	}
	apiErr, ok := err.(*APIError)
	if !ok || !apiErr.Expired() || m.opts.Refresh == nil {
		return err
	}
	logger.Info("[Client] credential expired, refreshing once")
	fresh, rerr := m.opts.Refresh(ctx)
	if rerr != nil {
		return errs.ErrAuthExpired.WrapMsg("refresh failed", "err", rerr.Error())
	}
	return m.dial(ctx, fresh)
}

func (m *ConnectionManager) dial(ctx context.Context, credential string) error {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	ws, resp, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return readAPIError(resp)
		}
		return errs.ErrUnavailable.WrapMsg("dial gateway", "err", err.Error())
	}

	// 升级成功后服务端仍可能拒绝（比如连接数超限），以收到 chat:ready 为准
	ready, err := m.awaitReady(ctx, ws)
	if err != nil {
		_ = ws.Close()
		return err
	}

	m.mu.Lock()
	m.ws = ws
	m.send = make(chan []byte, m.opts.SendQueue)
	m.done = make(chan struct{})
	send, done := m.send, m.done
	m.mu.Unlock()

	m.wg.Add(2)
	go m.writeLoop(ws, send, done)
	m.dispatch(ready)
	go m.readLoop(ws, done)
	return nil
}

// awaitReady 读第一帧，必须是 chat:ready；关闭帧带的原因原样返回
func (m *ConnectionManager) awaitReady(ctx context.Context, ws *websocket.Conn) (Event, error) {
	deadline := time.Now().Add(m.opts.ReadyWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	defer ws.SetReadDeadline(time.Time{})

	_, raw, err := ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			if ce.Code == websocket.ClosePolicyViolation {
				return Event{}, errs.ErrForbidden.WrapMsg("gateway rejected connection", "code", ce.Code, "reason", ce.Text)
			}
			return Event{}, errs.ErrUnavailable.WrapMsg("gateway closed connection", "code", ce.Code, "reason", ce.Text)
		}
		return Event{}, errs.ErrUnavailable.WrapMsg("wait chat:ready", "err", err.Error())
	}
	f, err := chat.ParseFrameJSON(raw)
	if err != nil {
		return Event{}, errs.ErrUnavailable.WrapMsg("bad first frame", "err", err.Error())
	}
	if f.Event != chat.EventReady {
		return Event{}, errs.ErrUnavailable.WrapMsg("expected chat:ready", "event", f.Event)
	}
	return Event{Name: f.Event, Data: f.Data}, nil
}

// dispatch 回调在读协程里串行执行
func (m *ConnectionManager) dispatch(ev Event) {
	m.mu.Lock()
	hs := make([]func(Event), 0, len(m.handlers))
	for _, h := range m.handlers {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// Disconnect 主动断开；可重复调用
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	ws, done := m.ws, m.done
	m.ws = nil
	m.mu.Unlock()
	if ws == nil {
		return
	}
	select {
	case <-done:
	default:
		close(done)
	}
	m.wg.Wait()
}

func (m *ConnectionManager) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if m.ws == ws {
			m.ws = nil
			select {
			case <-done:
			default:
				close(done)
			}
		}
		m.mu.Unlock()
	}()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				logger.Info("[Client] connection closed", zap.Error(err))
			}
			return
		}
		var f chat.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Warn("[Client] bad frame", zap.Error(err))
			continue
		}
		m.dispatch(Event{Name: f.Event, Data: f.Data})
	}
}

func (m *ConnectionManager) writeLoop(ws *websocket.Conn, send chan []byte, done chan struct{}) {
	defer m.wg.Done()
	defer ws.Close()
	for {
		select {
		case msg := <-send:
			_ = ws.SetWriteDeadline(time.Now().Add(m.opts.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(m.opts.WriteWait))
			return
		}
	}
}

// Emit 发送任意事件
func (m *ConnectionManager) Emit(event string, data any) error {
	raw, err := chat.EncodeFrame(event, data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	send, done, ws := m.send, m.done, m.ws
	m.mu.Unlock()
	if ws == nil {
		return errs.ErrUnavailable.WrapMsg("not connected")
	}
	select {
	case <-done:
		return errs.ErrUnavailable.WrapMsg("not connected")
	default:
	}
	select {
	case send <- raw:
		return nil
	default:
		return errs.ErrUnavailable.WrapMsg("send queue full")
	}
}

// SendMessage 发送新消息，返回本地幂等键；重发时传回同一个 key
func (m *ConnectionManager) SendMessage(conversationID, to, text, clientKey string) (string, error) {
	if clientKey == "" {
		clientKey = uuid.NewString()
	}
	err := m.Emit(chat.EventNew, chat.NewMessageIn{
		ConversationID: conversationID,
		To:             to,
		Message: chat.OutgoingMessage{
			ClientKey: clientKey,
			Time:      time.Now(),
			Text:      text,
		},
	})
	return clientKey, err
}

func (m *ConnectionManager) Seen(conversationID, peerID, messageID string) error {
	return m.Emit(chat.EventSeen, chat.SeenIn{ConversationID: conversationID, PeerID: peerID, MessageID: messageID})
}

func (m *ConnectionManager) Typing(conversationID, to string, active bool) error {
	return m.Emit(chat.EventTyping, chat.TypingIn{ConversationID: conversationID, To: to, Active: active})
}
