package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"MarketChat/logger"
	midsec "MarketChat/middleware/security"
	userstore "MarketChat/module/user/store"
	"MarketChat/service/chat/bus"
	"MarketChat/service/storage"
	"MarketChat/tools/errs"
	sec "MarketChat/tools/security"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	NodeID   string
	Verifier sec.TokenVerifier
	Users    userstore.Directory
	Auth     *midsec.Options
	Bus      bus.Bus          // nil 时只在本节点投递
	Presence storage.Presence // 可选
	Manager  ManagerConf

	SendQueue       int
	ReadLimit       int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	HandlerTimeout  time.Duration
	EventsPerSecond float64
	Burst           int
	CheckOrigin     func(r *http.Request) bool
}

func (o *Options) norm() {
	if o.Auth == nil {
		o.Auth = midsec.DefaultOptions()
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 10 * time.Second
	}
	if o.Manager.IdleTTL <= 0 {
		o.Manager.IdleTTL = 2 * o.PongWait
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

// Server 网关：本节点连接 + 跨节点转发
type Server struct {
	opts     Options
	connMgr  *ConnManager
	disp     *Dispatcher
	bus      bus.Bus
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(opts Options) *Server {
	opts.norm()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:    opts,
		connMgr: NewConnManagerWithConf(opts.Manager, opts.NodeID),
		disp:    NewDispatcher(),
		bus:     opts.Bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) ConnMgr() *ConnManager { return s.connMgr }

func (s *Server) NodeID() string { return s.opts.NodeID }

// Start 订阅跨节点总线
func (s *Server) Start() error {
	if s.bus == nil {
		return nil
	}
	if err := s.bus.StartForwarder(s.ctx, s.onRelay); err != nil {
		return errs.ErrUnavailable.WrapMsg("start relay forwarder", "err", err.Error())
	}
	logger.Info("[Gateway] relay forwarder started", zap.String("node", s.opts.NodeID))
	return nil
}

// Close 断开全部连接，等读协程退出
func (s *Server) Close() {
	s.cancel()
	s.connMgr.Close()
	s.wg.Wait()
	if s.bus != nil {
		_ = s.bus.Close()
	}
}

// EmitToUser 发给用户组：本节点直接投递，再经总线给其他节点
func (s *Server) EmitToUser(ctx context.Context, userID, event string, data any) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	n := s.connMgr.BroadcastUser(userID, frame)
	logger.Debug("[Gateway] emit",
		zap.String("event", event), zap.String("user", userID), zap.Int("local", n))
	if s.bus == nil {
		return nil
	}
	env := bus.Envelope{Origin: s.opts.NodeID, UserID: userID, Frame: frame}
	if err := s.bus.Publish(ctx, env); err != nil {
		return errs.ErrUnavailable.WrapMsg("relay publish", "err", err.Error())
	}
	return nil
}

// Reply 只回给这条连接
func (s *Server) Reply(c *Client, event string, data any) bool {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		logger.Error("[Gateway] encode reply", zap.String("event", event), zap.Error(err))
		return false
	}
	return s.connMgr.deliver(c, frame)
}

func (s *Server) onRelay(env bus.Envelope) {
	if env.Origin == s.opts.NodeID || env.UserID == "" {
		return
	}
	s.connMgr.BroadcastUser(env.UserID, env.Frame)
}

func (s *Server) online(c *Client) {
	if s.opts.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	if err := s.opts.Presence.Online(ctx, c.UserID, c.ConnID, s.opts.NodeID); err != nil {
		logger.Warn("[Gateway] presence online", zap.String("user", c.UserID), zap.Error(err))
	}
}

func (s *Server) offline(c *Client) {
	if s.opts.Presence == nil {
		return
	}
	// 进程退出时 s.ctx 已取消，这里单独给超时
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.opts.Presence.Offline(ctx, c.UserID, c.ConnID); err != nil {
		logger.Warn("[Gateway] presence offline", zap.String("user", c.UserID), zap.Error(err))
	}
}
