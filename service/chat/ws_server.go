package chat

import (
	"context"
	"net"
	"time"

	"MarketChat/logger"
	"MarketChat/middleware"
	midsec "MarketChat/middleware/security"
	"MarketChat/tools/errs"
	"MarketChat/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HandleWS 握手前先校验 token；失败直接返回 401/403 + {"error": ...}，不会升级也不会入组
func (s *Server) HandleWS(c *gin.Context) {
	u, err := midsec.Authenticate(c.Request, s.opts.Verifier, s.opts.Users, s.opts.Auth)
	if err != nil {
		logger.Info("[HandleWS] handshake rejected",
			zap.String("remote", c.ClientIP()), zap.String("reason", errs.Message(err)))
		middleware.Fail(c, err)
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 WebSocket 请求，upgrader 已经写过响应
		logger.Info("[HandleWS] upgrade websocket error", zap.Error(err))
		return
	}

	var limiter *rate.Limiter
	if s.opts.EventsPerSecond > 0 {
		burst := s.opts.Burst
		if burst <= 0 {
			burst = int(s.opts.EventsPerSecond) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.opts.EventsPerSecond), burst)
	}
	client := NewClient(ids.GenerateString(), ws, s.opts.SendQueue, limiter)
	client.authenticate(u)

	if err := s.connMgr.Join(client); err != nil {
		logger.Warn("[HandleWS] join failed", zap.String("user", client.UserID), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(s.opts.WriteWait))
		_ = ws.Close()
		return
	}
	s.online(client)
	logger.Info("[HandleWS] joined",
		zap.String("user", client.UserID), zap.String("conn", client.ConnID), zap.String("node", s.opts.NodeID))

	s.wg.Add(1)
	go s.writePump(client)
	s.Reply(client, EventReady, ReadyOut{ConnID: client.ConnID, User: client.Profile})

	s.readLoop(client)

	s.connMgr.Leave(client.ConnID)
	s.offline(client)
	logger.Info("[HandleWS] left", zap.String("user", client.UserID), zap.String("conn", client.ConnID))
}

// readLoop 同一连接的事件串行处理：落库 -> 转发 -> 推送，处理完才读下一帧
func (s *Server) readLoop(c *Client) {
	ws := c.WS
	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		_ = s.connMgr.Heartbeat(c.ConnID)
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debug("[WS] peer closed", zap.String("conn", c.ConnID))
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Info("[WS] read timeout", zap.String("conn", c.ConnID))
			} else if c.State() != StateDisconnected {
				logger.Info("[WS] read err", zap.String("conn", c.ConnID), zap.Error(rerr))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = s.connMgr.Heartbeat(c.ConnID)

		frame, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Info("[WS] parse frame", zap.String("conn", c.ConnID), zap.ByteString("sample", sample))
			s.Reply(c, EventError, NewErrorOut("", perr))
			continue
		}
		if !c.allow() {
			s.Reply(c, EventError, ErrorOut{Event: frame.Event, Error: "rate limited"})
			continue
		}
		s.handle(c, frame)
	}
}

func (s *Server) handle(c *Client, frame *Frame) {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.HandlerTimeout)
	defer cancel()
	err := s.disp.Dispatch(&ChatContext{Context: ctx, S: s, Conn: c}, frame)
	if err == nil {
		return
	}
	// 错误只告诉发起的这条连接
	if errs.HTTPStatus(err) >= 500 {
		logger.Error("[WS] handle event",
			zap.String("event", frame.Event), zap.String("user", c.UserID), zap.Error(err))
	} else {
		logger.Info("[WS] reject event",
			zap.String("event", frame.Event), zap.String("user", c.UserID), zap.Error(err))
	}
	s.Reply(c, EventError, NewErrorOut(frame.Event, err))
}

// writePump 唯一的写协程：出站队列 + 定时 ping
func (s *Server) writePump(c *Client) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.WS.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
		_ = c.WS.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.WS.Close()
	}()

	for {
		select {
		case msg := <-c.Send:
			if err := s.write(c, websocket.TextMessage, msg); err != nil {
				s.connMgr.Leave(c.ConnID)
				return
			}
		case <-ticker.C:
			if err := s.write(c, websocket.PingMessage, nil); err != nil {
				s.connMgr.Leave(c.ConnID)
				return
			}
			s.online(c)
		case <-c.Done():
			// 先把已入队的帧写完
			for {
				select {
				case msg := <-c.Send:
					if s.write(c, websocket.TextMessage, msg) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Server) write(c *Client, mt int, data []byte) error {
	if err := c.WS.SetWriteDeadline(time.Now().Add(s.opts.WriteWait)); err != nil {
		return err
	}
	return c.WS.WriteMessage(mt, data)
}
