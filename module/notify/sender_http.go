package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"MarketChat/logger"
	"MarketChat/tools/errs"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type HTTPSenderConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`  // FCM v1 send 接口或兼容网关
	AuthToken    string        `mapstructure:"authToken"` // Bearer
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxFailures  uint32        `mapstructure:"maxFailures"`  // 连续失败多少次熔断
	OpenInterval time.Duration `mapstructure:"openInterval"` // 熔断后多久半开
}

// HTTPSender 按 FCM v1 的 message 结构 POST；外层套熔断，推送平台挂了不拖垮发送链路
type HTTPSender struct {
	cfg    HTTPSenderConfig
	client *http.Client
	cb     *gobreaker.CircuitBreaker
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func NewHTTPSender(cfg HTTPSenderConfig) *HTTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenInterval <= 0 {
		cfg.OpenInterval = 30 * time.Second
	}
	s := &HTTPSender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "push-sender",
		Timeout: cfg.OpenInterval,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[Push] breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return s
}

func (s *HTTPSender) Send(ctx context.Context, token string, n Notification) error {
	if s.cfg.Endpoint == "" {
		return errs.ErrUnavailable.WrapMsg("push endpoint not configured")
	}
	body, err := json.Marshal(fcmRequest{Message: fcmMessage{
		Token:        token,
		Notification: fcmNotification{Title: n.Title, Body: n.Body},
		Data:         n.Data,
	}})
	if err != nil {
		return errs.WrapMsg(err, "marshal push")
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.post(ctx, body)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errs.ErrUnavailable.WrapMsg("push sender circuit open")
	}
	return err
}

func (s *HTTPSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errs.WrapMsg(err, "build push request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("push request", "err", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.ErrUnavailable.WrapMsg(fmt.Sprintf("push status %d", resp.StatusCode), "body", string(msg))
	}
	return nil
}
