package notify

import (
	"context"
	"errors"
	"strings"

	userstore "MarketChat/module/user/store"
	"MarketChat/tools/errs"
)

// Notification 一条推送
type Notification struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func (n Notification) validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return errs.ErrInvalidArgument.WrapMsg("userId is required")
	}
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Body) == "" {
		return errs.ErrInvalidArgument.WrapMsg("title or body is required")
	}
	return nil
}

// Dispatcher 给用户发推送：查 token 再交给平台
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Sender 平台推送通道（FCM 等）
type Sender interface {
	Send(ctx context.Context, token string, n Notification) error
}

var (
	ErrUserNotFound = errs.ErrNotFound.WithDetail("User not found")
	ErrNoPushToken  = errs.ErrPrecondition.WithDetail("User does not have a notification token")
)

// Direct 同步发送
type Direct struct {
	users  userstore.Directory
	sender Sender
}

func NewDirect(users userstore.Directory, sender Sender) *Direct {
	return &Direct{users: users, sender: sender}
}

func (d *Direct) Dispatch(ctx context.Context, n Notification) error {
	if err := n.validate(); err != nil {
		return err
	}
	u, err := d.users.Get(ctx, n.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return ErrUserNotFound.Wrap()
		}
		return err
	}
	if u.NotificationToken == "" {
		return ErrNoPushToken.Wrap()
	}
	return d.sender.Send(ctx, u.NotificationToken, n)
}

// Nop 未配置推送时使用
type Nop struct{}

func (Nop) Dispatch(context.Context, Notification) error { return nil }

func errInvalidBody(err error) error {
	return errs.ErrInvalidArgument.WrapMsg("invalid request body", "err", err.Error())
}
