package chat

import (
	"sync"
	"sync/atomic"
	"time"

	usermodel "MarketChat/module/user/model"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ConnState 连接状态机：Connecting → Authenticated → Joined → Disconnected
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateJoined
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Client 一条 ws 连接；同一用户多端各自一条，都在以用户ID命名的组里
type Client struct {
	ConnID  string
	UserID  string
	Profile usermodel.Profile
	WS      *websocket.Conn
	Send    chan []byte // 出站队列，只由写协程消费
	done    chan struct{}

	CreatedAt time.Time
	heartbeat atomic.Int64 // unix nano
	state     atomic.Int32
	limiter   *rate.Limiter
	closeOnce sync.Once
}

// NewClient creates a new client connection object.
func NewClient(connID string, ws *websocket.Conn, sendQueueSize int, limiter *rate.Limiter) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	now := time.Now()
	c := &Client{
		ConnID:    connID,
		WS:        ws,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		CreatedAt: now,
		limiter:   limiter,
	}
	c.heartbeat.Store(now.UnixNano())
	return c
}

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

func (c *Client) setState(s ConnState) { c.state.Store(int32(s)) }

// authenticate 握手校验通过后绑定用户
func (c *Client) authenticate(u *usermodel.User) {
	c.UserID = u.UserID
	c.Profile = u.Profile()
	c.setState(StateAuthenticated)
}

func (c *Client) touch(now time.Time) { c.heartbeat.Store(now.UnixNano()) }

func (c *Client) lastSeen() time.Time { return time.Unix(0, c.heartbeat.Load()) }

// allow 入站限速，nil 表示不限
func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// enqueue 非阻塞写入；队列满视为慢连接
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Done 连接关闭后可读
func (c *Client) Done() <-chan struct{} { return c.done }

// shutdown 只执行一次；写协程随后发 close 帧并断开
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		close(c.done)
	})
}
