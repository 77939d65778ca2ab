package chat

import (
	"sync"
	"time"

	"MarketChat/logger"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	IdleTTL     time.Duration    // 多久没有心跳视为失联
	SweepEvery  time.Duration    // 清理周期
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时淘汰最老连接，否则 Join 报错
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 2 * time.Minute
	}
}

var ErrTooManyConns = errors.New("too many connections for user")

// ConnManager 本节点连接表：connID -> client，userID -> (connID -> client)
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	nodeID   string
}

func NewConnManager(nodeID string) *ConnManager {
	return NewConnManagerWithConf(ManagerConf{}, nodeID)
}

func NewConnManagerWithConf(conf ManagerConf, nodeID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		conf:   conf,
		nodeID: nodeID,
		stopCh: make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) NodeID() string { return m.nodeID }

// Close 停止清理协程并断开全部连接
func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	all := make([]*Client, 0, len(m.byConn))
	for _, c := range m.byConn {
		all = append(all, c)
	}
	m.byConn = map[string]*Client{}
	m.byUser = map[string]map[string]*Client{}
	m.mu.Unlock()

	for _, c := range all {
		c.shutdown()
	}
}

// Join 已认证连接加入用户组
func (m *ConnManager) Join(c *Client) error {
	if c == nil || c.ConnID == "" || c.UserID == "" {
		return errors.New("conn/user empty")
	}
	if c.State() != StateAuthenticated {
		return errors.Errorf("cannot join from state %s", c.State())
	}
	var evicted *Client
	m.mu.Lock()
	if _, exists := m.byConn[c.ConnID]; exists {
		m.mu.Unlock()
		return errors.New("connID exists")
	}
	if m.conf.MaxPerUser > 0 && len(m.byUser[c.UserID]) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			m.mu.Unlock()
			return ErrTooManyConns
		}
		evicted = m.oldestLocked(c.UserID)
		if evicted != nil {
			m.removeLocked(evicted)
		}
	}
	m.byConn[c.ConnID] = c
	if m.byUser[c.UserID] == nil {
		m.byUser[c.UserID] = make(map[string]*Client)
	}
	m.byUser[c.UserID][c.ConnID] = c
	c.touch(m.conf.Clock())
	c.setState(StateJoined)
	m.mu.Unlock()

	if evicted != nil {
		logger.Info("[ConnManager] evict oldest connection",
			zap.String("user", evicted.UserID), zap.String("conn", evicted.ConnID))
		evicted.shutdown()
	}
	return nil
}

// Leave 移除连接；返回该用户在本节点是否还有连接
func (m *ConnManager) Leave(connID string) (remaining int) {
	m.mu.Lock()
	c, ok := m.byConn[connID]
	if ok {
		m.removeLocked(c)
		remaining = len(m.byUser[c.UserID])
	}
	m.mu.Unlock()
	if ok {
		c.shutdown()
	}
	return remaining
}

// Heartbeat 刷新心跳
func (m *ConnManager) Heartbeat(connID string) error {
	m.mu.RLock()
	c, ok := m.byConn[connID]
	m.mu.RUnlock()
	if !ok {
		return errors.New("connID not found")
	}
	c.touch(m.conf.Clock())
	return nil
}

// SendOne 按连接发送
func (m *ConnManager) SendOne(connID string, data []byte) bool {
	m.mu.RLock()
	c, ok := m.byConn[connID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return m.deliver(c, data)
}

// BroadcastUser 发给该用户所有连接，返回成功入队的条数
func (m *ConnManager) BroadcastUser(user string, data []byte) int {
	conns := m.ListUser(user)
	n := 0
	for _, c := range conns {
		if m.deliver(c, data) {
			n++
		}
	}
	return n
}

func (m *ConnManager) deliver(c *Client, data []byte) bool {
	if c.enqueue(data) {
		return true
	}
	// 慢连接直接踢掉，客户端重连后会重新拉取
	logger.Warn("[ConnManager] send queue full, dropping connection",
		zap.String("user", c.UserID), zap.String("conn", c.ConnID))
	m.Leave(c.ConnID)
	return false
}

// ListUser 该用户在本节点的所有连接
func (m *ConnManager) ListUser(user string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[user]
	out := make([]*Client, 0, len(mm))
	for _, c := range mm {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// ===== 清理协程 =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) int {
	var expired []*Client
	m.mu.Lock()
	for _, c := range m.byConn {
		if now.Sub(c.lastSeen()) > m.conf.IdleTTL {
			expired = append(expired, c)
			m.removeLocked(c)
		}
	}
	m.mu.Unlock()

	// 锁外关闭
	for _, c := range expired {
		logger.Info("[ConnManager] sweep idle connection",
			zap.String("user", c.UserID), zap.String("conn", c.ConnID))
		c.shutdown()
	}
	return len(expired)
}

// ===== 内部 =====

func (m *ConnManager) removeLocked(c *Client) {
	delete(m.byConn, c.ConnID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
}

func (m *ConnManager) oldestLocked(user string) *Client {
	var oldest *Client
	for _, c := range m.byUser[user] {
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest
}
