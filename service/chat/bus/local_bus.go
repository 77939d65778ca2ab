package bus

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// LocalBus 进程内总线；单节点部署或测试里模拟多个节点
type LocalBus struct {
	mu   sync.RWMutex
	subs []func(Envelope)
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(env)
	}
	return nil
}

func (b *LocalBus) StartForwarder(ctx context.Context, onMsg func(env Envelope)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	b.mu.Lock()
	b.subs = append(b.subs, onMsg)
	idx := len(b.subs) - 1
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if idx < len(b.subs) {
			b.subs[idx] = func(Envelope) {}
		}
		b.mu.Unlock()
	}()
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
	return nil
}
