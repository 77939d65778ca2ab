package kafka

import (
	"sort"
	"sync"

	"MarketChat/tools/errs"
)

// MessageHandler 处理一条消费到的记录；返回错误时不提交 offset
type MessageHandler func(topic string, key, value []byte) error

var (
	handlerMap = make(map[string]MessageHandler)
	mu         sync.RWMutex
)

// RegisterHandler 同一 topic 重复注册以后者为准
func RegisterHandler(topic string, handler MessageHandler) {
	if topic == "" || handler == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	handlerMap[topic] = handler
}

func GetHandler(topic string) (MessageHandler, error) {
	mu.RLock()
	defer mu.RUnlock()
	if h, ok := handlerMap[topic]; ok {
		return h, nil
	}
	return nil, errs.ErrNotFound.WrapMsg("no handler for topic", "topic", topic)
}

// Topics 已注册 handler 的 topic，按名字排序，消费组订阅用
func Topics() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(handlerMap))
	for t := range handlerMap {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
