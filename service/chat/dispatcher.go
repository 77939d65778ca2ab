package chat

import (
	"encoding/json"

	"MarketChat/tools/errs"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Event()] = h
	}
}

func (d *Dispatcher) Dispatch(ctx *ChatContext, f *Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errs.ErrInvalidArgument.WrapMsg("unknown event", "event", f.Event)
	}
	return h.Handle(ctx, f.Data)
}

func (d *Dispatcher) GetHandler(event string) Handler {
	return d.handlers[event]
}

// HandlerFunc 函数式 handler
type HandlerFunc struct {
	Name string
	Fn   func(*ChatContext, json.RawMessage) error
}

func (h HandlerFunc) Event() string { return h.Name }

func (h HandlerFunc) Handle(ctx *ChatContext, data json.RawMessage) error { return h.Fn(ctx, data) }
