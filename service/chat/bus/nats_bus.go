package bus

import (
	"context"
	"encoding/json"

	"MarketChat/service/natsx"

	"github.com/pkg/errors"
)

type natsBus struct {
	c       *natsx.NatsxClient
	subject string
}

func NewNatsBus(c *natsx.NatsxClient, subject string) (Bus, error) {
	if c == nil {
		return nil, errors.New("nats client required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &natsBus{c: c, subject: subject}, nil
}

func (b *natsBus) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return b.c.Publish(ctx, b.subject, raw, map[string]string{"X-Origin": env.Origin})
}

func (b *natsBus) StartForwarder(ctx context.Context, onMsg func(env Envelope)) error {
	if onMsg == nil {
		return errors.New("onMsg callback required")
	}
	// 不用 queue group：每个节点都要看到每一帧
	return b.c.Subscribe(b.subject, "", func(_ context.Context, msg natsx.NatsxMessage) error {
		if ctx.Err() != nil {
			return nil
		}
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return errors.Wrap(err, "bad nats payload")
		}
		onMsg(env)
		return nil
	})
}

func (b *natsBus) Close() error { return b.c.Close() }
