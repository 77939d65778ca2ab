package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"MarketChat/logger"
	chatsvc "MarketChat/module/chat/service"
	"MarketChat/module/notify"
	"MarketChat/service/chat"
	"MarketChat/tools/errs"
	"MarketChat/tools/safe"

	"go.uber.org/zap"
)

// MessageHandler chat:new：先落库，成功后才转发给接收方组，最后异步推送
type MessageHandler struct {
	conv        *chatsvc.Conversations
	push        notify.Dispatcher
	pushTimeout time.Duration
}

func NewMessageHandler(conv *chatsvc.Conversations, push notify.Dispatcher, pushTimeout time.Duration) chat.Handler {
	safe.MustNotNil(conv, "conversations")
	if push == nil {
		push = notify.Nop{}
	}
	if pushTimeout <= 0 {
		pushTimeout = 5 * time.Second
	}
	return &MessageHandler{conv: conv, push: push, pushTimeout: pushTimeout}
}

func (h *MessageHandler) Event() string { return chat.EventNew }

func (h *MessageHandler) Handle(ctx *chat.ChatContext, raw json.RawMessage) error {
	in, err := chat.DecodePayload[chat.NewMessageIn](raw)
	if err != nil {
		return err
	}
	if in.ConversationID == "" || in.To == "" {
		return errs.ErrInvalidArgument.WrapMsg("conversationId and to are required")
	}
	if in.To == ctx.UserID() {
		return errs.ErrInvalidArgument.WrapMsg("cannot send to yourself")
	}
	text := strings.TrimSpace(in.Message.Text)
	if text == "" {
		return errs.ErrInvalidArgument.WrapMsg("message text is required")
	}

	sender := ctx.Conn.Profile
	res, err := h.conv.Send(ctx, chatsvc.SendParams{
		ConversationID: in.ConversationID,
		Sender:         sender,
		RecipientID:    in.To,
		ClientKey:      in.Message.Key(),
		Text:           in.Message.Text,
	})
	if err != nil {
		// 没落库就不转发
		return err
	}

	msg := res.Message
	ctx.S.Reply(ctx.Conn, chat.EventAck, chat.AckOut{
		ConversationID: msg.ConversationID,
		ClientKey:      msg.ClientKey,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		Time:           msg.Time,
		Duplicate:      res.Duplicate,
	})
	if res.Duplicate {
		// 重发的同一条，之前已经转发过
		return nil
	}

	out := chat.MessageOut{ConversationID: msg.ConversationID, From: sender, Message: msg}
	if err := ctx.S.EmitToUser(ctx, in.To, chat.EventMessage, out); err != nil {
		// 已落库，对方下次拉取能看到
		logger.Warn("[chat:new] relay failed",
			zap.String("conversation", msg.ConversationID), zap.String("to", in.To), zap.Error(err))
	}

	h.notify(in.To, sender.Name, msg)
	return nil
}

func (h *MessageHandler) notify(to, senderName string, msg chatsvc.MessageView) {
	if senderName == "" {
		senderName = "New message"
	}
	n := notify.Notification{
		UserID: to,
		Title:  senderName,
		Body:   msg.Text,
		Data:   map[string]string{"conversationId": msg.ConversationID, "messageId": msg.ID},
	}
	safe.Go("push-notify", func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.pushTimeout)
		defer cancel()
		err := h.push.Dispatch(ctx, n)
		switch {
		case err == nil:
		case errors.Is(err, errs.ErrPrecondition), errors.Is(err, errs.ErrNotFound):
			logger.Debug("[chat:new] push skipped", zap.String("to", to), zap.String("reason", errs.Message(err)))
		default:
			logger.Warn("[chat:new] push failed", zap.String("to", to), zap.Error(err))
		}
	})
}
