package handlers

import (
	"encoding/json"

	"MarketChat/logger"
	chatsvc "MarketChat/module/chat/service"
	"MarketChat/service/chat"
	"MarketChat/tools/errs"
	"MarketChat/tools/safe"

	"go.uber.org/zap"
)

// SeenHandler chat:seen：把 peer 发来的消息置已读，再通知 peer
type SeenHandler struct {
	conv *chatsvc.Conversations
}

func NewSeenHandler(conv *chatsvc.Conversations) chat.Handler {
	safe.MustNotNil(conv, "conversations")
	return &SeenHandler{conv: conv}
}

func (h *SeenHandler) Event() string { return chat.EventSeen }

func (h *SeenHandler) Handle(ctx *chat.ChatContext, raw json.RawMessage) error {
	in, err := chat.DecodePayload[chat.SeenIn](raw)
	if err != nil {
		return err
	}
	if in.ConversationID == "" || in.PeerID == "" {
		return errs.ErrInvalidArgument.WrapMsg("conversationId and peerId are required")
	}
	n, err := h.conv.MarkViewed(ctx, ctx.UserID(), in.ConversationID, in.PeerID)
	if err != nil {
		return err
	}
	logger.Debug("[chat:seen] marked", zap.String("conversation", in.ConversationID),
		zap.String("reader", ctx.UserID()), zap.Int64("count", n))

	out := chat.SeenOut{ConversationID: in.ConversationID, PeerID: ctx.UserID(), MessageID: in.MessageID}
	if err := ctx.S.EmitToUser(ctx, in.PeerID, chat.EventSeen, out); err != nil {
		logger.Warn("[chat:seen] relay failed", zap.String("to", in.PeerID), zap.Error(err))
	}
	return nil
}
