package handlers

import (
	"encoding/json"

	"MarketChat/service/chat"
	"MarketChat/tools/errs"
)

// NewTypingHandler chat:typing 只转发，不落库
func NewTypingHandler() chat.Handler {
	return chat.HandlerFunc{Name: chat.EventTyping, Fn: func(ctx *chat.ChatContext, raw json.RawMessage) error {
		in, err := chat.DecodePayload[chat.TypingIn](raw)
		if err != nil {
			return err
		}
		if in.To == "" || in.To == ctx.UserID() {
			return errs.ErrInvalidArgument.WrapMsg("invalid typing target")
		}
		return ctx.S.EmitToUser(ctx, in.To, chat.EventTyping, chat.TypingOut{
			ConversationID: in.ConversationID,
			From:           ctx.UserID(),
			Active:         in.Active,
			Typing:         in.Active,
		})
	}}
}

// Register 挂上全部事件
func Register(s *chat.Server, hs ...chat.Handler) {
	s.Disp().Register(hs...)
}
