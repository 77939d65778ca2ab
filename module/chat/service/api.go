package service

import (
	"MarketChat/middleware"
	midsec "MarketChat/middleware/security"
	"MarketChat/module/chat/message"
	"MarketChat/service/storage"
	"MarketChat/tools/errs"

	"github.com/gin-gonic/gin"
)

// API 会话相关 REST 接口
type API struct {
	conv     *Conversations
	presence storage.Presence
}

func NewAPI(conv *Conversations, presence storage.Presence) *API {
	return &API{conv: conv, presence: presence}
}

func (a *API) Register(r *middleware.Routes) {
	auth := middleware.RouteOpt{IsAuth: true}
	r.GET("/conversation/with/:peerId", a.With, auth)
	r.GET("/conversation/chats/:conversationId", a.Chats, auth)
	r.GET("/conversation/last-chats", a.LastChats, auth)
	r.PATCH("/conversation/seen/:conversationId/:peerId", a.Seen, auth)
	r.GET("/conversation/presence/:peerId", a.Presence, auth)
}

// With GET /conversation/with/:peerId
func (a *API) With(c *gin.Context) error {
	view, err := a.conv.With(c.Request.Context(), midsec.UserID(c), c.Param("peerId"))
	if err != nil {
		return err
	}
	middleware.OK(c, view)
	return nil
}

// Chats GET /conversation/chats/:conversationId
func (a *API) Chats(c *gin.Context) error {
	view, err := a.conv.Fetch(c.Request.Context(), midsec.UserID(c), c.Param("conversationId"))
	if err != nil {
		return err
	}
	middleware.OK(c, view)
	return nil
}

// LastChats GET /conversation/last-chats
func (a *API) LastChats(c *gin.Context) error {
	list, err := a.conv.Summaries(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		return err
	}
	middleware.OK(c, gin.H{"chats": list})
	return nil
}

// Seen PATCH /conversation/seen/:conversationId/:peerId
func (a *API) Seen(c *gin.Context) error {
	n, err := a.conv.MarkViewed(c.Request.Context(), midsec.UserID(c), c.Param("conversationId"), c.Param("peerId"))
	if err != nil {
		return err
	}
	middleware.OK(c, gin.H{"updated": n})
	return nil
}

// Presence GET /conversation/presence/:peerId
func (a *API) Presence(c *gin.Context) error {
	peerID := c.Param("peerId")
	if !message.ValidID(peerID) {
		return errs.ErrInvalidArgument.WrapMsg("Invalid user id!")
	}
	if a.presence == nil {
		return errs.ErrUnavailable.WrapMsg("presence disabled")
	}
	online, err := a.presence.Lookup(c.Request.Context(), peerID)
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("presence lookup", "err", err.Error())
	}
	middleware.OK(c, gin.H{"userId": peerID, "online": online})
	return nil
}
