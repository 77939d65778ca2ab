package notify

import (
	"MarketChat/middleware"

	"github.com/gin-gonic/gin"
)

type sendReq struct {
	UserID string `json:"userId" binding:"required"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// API POST /send-notification，同步发送，用户不存在 404，没 token 400
type API struct {
	direct Dispatcher
}

func NewAPI(direct Dispatcher) *API {
	return &API{direct: direct}
}

func (a *API) Register(r *middleware.Routes) {
	r.POST("/send-notification", a.Send, middleware.RouteOpt{IsAuth: true})
}

func (a *API) Send(c *gin.Context) error {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		return errInvalidBody(err)
	}
	if err := a.direct.Dispatch(c.Request.Context(), Notification{
		UserID: req.UserID,
		Title:  req.Title,
		Body:   req.Body,
	}); err != nil {
		return err
	}
	middleware.OK(c, gin.H{"message": "Notification sent successfully!"})
	return nil
}
