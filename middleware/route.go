package middleware

import (
	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth bool
}

// HandlerFunc 业务 handler 返回 error，由 Wrap 统一写错误响应
type HandlerFunc func(c *gin.Context) error

func Wrap(h HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h(c); err != nil {
			Fail(c, err)
		}
	}
}

// Routes 带鉴权开关的路由注册
type Routes struct {
	r    gin.IRoutes
	auth gin.HandlerFunc
}

func NewRoutes(r gin.IRoutes, auth gin.HandlerFunc) *Routes {
	return &Routes{r: r, auth: auth}
}

func (g *Routes) chain(h HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	if opt.IsAuth && g.auth != nil {
		return []gin.HandlerFunc{g.auth, Wrap(h)}
	}
	return []gin.HandlerFunc{Wrap(h)}
}

func (g *Routes) POST(path string, h HandlerFunc, opt RouteOpt) {
	g.r.POST(path, g.chain(h, opt)...)
}

func (g *Routes) GET(path string, h HandlerFunc, opt RouteOpt) {
	g.r.GET(path, g.chain(h, opt)...)
}

func (g *Routes) PATCH(path string, h HandlerFunc, opt RouteOpt) {
	g.r.PATCH(path, g.chain(h, opt)...)
}
