package main

import (
	"context"
	"net/http"
	"time"

	"MarketChat/middleware"
	midsec "MarketChat/middleware/security"
	chatsvc "MarketChat/module/chat/service"
	"MarketChat/module/notify"
	usersvc "MarketChat/module/user/service"
	mgoSrv "MarketChat/service/mgo"
	redis "MarketChat/service/storage/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "token"},
		AllowWebSockets:  true,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}

// healthz 节点状态；依赖不可用时 503，便于负载均衡摘除
func (a *app) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	status := http.StatusOK
	deps := gin.H{}
	if err := redis.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		deps["redis"] = err.Error()
	}
	if a.cfg.Store.Conversations == "mongo" || a.cfg.Store.Users == "mongo" {
		if _, ok := mgoSrv.TryGetDB(); !ok {
			status = http.StatusServiceUnavailable
			deps["mongo"] = "not ready"
		}
	}
	c.JSON(status, gin.H{"node": a.cfg.NodeID, "connections": a.gw.ConnMgr().Count(), "deps": deps})
}

func newRouter(a *app) *gin.Engine {
	gin.SetMode(a.cfg.Server.Mode)
	r := gin.New()

	mids := middleware.NewManager(middleware.Recovery(), middleware.AccessLog())
	r.Use(cors.New(corsConfig(a.cfg.Server.CorsOrigins)), mids.Use())

	r.GET("/healthz", a.healthz)
	// 握手鉴权在 HandleWS 内部完成
	r.GET(a.cfg.Server.WsPath, a.gw.HandleWS)

	routes := middleware.NewRoutes(r, midsec.Middleware(a.verifier, a.users, midsec.DefaultOptions()))
	chatsvc.NewAPI(a.conv, a.presence).Register(routes)
	notify.NewAPI(a.direct).Register(routes)
	usersvc.NewAuthAPI(a.verifier, a.users).Register(routes)
	return r
}
