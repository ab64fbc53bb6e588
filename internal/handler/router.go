package handler

import (
	"creditledger/internal/config"
	"creditledger/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SetupRouter 配置路由，gatherer 为 nil 时不暴露 /metrics
func SetupRouter(ledger *service.LedgerService, gatherer prometheus.Gatherer, cfg *config.ServerConfig, log zerolog.Logger) *gin.Engine {
	mode := cfg.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	h := NewHandler(ledger, log)

	// 用户侧接口：用户身份由网关注入
	api := r.Group("/api/v1")
	{
		credits := api.Group("/credits", UserMiddleware())
		{
			credits.GET("/balance", h.GetBalance)
			credits.GET("/transactions", h.ListTransactions)
			credits.GET("/pricing", h.GetPricing)
			credits.POST("/deduct", h.Deduct)
		}
	}

	// 内部接口：会增加积分，只对持有凭证的服务开放
	if cfg.InternalToken != "" {
		internal := r.Group("/internal/v1", InternalAuthMiddleware(cfg.InternalToken))
		{
			credits := internal.Group("/credits", UserMiddleware())
			{
				credits.POST("/refund", h.Refund)
				credits.POST("/purchase", h.Purchase)
			}
		}
	} else {
		log.Warn().Msg("未配置 server.internal_token，退还与购买接口不开放")
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}
