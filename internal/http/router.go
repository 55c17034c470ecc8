package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyaro/vps-broker/internal/config"
)

type Server struct {
	router        *gin.Engine
	handler       *Handler
	workerHandler *WorkerHandler
	adminHandler  *AdminHandler
	secrets       SecretResolver
	cfg           *config.Config
	db            *pgxpool.Pool
}

// 全局速率限制器: 每用户每分钟最多 60 次请求
var userRateLimiter = NewRateLimiter(60, time.Minute)

// 购买速率限制器: 每用户每小时最多 20 次购买请求
// 幂等重试也计入，20 次足够覆盖正常重试场景
var purchaseRateLimiter = NewRateLimiter(20, time.Hour)

func NewServer(cfg *config.Config, db *pgxpool.Pool, handler *Handler, workerHandler *WorkerHandler, adminHandler *AdminHandler, secrets SecretResolver) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:        router,
		handler:       handler,
		workerHandler: workerHandler,
		adminHandler:  adminHandler,
		secrets:       secrets,
		cfg:           cfg,
		db:            db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "vps-broker",
		})
	})

	// Worker protocol - registration is authenticated by the credential in
	// the body, callbacks by the HMAC signature headers
	workers := s.router.Group("/workers")
	{
		workers.POST("/register", s.workerHandler.Register)

		callback := workers.Group("/callback")
		callback.Use(WorkerSignatureMiddleware(s.secrets))
		{
			callback.POST("/status", s.workerHandler.Status)
			callback.POST("/checklist", s.workerHandler.Checklist)
			callback.POST("/result", s.workerHandler.Result)
		}
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/vps/products", s.handler.ListProducts)

		// 购买接口使用更严格的速率限制
		user.POST("/vps/purchase", RateLimitMiddleware(purchaseRateLimiter), s.handler.Purchase)
		user.GET("/vps/sessions", s.handler.ListSessions)
		user.GET("/vps/sessions/:id", s.handler.GetSession)
		user.GET("/vps/sessions/:id/logs", s.handler.GetSessionLogs)
		user.GET("/vps/sessions/:id/events", s.handler.StreamSession)

		user.GET("/wallet", s.handler.GetWallet)
		user.GET("/wallet/ledger", s.handler.GetLedger)
	}

	// Admin API - requires admin API key
	admin := s.router.Group("/api/admin")
	admin.Use(AdminAuthMiddleware(s.cfg.Admin.APIKey))
	{
		admin.POST("/workers", s.adminHandler.RegisterWorker)
		admin.GET("/workers", s.adminHandler.ListWorkers)
		admin.GET("/workers/:id", s.adminHandler.GetWorker)
		admin.PATCH("/workers/:id", s.adminHandler.UpdateWorker)

		admin.POST("/credentials", s.adminHandler.CreateCredential)
		admin.GET("/credentials", s.adminHandler.ListCredentials)
		admin.POST("/credentials/:id/revoke", s.adminHandler.RevokeCredential)

		admin.POST("/products", s.adminHandler.CreateProduct)
		admin.GET("/products", s.adminHandler.ListProducts)
		admin.PATCH("/products/:id", s.adminHandler.UpdateProduct)
		admin.DELETE("/products/:id", s.adminHandler.DeleteProduct)

		admin.GET("/sessions", s.adminHandler.ListSessions)
		admin.GET("/sessions/:id", s.adminHandler.GetSession)
		admin.POST("/sessions/expire", s.adminHandler.ExpireSessions)

		admin.POST("/wallet/credit", s.adminHandler.CreditWallet)

		// DB Browser API (通用数据库浏览)
		dbAdminHandler := NewDBAdminHandler(s.db, "public")
		dbAdmin := admin.Group("/db")
		{
			dbAdmin.GET("/tables", dbAdminHandler.ListTables)
			dbAdmin.GET("/tables/:table/schema", dbAdminHandler.GetTableSchema)
			dbAdmin.GET("/tables/:table/rows", dbAdminHandler.QueryRows)
		}
	}
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
