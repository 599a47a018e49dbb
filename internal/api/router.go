package api

import (
	"context"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/target-gallery/internal/config"
	"github.com/wfunc/target-gallery/internal/database"
	"github.com/wfunc/target-gallery/internal/errors"
	"github.com/wfunc/target-gallery/internal/middleware"
	ws "github.com/wfunc/target-gallery/internal/websocket"
)

// Options 路由依赖，DB和Matches可为nil
type Options struct {
	Server    config.ServerConfig
	WebSocket config.WebSocketConfig
	Hub       *ws.Hub
	GameRoute *ws.GameRouter
	Session   StateSource
	Matches   MatchStore
	DB        *gorm.DB
	Logger    *zap.Logger
}

// Router API路由器
type Router struct {
	engine      *gin.Engine
	db          *gorm.DB
	hub         *ws.Hub
	staticFS    http.FileSystem
	wsHandler   *WebSocketHandler
	gameHandler *GameHandler
	log         *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestLogger(opts.Logger))
	engine.Use(middleware.Recovery(opts.Logger))

	router := &Router{
		engine:      engine,
		db:          opts.DB,
		hub:         opts.Hub,
		wsHandler:   NewWebSocketHandler(opts.Hub, opts.GameRoute, opts.WebSocket, opts.Logger),
		gameHandler: NewGameHandler(opts.Session, opts.Matches, opts.Logger),
		log:         opts.Logger,
	}

	if opts.Server.StaticDir != "" {
		router.staticFS = gin.Dir(opts.Server.StaticDir, false)
	}

	wsPath := opts.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	router.setupRoutes(wsPath)

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes(wsPath string) {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// WebSocket路由
	r.engine.GET(wsPath, r.wsHandler.GameWebSocket)

	// API v1路由组
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/state", r.gameHandler.GetState)
		v1.GET("/matches", r.gameHandler.GetMatches)
		v1.GET("/leaderboard", r.gameHandler.GetLeaderboard)
		v1.GET("/online", r.wsHandler.GetOnlineCount)
	}

	// 静态文件挂在根路径，engine.Static("/")会与/ws、/api冲突，放在NoRoute里处理
	r.engine.NoRoute(r.serveStatic)
}

// serveStatic 未匹配的GET请求从静态目录取文件，其余返回404
func (r *Router) serveStatic(c *gin.Context) {
	if r.staticFS != nil && c.Request.Method == http.MethodGet && !strings.HasPrefix(c.Request.URL.Path, "/api/") {
		name := path.Clean("/" + c.Request.URL.Path)
		if r.hasStatic(name) {
			c.FileFromFS(name, r.staticFS)
			return
		}
	}

	respondError(c, errors.New(errors.ErrNotFound, c.Request.URL.Path))
}

// hasStatic 文件存在，或目录下有index.html
func (r *Router) hasStatic(name string) bool {
	f, err := r.staticFS.Open(name)
	if err != nil {
		return false
	}
	info, err := f.Stat()
	f.Close()
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return true
	}

	index, err := r.staticFS.Open(path.Join(name, "index.html"))
	if err != nil {
		return false
	}
	index.Close()
	return true
}

// healthCheck 健康检查，启用数据库时检查连通性
func (r *Router) healthCheck(c *gin.Context) {
	if r.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := database.Ping(ctx, r.db); err != nil {
			r.log.Warn("数据库ping失败", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"message": "数据库ping失败",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
		"online":  r.hub.GetOnlineCount(),
	})
}

// Handler 返回http.Handler，供http.Server使用
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
