package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter 注册全部路由。mcpHandler 不为空时挂载到 /api/v1/mcp/message
func SetupRouter(handler *Handler, mcpHandler http.Handler, isDebug bool) *gin.Engine {
	var r *gin.Engine
	if isDebug {
		gin.SetMode(gin.DebugMode)
		r = gin.Default()
	} else {
		gin.SetMode(gin.ReleaseMode)
		r = gin.New()
		r.Use(gin.Recovery())
	}

	// TraceID 中间件 - 必须在其他中间件之前
	r.Use(TraceIDMiddleware())

	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Trace-ID", "Mcp-Session-Id"},
		ExposeHeaders:    []string{"Content-Length", "X-Trace-ID", "Mcp-Session-Id"},
		AllowCredentials: false, // AllowAllOrigins 为 true 时必须设置为 false
	}))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		drv := api.Group("/driver")
		{
			// 会话生命周期
			drv.POST("/start", handler.StartDriver)
			drv.POST("/quit", handler.QuitDriver)
			drv.POST("/force-kill", handler.ForceKillDriver)
			drv.GET("/status", handler.DriverStatus)
			drv.PUT("/timeout", handler.SetTimeout)

			// 导航
			drv.POST("/navigate", handler.Navigate)
			drv.POST("/back", handler.Back)
			drv.POST("/forward", handler.Forward)
			drv.POST("/refresh", handler.Refresh)
			drv.POST("/close-window", handler.CloseWindow)
			drv.POST("/maximize", handler.Maximize)
			drv.GET("/url", handler.CurrentURL)
			drv.GET("/links", handler.Links)

			// 元素
			drv.POST("/click", handler.Click)
			drv.POST("/populate", handler.Populate)
			drv.POST("/select", handler.Select)
			drv.POST("/send-keys", handler.SendKeys)
			drv.POST("/element/state", handler.ElementState)
			drv.POST("/element/attribute", handler.ElementAttribute)
			drv.POST("/element/text", handler.ElementText)

			// 校验
			drv.POST("/verify/attribute", handler.VerifyAttribute)
			drv.POST("/verify/text", handler.VerifyText)
			drv.POST("/verify/selected", handler.VerifySelected)
			drv.POST("/verify/dropdown", handler.VerifyDropDown)

			// 上下文
			drv.POST("/frame", handler.SwitchFrame)
			drv.POST("/tab", handler.SwitchTab)

			// 对话框
			drv.POST("/alert/accept", handler.AcceptAlert)
			drv.POST("/alert/dismiss", handler.DismissAlert)
			drv.GET("/alert/text", handler.AlertText)

			drv.POST("/execute", handler.ExecuteJS)
			drv.POST("/screenshot", handler.Screenshot)
			drv.GET("/error-container", handler.ErrorContainer)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", handler.ListSessions)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.DeleteSession)
		}

		screenshots := api.Group("/screenshots")
		{
			screenshots.GET("", handler.ListScreenshots)
			screenshots.GET("/:id", handler.GetScreenshot)
		}

		if mcpHandler != nil {
			api.Any("/mcp/message", gin.WrapH(mcpHandler))
		}
	}

	return r
}
