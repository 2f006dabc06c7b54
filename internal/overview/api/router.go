package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tradewatch/tradewatch/internal/common/errors"
	"github.com/tradewatch/tradewatch/internal/common/logger"
)

// NewRouter builds the gin engine with all dashboard routes and middleware.
// wsHandler is optional; when set it is mounted at GET /ws.
func NewRouter(handler *Handler, wsHandler gin.HandlerFunc, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(Recovery(log))
	router.Use(CORS())
	router.Use(RequestLogger(log))
	router.Use(ErrorHandler(log))

	// Known routes with the wrong verb answer 405, not 404.
	router.HandleMethodNotAllowed = true
	router.NoMethod(func(c *gin.Context) {
		appErr := errors.MethodNotAllowed(c.Request.Method)
		c.JSON(appErr.HTTPStatus, appErr)
	})
	router.NoRoute(func(c *gin.Context) {
		appErr := errors.NotFound("route", c.Request.URL.Path)
		c.JSON(appErr.HTTPStatus, appErr)
	})

	router.GET("/health", handler.Health)
	if wsHandler != nil {
		router.GET("/ws", wsHandler)
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/overview", handler.Overview)
		apiGroup.GET("/worker", handler.Worker)
		apiGroup.POST("/worker/control/exchanges", handler.ControlExchanges)
		apiGroup.POST("/worker/control/:action", handler.ControlAction)
		apiGroup.GET("/settings", handler.GetSettings)
		apiGroup.PUT("/settings", handler.PutSettings)
	}

	return router
}
