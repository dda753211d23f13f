package api

import (
	"ctchen222/picross/internal/api/controller"

	"github.com/gin-gonic/gin"
)

// NewEngine wires the operator routes.
func NewEngine(cc *controller.CoordinatorController, stream *controller.EventStream) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", cc.Health)

	api := engine.Group("/api")
	{
		api.GET("/results", cc.Results)
		api.GET("/configuration", cc.GetConfiguration)
		api.PUT("/configuration", cc.PutConfiguration)
		api.GET("/status", cc.Status)
		api.POST("/stop", cc.Stop)
	}

	if stream != nil {
		engine.GET("/ws/events", stream.Serve)
	}
	return engine
}
