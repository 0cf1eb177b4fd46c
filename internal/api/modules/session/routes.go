package session_module

import (
	"github.com/gin-gonic/gin"
)

// Register routes for the session module
func RegisterRoutes(g *gin.RouterGroup) {
	// Create base group for session routes
	group := g.Group("/session")

	group.GET("", GetSession)
	group.POST("/start", StartSession)
	group.POST("/stop", StopSession)
	group.POST("/clear", ClearSession)
	group.POST("/ask", AskQuestion)

	// Websocket routes
	group.GET("/events", StreamEvents)
	group.GET("/tracks/:id", UploadTrack)
}
