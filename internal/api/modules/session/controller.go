package session_module

import (
	"errors"
	"net/http"

	"github.com/ethanbaker/meeting-assistant/internal/assistant"
	"github.com/ethanbaker/meeting-assistant/pkg/sdk"
	"github.com/gin-gonic/gin"
)

// GetSession handles GET requests for the current session snapshot
func GetSession(c *gin.Context) {
	c.JSON(sdk.NewSuccessResponse("Session retrieved successfully", sessionService.Snapshot()).AsGinResponse())
}

// StartSession handles POST requests to start recording with the browser's media
func StartSession(c *gin.Context) {
	// Parse request body
	var req sdk.MediaOffer
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(sdk.NewErrorResponse(http.StatusBadRequest, "Could not parse request body", err).AsGinResponse())
		return
	}

	tracks, err := sessionService.Start(c.Request.Context(), &req)
	if err != nil {
		c.JSON(sdk.NewErrorResponse(statusFor(err), "Failed to start recording", err).AsGinResponse())
		return
	}

	resp := &sdk.StartSessionResponse{Tracks: tracks}
	c.JSON(sdk.NewSuccessResponse("Recording started successfully", resp).AsGinResponse())
}

// StopSession handles POST requests to stop recording
func StopSession(c *gin.Context) {
	if err := sessionService.Stop(c.Request.Context()); err != nil {
		code := http.StatusInternalServerError
		if !errors.Is(err, assistant.ErrTeardown) {
			code = statusFor(err)
		}
		c.JSON(sdk.NewErrorResponse(code, "Failed to stop recording properly", err).AsGinResponse())
		return
	}

	c.JSON(sdk.NewSuccess("Recording stopped successfully").AsGinResponse())
}

// ClearSession handles POST requests to clear transcripts and chat
func ClearSession(c *gin.Context) {
	sessionService.Clear()
	c.JSON(sdk.NewSuccess("Session cleared successfully").AsGinResponse())
}

// AskQuestion handles POST requests with a question typed by the user
func AskQuestion(c *gin.Context) {
	var req sdk.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(sdk.NewErrorResponse(http.StatusBadRequest, "Could not parse request body", err).AsGinResponse())
		return
	}

	answer := sessionService.Ask(c.Request.Context(), req.Question)
	c.JSON(sdk.NewSuccessResponse("Question answered successfully", &sdk.AskResponse{Answer: answer}).AsGinResponse())
}
