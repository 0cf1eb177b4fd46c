package sdk

import (
	"encoding/json"
	"time"

	"github.com/ethanbaker/api/pkg/api_types"
)

// ApiResponse represents a standard API response structure
type ApiResponse[T any] struct {
	Status  api_types.StatusType `json:"status"`          // Status message
	Code    int                  `json:"code"`            // Status code
	Message string               `json:"message"`         // Human-readable message
	Data    T                    `json:"data,omitempty"`  // Optional data field for successful responses
	Error   any                  `json:"error,omitempty"` // Optional errors field for error responses
}

// AsGinResponse converts the ApiResponse to a format suitable for Gin framework
func (r ApiResponse[T]) AsGinResponse() (int, any) {
	return r.Code, r
}

// AsJSON converts the ApiResponse to a format suitable for JSON responses
func (r ApiResponse[T]) AsJSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func NewSuccess(message string) ApiResponse[any] {
	return ApiResponse[any]{
		Status:  api_types.StatusSuccess,
		Code:    200,
		Message: message,
	}
}

func NewSuccessResponse[T any](message string, data T) ApiResponse[T] {
	return ApiResponse[T]{
		Status:  api_types.StatusSuccess,
		Code:    200,
		Message: message,
		Data:    data,
	}
}

// NewErrorResponse builds an error envelope. Plain errors are flattened to their
// message since they do not marshal to JSON
func NewErrorResponse(code int, message string, err any) ApiResponse[any] {
	if e, ok := err.(error); ok {
		err = e.Error()
	}

	return ApiResponse[any]{
		Status:  api_types.StatusError,
		Code:    code,
		Message: message,
		Error:   err,
	}
}

/** Session Module DTOs */

// DisplayOffer describes what the browser got back from getDisplayMedia
type DisplayOffer struct {
	Video  bool `json:"video"`
	Audio  bool `json:"audio"`
	Denied bool `json:"denied,omitempty"` // The user dismissed the share picker
}

// MediaOffer is the body of a session start request in browser mode
type MediaOffer struct {
	Display          DisplayOffer `json:"display"`
	Microphone       bool         `json:"microphone"`
	MicrophoneDenied bool         `json:"microphone_denied,omitempty"`
}

// TrackInfo names a track the browser must upload into
type TrackInfo struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`   // "audio" or "video"
	Label  string `json:"label"`  // e.g. "display audio"
	Source string `json:"source"` // "display" or "microphone"
}

// StartSessionResponse lists the upload tracks of a freshly started session
type StartSessionResponse struct {
	Tracks []TrackInfo `json:"tracks"`
}

// ChatEntry is one question or answer in the chat log
type ChatEntry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionSnapshot is the observable state of the assistant
type SessionSnapshot struct {
	Phase                string      `json:"phase"`
	Recording            bool        `json:"recording"`
	Elapsed              int         `json:"elapsed"`
	ElapsedDisplay       string      `json:"elapsed_display"`
	Error                string      `json:"error,omitempty"`
	ScreenTranscript     string      `json:"screen_transcript"`
	MicrophoneTranscript string      `json:"microphone_transcript"`
	Chat                 []ChatEntry `json:"chat"`
	Processing           bool        `json:"processing"`
}

// AskRequest submits a question typed by the user
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// AskResponse carries the answer appended to the chat log
type AskResponse struct {
	Answer string `json:"answer"`
}
