package session_module

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/assistant"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/ethanbaker/meeting-assistant/internal/transcription"
	"github.com/ethanbaker/meeting-assistant/pkg/sdk"
	"go.uber.org/zap"
)

// stopTimeout bounds how long a stop waits for the transcription backend to flush
const stopTimeout = 10 * time.Second

// Controller is the part of the assistant the session routes drive
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Clear()
	Ask(ctx context.Context, question, source string) string
	Snapshot() assistant.Snapshot
	Subscribe() (<-chan assistant.Snapshot, func())
}

// SessionService exposes the assistant controller and the browser capture device over HTTP
type SessionService struct {
	controller     Controller
	device         *capture.BrowserDevice
	allowedOrigins []string
	log            *zap.Logger

	// serializes start/stop so the browser device offer matches the session using it
	mutex sync.Mutex
}

var sessionService *SessionService

/** ---- INIT ---- */

// Init creates the session service
func Init(controller Controller, device *capture.BrowserDevice, allowedOrigins []string) error {
	if controller == nil {
		return fmt.Errorf("session controller is required")
	}
	if device == nil {
		return fmt.Errorf("browser capture device is required")
	}

	sessionService = &SessionService{
		controller:     controller,
		device:         device,
		allowedOrigins: allowedOrigins,
		log:            logging.L("api.session"),
	}
	return nil
}

/** ---- SESSION ---- */

// Start prepares the browser device with the offer and starts recording. The
// returned tracks are the upload targets for the browser
func (s *SessionService) Start(ctx context.Context, offer *sdk.MediaOffer) ([]sdk.TrackInfo, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.controller.Snapshot().Phase != assistant.PhaseIdle {
		return nil, assistant.ErrAlreadyActive
	}

	s.device.Prepare(capture.Offer{
		DisplayVideo:     offer.Display.Video,
		DisplayAudio:     offer.Display.Audio,
		DisplayDenied:    offer.Display.Denied,
		Microphone:       offer.Microphone,
		MicrophoneDenied: offer.MicrophoneDenied,
	})

	if err := s.controller.Start(ctx); err != nil {
		return nil, err
	}

	var tracks []sdk.TrackInfo
	for _, t := range s.device.Tracks() {
		tracks = append(tracks, toTrackDTO(t))
	}

	s.log.Info("browser session started", zap.Int("tracks", len(tracks)))
	return tracks, nil
}

// Stop ends the active session
func (s *SessionService) Stop(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	return s.controller.Stop(ctx)
}

// Clear empties the transcripts and chat log
func (s *SessionService) Clear() {
	s.controller.Clear()
}

// Ask answers a question typed by the user
func (s *SessionService) Ask(ctx context.Context, question string) string {
	return s.controller.Ask(ctx, question, "typed")
}

// Snapshot returns the current session state
func (s *SessionService) Snapshot() sdk.SessionSnapshot {
	return toSnapshotDTO(s.controller.Snapshot())
}

// Upload claims the writing end of a browser track
func (s *SessionService) Upload(id string) (io.WriteCloser, error) {
	return s.device.Upload(id)
}

// checkOrigin allows websocket upgrades from the configured CORS origins
func (s *SessionService) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

// statusFor maps a start/stop failure to an HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, assistant.ErrAlreadyActive), errors.Is(err, capture.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, transcription.ErrSetupFailed):
		return http.StatusBadGateway
	case errors.Is(err, assistant.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

/** ---- DTO CONVERSION ---- */

func toTrackDTO(t capture.TrackInfo) sdk.TrackInfo {
	source := "display"
	if t.Source == capture.MicrophoneOnly {
		source = "microphone"
	}

	return sdk.TrackInfo{
		ID:     t.ID,
		Kind:   string(t.Kind),
		Label:  t.Label,
		Source: source,
	}
}

func toSnapshotDTO(snap assistant.Snapshot) sdk.SessionSnapshot {
	chat := make([]sdk.ChatEntry, 0, len(snap.Chat))
	for _, e := range snap.Chat {
		chat = append(chat, sdk.ChatEntry{
			ID:        e.ID.String(),
			Kind:      string(e.Kind),
			Text:      e.Text,
			Source:    e.Source,
			Timestamp: e.Timestamp,
		})
	}

	return sdk.SessionSnapshot{
		Phase:                string(snap.Phase),
		Recording:            snap.Recording(),
		Elapsed:              snap.Elapsed,
		ElapsedDisplay:       snap.ElapsedDisplay,
		Error:                snap.Error,
		ScreenTranscript:     snap.ScreenTranscript,
		MicrophoneTranscript: snap.MicrophoneTranscript,
		Chat:                 chat,
		Processing:           snap.Processing,
	}
}
