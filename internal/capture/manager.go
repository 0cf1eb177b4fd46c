package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Capture holds the streams handed out by one successful Start
type Capture struct {
	// Combined carries the display video and display audio for preview/recording
	Combined *Stream

	// ScreenAudio carries only the display audio tracks, for transcription
	ScreenAudio *Stream

	// Microphone carries the microphone audio
	Microphone *Stream
}

// Manager acquires and releases the display and microphone streams
type Manager struct {
	device         Device
	audioOnlyShare bool
	log            *zap.Logger

	mu      sync.Mutex
	active  *Capture
	display *Stream
	mic     *Stream
}

// ManagerOption customizes a Manager
type ManagerOption func(*Manager)

// WithAudioOnlyShare accepts a display stream without video tracks
func WithAudioOnlyShare() ManagerOption {
	return func(m *Manager) { m.audioOnlyShare = true }
}

// NewManager creates a capture manager over a device
func NewManager(device Device, opts ...ManagerOption) *Manager {
	m := &Manager{
		device: device,
		log:    logging.L("capture"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start requests the display stream, then the microphone stream
func (m *Manager) Start(ctx context.Context) (*Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyActive
	}

	display, err := m.device.Request(ctx, DisplayWithAudio)
	if err != nil {
		return nil, classify(DisplayWithAudio, err)
	}

	if len(display.VideoTracks()) == 0 && !m.audioOnlyShare {
		if err := display.Stop(); err != nil {
			m.log.Warn("failed to release display stream", zap.Error(err))
		}
		return nil, fmt.Errorf("%w: screen share has no video track", ErrUnavailable)
	}

	audio := display.AudioTracks()
	if len(audio) == 0 {
		if err := display.Stop(); err != nil {
			m.log.Warn("failed to release display stream", zap.Error(err))
		}
		return nil, fmt.Errorf("%w: No audio track found. Please select \"Share audio\".", ErrUnavailable)
	}

	mic, err := m.device.Request(ctx, MicrophoneOnly)
	if err != nil {
		if stopErr := display.Stop(); stopErr != nil {
			m.log.Warn("failed to release display stream", zap.Error(stopErr))
		}
		return nil, classify(MicrophoneOnly, err)
	}

	if len(mic.AudioTracks()) == 0 {
		if stopErr := multierr.Append(display.Stop(), mic.Stop()); stopErr != nil {
			m.log.Warn("failed to release streams", zap.Error(stopErr))
		}
		return nil, fmt.Errorf("%w: microphone stream has no audio track", ErrUnavailable)
	}

	combined := append(display.VideoTracks(), audio...)

	m.display = display
	m.mic = mic
	m.active = &Capture{
		Combined:    NewStream(combined...),
		ScreenAudio: NewStream(audio...),
		Microphone:  mic,
	}

	m.log.Info("capture started",
		zap.Int("display_video_tracks", len(display.VideoTracks())),
		zap.Int("display_audio_tracks", len(audio)),
		zap.Int("microphone_tracks", len(mic.AudioTracks())),
	)

	return m.active, nil
}

// Stop releases every track handed out by Start. Stop without an active capture is a no-op
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}

	err := multierr.Append(m.display.Stop(), m.mic.Stop())

	m.active = nil
	m.display = nil
	m.mic = nil

	m.log.Info("capture stopped")
	return err
}

// Active returns the current capture, or nil
func (m *Manager) Active() *Capture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// classify maps device failures onto the capture error taxonomy
func classify(kind RequestKind, err error) error {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("failed to acquire %s stream: %w", kind, err)
	}
	return fmt.Errorf("failed to acquire %s stream: %w: %w", kind, ErrUnavailable, err)
}
