package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"go.uber.org/zap"
)

// PCM format produced by the ffmpeg audio pipelines
var ffmpegPCM = AudioFormat{Encoding: "linear16", SampleRate: 16000, Channels: 1}

// FFmpegConfig configures host capture
type FFmpegConfig struct {
	Binary        string // ffmpeg executable, "ffmpeg" when empty
	Display       string // x11grab input such as ":0.0"
	MonitorSource string // PulseAudio monitor of the system output
	MicSource     string // PulseAudio microphone source
	Video         bool   // also capture display video
	FrameRate     int
}

// FFmpegDevice captures the host's display and audio with ffmpeg subprocesses,
// one process per track
type FFmpegDevice struct {
	cfg FFmpegConfig
	log *zap.Logger

	// command builds the process; replaced in tests
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewFFmpegDevice creates a host capture device
func NewFFmpegDevice(cfg FFmpegConfig) *FFmpegDevice {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 5
	}

	return &FFmpegDevice{
		cfg:     cfg,
		log:     logging.L("ffmpeg"),
		command: exec.CommandContext,
	}
}

// Request implements Device
func (d *FFmpegDevice) Request(ctx context.Context, kind RequestKind) (*Stream, error) {
	if _, err := exec.LookPath(d.cfg.Binary); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	switch kind {
	case DisplayWithAudio:
		audio, err := d.start(KindAudio, "system audio", d.audioArgs(d.cfg.MonitorSource))
		if err != nil {
			return nil, err
		}
		if !d.cfg.Video {
			return NewStream(audio), nil
		}

		video, err := d.start(KindVideo, "display", d.videoArgs())
		if err != nil {
			_ = audio.Stop()
			return nil, err
		}
		return NewStream(video, audio), nil

	case MicrophoneOnly:
		mic, err := d.start(KindAudio, "microphone", d.audioArgs(d.cfg.MicSource))
		if err != nil {
			return nil, err
		}
		return NewStream(mic), nil
	}

	return nil, fmt.Errorf("%w: unsupported request %s", ErrUnavailable, kind)
}

func (d *FFmpegDevice) audioArgs(source string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", source,
		"-ac", strconv.Itoa(ffmpegPCM.Channels),
		"-ar", strconv.Itoa(ffmpegPCM.SampleRate),
		"-f", "s16le", "pipe:1",
	}
}

func (d *FFmpegDevice) videoArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "x11grab", "-framerate", strconv.Itoa(d.cfg.FrameRate), "-i", d.cfg.Display,
		"-f", "mjpeg", "pipe:1",
	}
}

// start launches one ffmpeg pipeline; the process lives until the track stops
func (d *FFmpegDevice) start(kind TrackKind, label string, args []string) (*Track, error) {
	// The process outlives the request context, it is bound to the track instead
	cmd := d.command(context.Background(), d.cfg.Binary, args...)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s pipe: %w", label, err)
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("%w: failed to start %s capture: %w", ErrUnavailable, label, err)
	}

	d.log.Debug("capture process started", zap.String("track", label), zap.Int("pid", cmd.Process.Pid))

	stop := func() error {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to stop %s capture: %w", label, err)
		}
		_ = cmd.Wait()
		return nil
	}

	opts := []TrackOption{WithStopFunc(stop)}
	if kind == KindAudio {
		opts = append(opts, WithFormat(ffmpegPCM))
	}

	return NewTrack(kind, label, processOutput{stdout}, opts...), nil
}

// processOutput tolerates the pipe having been closed by cmd.Wait
type processOutput struct {
	io.ReadCloser
}

func (p processOutput) Close() error {
	if err := p.ReadCloser.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
