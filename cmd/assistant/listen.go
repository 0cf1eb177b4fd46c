package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethanbaker/meeting-assistant/internal/answer"
	"github.com/ethanbaker/meeting-assistant/internal/assistant"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Record this machine's audio output and microphone",
	Long: `Capture the PulseAudio monitor (what the meeting plays) and the microphone with
ffmpeg, and print transcripts and answers as they arrive. Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		video, _ := cmd.Flags().GetBool("video")
		video = video || settings.CaptureVideo

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		device := capture.NewFFmpegDevice(capture.FFmpegConfig{
			Binary:        settings.FFmpegPath,
			Display:       settings.DisplayInput,
			MonitorSource: settings.MonitorSource,
			MicSource:     settings.MicSource,
			Video:         video,
		})

		// Without --video the display stream is the desktop audio alone
		var captureOpts []capture.ManagerOption
		if !video {
			captureOpts = append(captureOpts, capture.WithAudioOnlyShare())
		}

		controller, closeAnswerer, err := newController(ctx, settings, device, captureOpts...)
		if err != nil {
			return err
		}

		updates, unsubscribe := controller.Subscribe()
		defer unsubscribe()

		printed := make(chan struct{})
		go func() {
			defer close(printed)
			p := &printer{w: os.Stdout}
			for snap := range updates {
				p.print(snap)
			}
		}()

		if err := controller.Start(ctx); err != nil {
			return multierr.Combine(err, closeAnswerer())
		}
		fmt.Fprintln(os.Stderr, "Recording. Press Ctrl+C to stop.")

		<-ctx.Done()

		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		err = multierr.Combine(controller.Close(teardownCtx), closeAnswerer())
		<-printed
		return err
	},
}

func init() {
	listenCmd.Flags().Bool("video", false, "Also capture the X11 display (CAPTURE_VIDEO)")
}

// printer writes the parts of each snapshot that changed since the last one
type printer struct {
	w          io.Writer
	screen     string
	microphone string
	chat       int
	banner     string
	phase      assistant.Phase
}

func (p *printer) print(snap assistant.Snapshot) {
	if snap.Phase != p.phase {
		fmt.Fprintf(p.w, "-- %s\n", snap.Phase)
		p.phase = snap.Phase
	}

	if snap.Error != "" && snap.Error != p.banner {
		fmt.Fprintf(p.w, "!! %s\n", snap.Error)
	}
	p.banner = snap.Error

	p.screen = p.printTranscript("screen", p.screen, snap.ScreenTranscript)
	p.microphone = p.printTranscript("microphone", p.microphone, snap.MicrophoneTranscript)

	// A cleared or restarted chat starts over
	if len(snap.Chat) < p.chat {
		p.chat = 0
	}
	for _, e := range snap.Chat[p.chat:] {
		if e.Kind == answer.KindQuestion {
			fmt.Fprintf(p.w, "Q (%s): %s\n", e.Source, e.Text)
		} else {
			fmt.Fprintf(p.w, "A: %s\n", e.Text)
		}
	}
	p.chat = len(snap.Chat)
}

func (p *printer) printTranscript(label, before, now string) string {
	if now == before {
		return now
	}

	added := now
	if strings.HasPrefix(now, before) {
		added = strings.TrimSpace(now[len(before):])
	}
	if added != "" {
		fmt.Fprintf(p.w, "[%s] %s\n", label, added)
	}
	return now
}
