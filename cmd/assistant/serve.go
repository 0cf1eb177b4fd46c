package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethanbaker/meeting-assistant/internal/api"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const teardownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API for a browser client",
	Long: `Serve the session API. A browser shares its screen and microphone, uploads
the media over websockets and follows transcripts and answers on the event socket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		if port, _ := cmd.Flags().GetString("port"); port != "" {
			settings.APIPort = port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		device := capture.NewBrowserDevice()
		controller, closeAnswerer, err := newController(ctx, settings, device)
		if err != nil {
			return err
		}

		serveErr := api.Start(ctx, settings, controller, device)

		teardownCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		err = multierr.Combine(serveErr, controller.Close(teardownCtx), closeAnswerer())
		if err != nil {
			logging.L("serve").Error("server exited with errors", zap.Error(err))
			return fmt.Errorf("serve failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (overrides API_PORT)")
}
