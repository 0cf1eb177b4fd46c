package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethanbaker/meeting-assistant/internal/answer"
	"github.com/ethanbaker/meeting-assistant/internal/assistant"
	"github.com/ethanbaker/meeting-assistant/internal/capture"
	"github.com/ethanbaker/meeting-assistant/internal/config"
	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/ethanbaker/meeting-assistant/internal/transcription"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Live meeting assistant",
	Long: `Meeting assistant - transcribes a shared screen and your microphone live,
spots questions in what is said and answers them with an AI model.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Meeting Assistant %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)

	rootCmd.PersistentFlags().String("env-file", ".env", "Env file path (ENV_FILE overrides)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadSettings reads the env/YAML configuration named by the root flags and
// initializes logging from it
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	yamlFile, _ := cmd.Flags().GetString("config")

	cfg, err := config.FromFiles(envFile, yamlFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	settings := config.Load(cfg)
	if _, err := logging.Init(settings.LogFormat, settings.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	return settings, nil
}

// newController builds a controller backed by Deepgram and the configured AI
// provider. The returned close func releases the AI client
func newController(ctx context.Context, settings *config.Settings, device capture.Device, captureOpts ...capture.ManagerOption) (*assistant.Controller, func() error, error) {
	if err := settings.Validate(); err != nil {
		return nil, nil, err
	}

	answerer, closeAnswerer, err := answer.NewFromSettings(ctx, settings)
	if err != nil {
		return nil, nil, err
	}

	controller := assistant.New(assistant.Dependencies{
		Device:      device,
		Transcriber: transcription.NewDeepgram(settings.DeepgramAPIKey, transcription.WithEndpoint(settings.DeepgramURL)),
		Answerer:    answerer,
		Options: transcription.Options{
			Model:         settings.Model,
			Language:      settings.Language,
			SmartFormat:   settings.SmartFormat,
			ChunkInterval: settings.ChunkInterval,
		},
		CaptureOptions: captureOpts,
	})

	return controller, closeAnswerer, nil
}
