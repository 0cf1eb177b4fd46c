package main

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"

	"github.com/ethanbaker/meeting-assistant/internal/config"
	"github.com/ethanbaker/meeting-assistant/pkg/utils"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check prerequisites",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		if !runDoctor(os.Stdout, settings, exec.LookPath) {
			return errors.New("some prerequisites are missing")
		}
		return nil
	},
}

func check(w io.Writer, name string, ok bool, detail string) {
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s: %s\n", mark, name, detail)
}

// runDoctor prints one line per prerequisite and reports whether all are met
func runDoctor(w io.Writer, settings *config.Settings, lookPath func(string) (string, error)) bool {
	ok := true

	if settings.DeepgramAPIKey != "" {
		check(w, "Deepgram API key", true, "configured")
	} else {
		check(w, "Deepgram API key", false, "not set. Set DEEPGRAM_API_KEY")
		ok = false
	}

	switch settings.AIProvider {
	case config.ProviderGemini:
		if settings.GoogleAPIKey != "" {
			check(w, "Google AI API key", true, "configured")
		} else {
			check(w, "Google AI API key", false, "not set. Set GOOGLE_AI_API_KEY")
			ok = false
		}
	case config.ProviderOpenAI:
		if settings.OpenAIAPIKey != "" {
			check(w, "OpenAI API key", true, "configured")
		} else {
			check(w, "OpenAI API key", false, "not set. Set OPENAI_API_KEY")
			ok = false
		}
	default:
		check(w, "AI provider", false, fmt.Sprintf("unknown provider %q", settings.AIProvider))
		ok = false
	}

	if u, err := url.Parse(settings.DeepgramURL); err != nil || (u.Scheme != "wss" && u.Scheme != "ws") {
		check(w, "Deepgram endpoint", false, fmt.Sprintf("%q is not a websocket URL", settings.DeepgramURL))
		ok = false
	} else {
		check(w, "Deepgram endpoint", true, settings.DeepgramURL)
	}

	if settings.AnswerPromptPath != "" {
		if _, err := utils.LoadPrompt(settings.AnswerPromptPath); err != nil {
			check(w, "Answer prompt", false, err.Error())
			ok = false
		} else {
			check(w, "Answer prompt", true, settings.AnswerPromptPath)
		}
	} else {
		check(w, "Answer prompt", true, "built-in")
	}

	// ffmpeg is only needed by the listen command
	if path, err := lookPath(settings.FFmpegPath); err != nil {
		check(w, "ffmpeg", false, "not found. Required for 'listen'; 'serve' works without it")
	} else {
		check(w, "ffmpeg", true, path)
	}

	if ok {
		fmt.Fprintln(w, "\nAll prerequisites met. Ready to record!")
	} else {
		fmt.Fprintln(w, "\nSome prerequisites are missing.")
	}
	return ok
}
