package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethanbaker/meeting-assistant/pkg/sdk"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		apiKey, _ := cmd.Flags().GetString("api-key")

		ctx := cmd.Context()
		client := sdk.NewClient(url, apiKey)

		if doClear, _ := cmd.Flags().GetBool("clear"); doClear {
			if err := client.ClearSession(ctx); err != nil {
				return err
			}
		}

		snap, err := client.GetSession(ctx)
		if err != nil {
			return err
		}

		printStatus(os.Stdout, snap)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("url", "http://localhost:8080", "Assistant API base URL")
	statusCmd.Flags().String("api-key", "", "API key sent as X-API-KEY")
	statusCmd.Flags().Bool("clear", false, "Clear transcripts and chat before printing")
}

func printStatus(w io.Writer, snap *sdk.SessionSnapshot) {
	fmt.Fprintf(w, "Phase:      %s\n", snap.Phase)
	if snap.Recording {
		fmt.Fprintf(w, "Elapsed:    %s\n", snap.ElapsedDisplay)
	}
	if snap.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", snap.Error)
	}
	if snap.Processing {
		fmt.Fprintln(w, "Answering:  yes")
	}

	fmt.Fprintf(w, "\nScreen:     %s\n", orNone(snap.ScreenTranscript))
	fmt.Fprintf(w, "Microphone: %s\n", orNone(snap.MicrophoneTranscript))

	if len(snap.Chat) == 0 {
		return
	}

	fmt.Fprintln(w)
	for _, e := range snap.Chat {
		fmt.Fprintf(w, "[%s] %s: %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Kind, e.Text)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
