package answer

import (
	"context"
	"fmt"

	"github.com/ethanbaker/meeting-assistant/internal/config"
	"github.com/ethanbaker/meeting-assistant/pkg/utils"
)

// NewFromSettings builds the backend selected by AI_PROVIDER. The returned
// closer releases client resources and is never nil
func NewFromSettings(ctx context.Context, s *config.Settings) (Backend, func() error, error) {
	instruction := utils.LoadPromptWithFallback(s.AnswerPromptPath, "")
	noop := func() error { return nil }

	switch s.AIProvider {
	case config.ProviderGemini:
		g, err := NewGemini(ctx, s.GoogleAPIKey, s.AIModel, instruction)
		if err != nil {
			return nil, noop, err
		}
		return g, g.Close, nil

	case config.ProviderOpenAI:
		o, err := NewOpenAI(s.OpenAIAPIKey, s.AIModel, instruction)
		if err != nil {
			return nil, noop, err
		}
		return o, noop, nil
	}

	return nil, noop, fmt.Errorf("unknown AI provider %q", s.AIProvider)
}
