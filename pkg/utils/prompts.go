package utils

import (
	"fmt"
	"os"
	"strings"
)

// LoadPrompt loads a prompt (such as the answer system instruction) from an exact file path
func LoadPrompt(filePath string) (string, error) {
	if filePath == "" {
		return "", fmt.Errorf("no prompt path given")
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", filePath, err)
	}

	prompt := strings.TrimSpace(string(content))
	if prompt == "" {
		return "", fmt.Errorf("prompt file %s is empty", filePath)
	}

	return prompt, nil
}

// LoadPromptWithFallback loads a prompt from filePath, returning fallback when the
// path is unset, missing or empty
func LoadPromptWithFallback(filePath, fallback string) string {
	if content, err := LoadPrompt(filePath); err == nil {
		return content
	}
	return fallback
}
