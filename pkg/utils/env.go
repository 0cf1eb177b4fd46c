package utils

import (
	"os"
	"strings"

	"github.com/ethanbaker/meeting-assistant/internal/logging"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// EnvFile returns the .env path to load, honoring an ENV_FILE override
func EnvFile(fallback string) string {
	if file := os.Getenv("ENV_FILE"); file != "" {
		return file
	}
	return fallback
}

// LoadEnv loads environment variables from multiple .env files
// Returns a map of the resulting environment. Variables already present in the
// process environment are not overwritten by file values
func LoadEnv(files ...string) map[string]string {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			logging.L("utils").Warn("could not load env file", zap.String("file", file), zap.Error(err))
		}
	}

	config := make(map[string]string)
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if ok && key != "" {
			config[key] = value
		}
	}

	return config
}
