package cmd

import (
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/bullseye/internal/api"
	"github.com/joescharf/bullseye/internal/llm"
)

// newCoach creates a coaching client from config/env, or returns nil if no
// API key is configured. Tests replace it.
var newCoach = func() api.Coach {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}
