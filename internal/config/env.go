package config

import (
	"fmt"
	"os"
	"strconv"
)

// ApplyEnv overlays environment variables on the config.
//
// Environment variables:
//   - VIGIL_ROOT: tree to watch
//   - VIGIL_BACKEND: anthropic, openai or ollama
//   - VIGIL_MODEL_PRIMARY / VIGIL_MODEL_FALLBACK: model names
//   - VIGIL_BASE_URL: backend endpoint override
//   - VIGIL_DRY_RUN, VIGIL_AUTO_FIX, VIGIL_AUTO_ANALYZE: booleans
//   - VIGIL_LOG_LEVEL: debug, info, warn or error
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: credentials for the selected backend
//
// Returns an error if any environment variable has an invalid value.
func (c *Config) ApplyEnv() error {
	parseEnvString("VIGIL_ROOT", &c.RootPath)
	parseEnvString("VIGIL_BACKEND", &c.Inference.Backend)
	parseEnvString("VIGIL_MODEL_PRIMARY", &c.Inference.PrimaryModel)
	parseEnvString("VIGIL_MODEL_FALLBACK", &c.Inference.FallbackModel)
	parseEnvString("VIGIL_BASE_URL", &c.Inference.BaseURL)
	parseEnvString("VIGIL_LOG_LEVEL", &c.Log.Level)

	if err := parseEnvBool("VIGIL_DRY_RUN", &c.Fix.DryRun); err != nil {
		return err
	}
	if err := parseEnvBool("VIGIL_AUTO_FIX", &c.Fix.AutoFix); err != nil {
		return err
	}
	if err := parseEnvBool("VIGIL_AUTO_ANALYZE", &c.AutoAnalyze); err != nil {
		return err
	}

	switch c.Inference.Backend {
	case BackendAnthropic:
		parseEnvString("ANTHROPIC_API_KEY", &c.Inference.APIKey)
	case BackendOpenAI:
		parseEnvString("OPENAI_API_KEY", &c.Inference.APIKey)
	}
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString copies a non-empty environment variable into dest
func parseEnvString(key string, dest *string) {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
}
