// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the renovation voice service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	// ProviderMode selects the speech and language backends: "openai",
	// "mock", or "auto" (openai when an API key is present).
	ProviderMode string
	OpenAIAPIKey string
	OpenAIBase   string

	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	STTModel      string
	STTSampleRate int

	TTSModel      string
	TTSVoiceBob   string
	TTSVoiceAlice string

	// VADSpeechThreshold is the normalized RMS floor below which a 20ms
	// window counts as silence. VADSilence is how much trailing silence
	// closes an utterance when the client never sends end_of_audio;
	// MinSpeech is the least voiced audio that counts as an utterance.
	VADSpeechThreshold float64
	VADSilence         time.Duration
	MinSpeech          time.Duration

	GuardrailEnabled bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "renovox"),
		ProviderMode:     strings.ToLower(envOrDefault("PROVIDER_MODE", "auto")),
		OpenAIAPIKey:     trimSpaceEnv("OPENAI_API_KEY"),
		OpenAIBase:       trimSpaceEnv("OPENAI_BASE_URL"),
		LLMModel:         envOrDefault("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:     400,
		LLMTemperature:   0.7,
		STTModel:         envOrDefault("STT_MODEL", "whisper-1"),
		STTSampleRate:    16000,
		TTSModel:         envOrDefault("TTS_MODEL", "tts-1"),
		TTSVoiceBob:      envOrDefault("TTS_VOICE_BOB", "alloy"),
		TTSVoiceAlice:    envOrDefault("TTS_VOICE_ALICE", "shimmer"),

		VADSpeechThreshold: 0.015,
		VADSilence:         600 * time.Millisecond,
		MinSpeech:          300 * time.Millisecond,

		GuardrailEnabled:         true,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.STTSampleRate, err = intFromEnv("STT_SAMPLE_RATE", cfg.STTSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSpeechThreshold, err = floatFromEnv("VAD_SPEECH_THRESHOLD", cfg.VADSpeechThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilence, err = millisFromEnv("VAD_SILENCE_MS", cfg.VADSilence)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSpeech, err = millisFromEnv("MIN_SPEECH_MS", cfg.MinSpeech)
	if err != nil {
		return Config{}, err
	}
	cfg.GuardrailEnabled, err = boolFromEnv("GUARDRAIL_ENABLED", cfg.GuardrailEnabled)
	if err != nil {
		return Config{}, err
	}

	switch cfg.ProviderMode {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("PROVIDER_MODE must be auto, openai, or mock")
	}
	if cfg.ProviderMode == "openai" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("PROVIDER_MODE=openai requires OPENAI_API_KEY")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if cfg.STTSampleRate <= 0 {
		return Config{}, fmt.Errorf("STT_SAMPLE_RATE must be positive")
	}
	if cfg.VADSpeechThreshold < 0 || cfg.VADSpeechThreshold >= 1 {
		return Config{}, fmt.Errorf("VAD_SPEECH_THRESHOLD must be in [0, 1)")
	}

	return cfg, nil
}

// UseMock reports whether the mock provider should back the pipeline.
func (c Config) UseMock() bool {
	if c.ProviderMode == "mock" {
		return true
	}
	return c.ProviderMode == "auto" && c.OpenAIAPIKey == ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimSpaceEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func millisFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%s parse error: expected milliseconds", key)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimSpaceEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpaceEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
