package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config holds runtime settings read from the environment.
type Config struct {
	// Audio
	SampleRate   int
	Backend      string        // ebiten, oto or none
	BufferTime   time.Duration // device buffer, oto only
	MasterVolume float64

	// Instrument
	Bundle       string // init state loaded at startup
	ClientBuffer int    // error reports held for a slow client

	LogLevel slog.Level
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		SampleRate:   envInt("SAMPLER_SAMPLE_RATE", 48000),
		Backend:      envStr("SAMPLER_BACKEND", "ebiten"),
		BufferTime:   time.Duration(envInt("SAMPLER_BUFFER_MS", 20)) * time.Millisecond,
		MasterVolume: envFloat("SAMPLER_VOLUME", 1.0),

		Bundle:       envStr("SAMPLER_BUNDLE", "default"),
		ClientBuffer: envInt("SAMPLER_CLIENT_BUFFER", 16),

		LogLevel: envLevel("SAMPLER_LOG_LEVEL", slog.LevelInfo),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envLevel accepts slog level names such as "debug" or "warn+2".
func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err == nil {
			return l
		}
	}
	return fallback
}
