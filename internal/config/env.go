package config

import (
	"os"
	"strconv"
)

// Get returns the first non-empty environment variable from the provided keys.
func Get(keys ...string) string {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

// GetBool parses the first non-empty key as a boolean, returning fallback on
// absence or a value strconv can't parse.
func GetBool(fallback bool, keys ...string) bool {
	raw := Get(keys...)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetInt parses the first non-empty key as an integer.
func GetInt(fallback int, keys ...string) int {
	raw := Get(keys...)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// GetFloat parses the first non-empty key as a float.
func GetFloat(fallback float64, keys ...string) float64 {
	raw := Get(keys...)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}
