package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Getenv returns the trimmed value of key or def when unset.
func Getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// MustGetenv returns the value of key or an error naming the missing variable.
func MustGetenv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s environment variable not set", key)
	}
	return v, nil
}

// GetenvInt parses key as an int, falling back to def on absence or bad input.
func GetenvInt(key string, def int) int {
	raw := Getenv(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		zap.L().Warn("[CONFIG] invalid integer, using default", zap.String("key", key), zap.String("value", raw))
		return def
	}
	return n
}

// GetenvFloat parses key as a float64.
func GetenvFloat(key string, def float64) float64 {
	raw := Getenv(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		zap.L().Warn("[CONFIG] invalid number, using default", zap.String("key", key), zap.String("value", raw))
		return def
	}
	return f
}

// GetenvDuration parses key with time.ParseDuration.
func GetenvDuration(key string, def time.Duration) time.Duration {
	raw := Getenv(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		zap.L().Warn("[CONFIG] invalid duration, using default", zap.String("key", key), zap.String("value", raw))
		return def
	}
	return d
}

// GetenvList splits a comma-separated variable, dropping blanks.
func GetenvList(key, def string) []string {
	var out []string
	for _, part := range strings.Split(Getenv(key, def), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
