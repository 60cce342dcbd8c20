package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Helper to get float64 env with default
func getEnvAsFloat64(key string, fallback float64) float64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float64 for config %s, using default %f", key, fallback)
		return fallback
	}
	return val
}

func getEnvAsInt(key string, fallback int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Warning: Invalid int for config %s, using default %d", key, fallback)
		return fallback
	}
	return val
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(valueStr), "_", ""), 10, 64)
	if err != nil {
		log.Printf("Warning: Invalid int64 for config %s, using default %d", key, fallback)
		return fallback
	}
	return val
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.ParseBool(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Warning: Invalid bool for config %s, using default %t", key, fallback)
		return fallback
	}
	return val
}

// getEnvAsDuration accepts Go duration strings ("90s", "8h").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := time.ParseDuration(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Warning: Invalid duration for config %s, using default %s", key, fallback)
		return fallback
	}
	return val
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsInt64List(key string, fallback []int64) []int64 {
	parts := getEnvAsList(key)
	if len(parts) == 0 {
		return fallback
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.ReplaceAll(p, "_", ""), 10, 64)
		if err != nil {
			log.Printf("Warning: Invalid list for config %s, using default", key)
			return fallback
		}
		out = append(out, v)
	}
	return out
}

// ParseClock turns "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// MustClock is ParseClock for values that already passed Load; bad input maps to fallback.
func MustClock(s string, fallback int) int {
	v, err := ParseClock(s)
	if err != nil {
		log.Printf("Warning: %v, using %02d:%02d", err, fallback/60, fallback%60)
		return fallback
	}
	return v
}

// MinuteOfDay is the wall clock minute of t in loc. A nil loc keeps t's own zone.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Hour()*60 + t.Minute()
}
