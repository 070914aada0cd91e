// Package config loads the client configuration from a .env file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the calling client configuration.
type Config struct {
	// RelayURL is the WebSocket endpoint of the signaling relay.
	RelayURL string

	// Token authenticates this client toward the relay.
	Token string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// STUNServers are the ICE servers used for candidate gathering.
	STUNServers []string

	// PreferredCodecs orders codec names in negotiated SDP.
	PreferredCodecs []string

	// MaxAverageBitrate caps the Opus bitrate; 0 leaves SDP untouched.
	MaxAverageBitrate int

	// TreatFailureAsTerminal disables ICE-restart recovery on transports
	// that cannot report restart completion.
	TreatFailureAsTerminal bool

	// EnhancedPrecision enables the fine-grained relay error codes.
	EnhancedPrecision bool
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	relayURL := os.Getenv("DIALTONE_RELAY_URL")
	if relayURL == "" {
		return nil, fmt.Errorf("DIALTONE_RELAY_URL environment variable is required")
	}

	token := os.Getenv("DIALTONE_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("DIALTONE_TOKEN environment variable is required")
	}

	cfg := &Config{
		RelayURL:    relayURL,
		Token:       token,
		LogLevel:    "info",
		STUNServers: []string{"stun:stun.l.google.com:19302"},
	}

	if level := os.Getenv("DIALTONE_LOGLEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if servers := os.Getenv("DIALTONE_STUN_SERVERS"); servers != "" {
		cfg.STUNServers = splitList(servers)
	}
	if codecs := os.Getenv("DIALTONE_PREFERRED_CODECS"); codecs != "" {
		cfg.PreferredCodecs = splitList(codecs)
	}
	if bitrate := os.Getenv("DIALTONE_MAX_AVERAGE_BITRATE"); bitrate != "" {
		b, err := strconv.Atoi(bitrate)
		if err != nil {
			return nil, fmt.Errorf("DIALTONE_MAX_AVERAGE_BITRATE must be a number: %w", err)
		}
		cfg.MaxAverageBitrate = b
	}
	if v := os.Getenv("DIALTONE_FAILURE_IS_TERMINAL"); v != "" {
		cfg.TreatFailureAsTerminal = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("DIALTONE_ENHANCED_PRECISION"); v != "" {
		cfg.EnhancedPrecision = v == "1" || strings.EqualFold(v, "true")
	}

	return cfg, nil
}

// splitList parses a comma-separated list, trimming whitespace and
// dropping empty entries.
func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
