// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds the application configuration. Every empirically tuned constant
// of the core (segment sizes, retry counts, fan-outs, ceilings, sync windows)
// lives here rather than in the packages that consume it.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Data     DataConfig
	Segment  SegmentConfig
	Speech   SpeechConfig
	Player   PlayerConfig
	Download DownloadConfig
	Sync     SyncConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// DataConfig holds persistent storage configuration.
type DataConfig struct {
	// BasePath is the directory holding the embedded database.
	BasePath string
}

// SegmentConfig holds chapter segmentation tunables.
type SegmentConfig struct {
	// ShortTextWords: texts at or below this stay a single chapter.
	ShortTextWords int
	// TargetWords is the greedy accumulation target per chapter.
	TargetWords int
	// MinWords is the minimum size before a chapter may be closed.
	MinWords int
	// MaxWords is the hard ceiling no emitted chapter may exceed
	// (single-chapter short books excepted).
	MaxWords int
	// PrefaceMinWords: text before the first structural marker becomes a
	// Preface chapter only above this size.
	PrefaceMinWords int
	// NoiseFloorWords: marker-derived chapters below this are discarded.
	NoiseFloorWords int
}

// SpeechConfig holds normalization configuration.
type SpeechConfig struct {
	// ForeignMode is "placeholder" or "transliterate".
	ForeignMode string
}

// PlayerConfig holds playback engine configuration.
type PlayerConfig struct {
	// ProgressFlushInterval is how often progress is persisted while playing.
	ProgressFlushInterval time.Duration
	// SkipSeconds is the default skip forward/back delta.
	SkipSeconds float64
}

// DownloadConfig holds download pipeline configuration.
type DownloadConfig struct {
	// Concurrency is the bounded synthesis fan-out per book.
	Concurrency int
	// Attempts is the per-chapter attempt count on normalized text.
	Attempts int
	// RetryDelay is the fixed inter-attempt delay.
	RetryDelay time.Duration
	// StorageCeilingBytes is the maximum total cached-audio size. Zero
	// disables the ceiling.
	StorageCeilingBytes int64
	// RequestsPerSecond throttles synthesis calls during bulk downloads.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// SyncConfig holds sync engine configuration.
type SyncConfig struct {
	// Enabled turns the sync loop on.
	Enabled bool
	// UserID scopes remote snapshots.
	UserID string
	// Debounce resets on each mutation before a push.
	Debounce time.Duration
	// MaxWait bounds debouncing under continuous activity.
	MaxWait time.Duration
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := flag.String("data-path", "", "Base path for persistent storage")
	foreignMode := flag.String("foreign-mode", "", "Foreign text handling (placeholder, transliterate)")
	syncEnabled := flag.String("sync-enabled", "", "Enable cross-device sync (default: true)")
	syncUserID := flag.String("sync-user", "", "User ID for remote snapshots")
	storageCeiling := flag.String("storage-ceiling", "", "Max cached audio bytes (default: 2147483648)")
	downloadConcurrency := flag.String("download-concurrency", "", "Concurrent synthesis requests per book (default: 4)")
	envFile := flag.String("env-file", ".env", "Path to .env file")

	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Data: DataConfig{
			BasePath: getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Segment: SegmentConfig{
			ShortTextWords:  getIntConfigValue("", "SEGMENT_SHORT_TEXT_WORDS", 550),
			TargetWords:     getIntConfigValue("", "SEGMENT_TARGET_WORDS", 450),
			MinWords:        getIntConfigValue("", "SEGMENT_MIN_WORDS", 150),
			MaxWords:        getIntConfigValue("", "SEGMENT_MAX_WORDS", 580),
			PrefaceMinWords: getIntConfigValue("", "SEGMENT_PREFACE_MIN_WORDS", 100),
			NoiseFloorWords: getIntConfigValue("", "SEGMENT_NOISE_FLOOR_WORDS", 20),
		},
		Speech: SpeechConfig{
			ForeignMode: getConfigValue(*foreignMode, "SPEECH_FOREIGN_MODE", "placeholder"),
		},
		Player: PlayerConfig{
			SkipSeconds: 30,
		},
		Download: DownloadConfig{
			Concurrency:         getIntConfigValue(*downloadConcurrency, "DOWNLOAD_CONCURRENCY", 4),
			Attempts:            getIntConfigValue("", "DOWNLOAD_ATTEMPTS", 3),
			StorageCeilingBytes: int64(getIntConfigValue(*storageCeiling, "STORAGE_CEILING_BYTES", 2<<30)),
			RequestsPerSecond:   8,
		},
		Sync: SyncConfig{
			Enabled: getBoolConfigValue(*syncEnabled, "SYNC_ENABLED", true),
			UserID:  getConfigValue(*syncUserID, "SYNC_USER_ID", ""),
		},
	}

	// Parse durations.
	var err error
	if cfg.Player.ProgressFlushInterval, err = parseDurationValue("PLAYER_PROGRESS_FLUSH_INTERVAL", "10s"); err != nil {
		return nil, err
	}
	if cfg.Download.RetryDelay, err = parseDurationValue("DOWNLOAD_RETRY_DELAY", "2s"); err != nil {
		return nil, err
	}
	if cfg.Sync.Debounce, err = parseDurationValue("SYNC_DEBOUNCE", "5s"); err != nil {
		return nil, err
	}
	if cfg.Sync.MaxWait, err = parseDurationValue("SYNC_MAX_WAIT", "30s"); err != nil {
		return nil, err
	}

	// Expand and validate data path.
	if err := cfg.expandDataPath(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data base path cannot be empty after expansion")
	}

	if c.Speech.ForeignMode != "placeholder" && c.Speech.ForeignMode != "transliterate" {
		return fmt.Errorf("invalid foreign mode: %s (must be placeholder or transliterate)", c.Speech.ForeignMode)
	}

	if c.Segment.MinWords >= c.Segment.TargetWords {
		return fmt.Errorf("segment min words (%d) must be below target (%d)", c.Segment.MinWords, c.Segment.TargetWords)
	}
	if c.Segment.TargetWords > c.Segment.MaxWords {
		return fmt.Errorf("segment target words (%d) must not exceed the hard ceiling (%d)", c.Segment.TargetWords, c.Segment.MaxWords)
	}

	if c.Download.Concurrency < 1 {
		return fmt.Errorf("download concurrency must be at least 1, got %d", c.Download.Concurrency)
	}
	if c.Download.Attempts < 1 {
		return fmt.Errorf("download attempts must be at least 1, got %d", c.Download.Attempts)
	}

	if c.Sync.Enabled && c.Sync.MaxWait < c.Sync.Debounce {
		return fmt.Errorf("sync max wait (%s) must be at least the debounce window (%s)", c.Sync.MaxWait, c.Sync.Debounce)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	// Expand tilde.
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandDataPath expands ~ and makes the path absolute.
func (c *Config) expandDataPath() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Narrate", "data")

	expanded, err := expandPath(c.Data.BasePath, defaultPath)
	if err != nil {
		return err
	}
	c.Data.BasePath = expanded
	return nil
}

// parseDurationValue reads an env-configurable duration with a default.
func parseDurationValue(envKey, defaultValue string) (time.Duration, error) {
	raw := getConfigValue("", envKey, defaultValue)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, raw, err)
	}
	return d, nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}

// Default returns a config with all defaults applied and no external input.
// Used by tests and by embedders that configure programmatically.
func Default() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Segment: SegmentConfig{
			ShortTextWords:  550,
			TargetWords:     450,
			MinWords:        150,
			MaxWords:        580,
			PrefaceMinWords: 100,
			NoiseFloorWords: 20,
		},
		Speech: SpeechConfig{ForeignMode: "placeholder"},
		Player: PlayerConfig{
			ProgressFlushInterval: 10 * time.Second,
			SkipSeconds:           30,
		},
		Download: DownloadConfig{
			Concurrency:         4,
			Attempts:            3,
			RetryDelay:          2 * time.Second,
			StorageCeilingBytes: 2 << 30,
			RequestsPerSecond:   8,
		},
		Sync: SyncConfig{
			Enabled:  true,
			Debounce: 5 * time.Second,
			MaxWait:  30 * time.Second,
		},
	}
}
