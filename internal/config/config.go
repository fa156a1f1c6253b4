// Package config loads the client configuration from an optional YAML
// profile file and environment variables, validates it, and provides
// sensible defaults. Environment variables win over the profile file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corkboard-app/corkboard/internal/retry"
)

const (
	defaultPageSize = 50
	defaultMaxPages = 8

	defaultPageTTL      = 45 * time.Second
	defaultCountTTL     = 60 * time.Second
	defaultPollInterval = 30 * time.Second
	defaultMinRefresh   = 5 * time.Second
)

// Config holds everything a board session needs.
type Config struct {
	// Store settings. StoreURL is either an https:// data API endpoint or
	// a postgres:// DSN for self-hosted boards.
	StoreURL string
	StoreKey string

	// RealtimeURL is the websocket change-feed endpoint. Optional: a
	// postgres store carries its own feed, and without any feed the
	// listener stays in polling mode.
	RealtimeURL string

	// Author is the display name stamped on composed notes.
	Author string

	// ProfileDir holds the per-profile state (ownership database,
	// profile file).
	ProfileDir string

	// Meme generation. GeneratorURL points at the HTTP generation
	// endpoint; with only an OpenAI key, the image API is used directly.
	GeneratorURL string
	OpenAIAPIKey string

	// Load and cache tuning.
	PageSize int
	MaxPages int
	PageTTL  time.Duration
	CountTTL time.Duration

	// Retry policy for every remote store call.
	Retry retry.Policy

	// Listener tuning.
	PollInterval time.Duration
	MinRefresh   time.Duration

	// StrictGestures also gates drag/resize/rotate by ownership.
	StrictGestures bool

	// Media storage (uses AWS_ env vars, set automatically by
	// `fly storage create`). All empty means uploads embed as data URLs.
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL
}

// profileFile is the YAML form of the settings a user keeps per profile.
// Only the stable, non-secret knobs live here; secrets stay in env vars.
type profileFile struct {
	Author         string `yaml:"author"`
	StoreURL       string `yaml:"store_url"`
	RealtimeURL    string `yaml:"realtime_url"`
	GeneratorURL   string `yaml:"generator_url"`
	StrictGestures bool   `yaml:"strict_gestures"`
}

// ValidationError reports every configuration problem at once.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads the profile file under the profile dir (if present), applies
// environment variables on top, and validates. An empty profileDir uses
// CORKBOARD_PROFILE_DIR or the OS user config dir.
func Load(profileDir string) (*Config, error) {
	cfg := &Config{
		Author:       "anonymous",
		PageSize:     parseIntOrDefault("CORKBOARD_PAGE_SIZE", defaultPageSize),
		MaxPages:     parseIntOrDefault("CORKBOARD_MAX_PAGES", defaultMaxPages),
		PageTTL:      parseDurationOrDefault("CORKBOARD_PAGE_TTL", defaultPageTTL),
		CountTTL:     parseDurationOrDefault("CORKBOARD_COUNT_TTL", defaultCountTTL),
		PollInterval: parseDurationOrDefault("CORKBOARD_POLL_INTERVAL", defaultPollInterval),
		MinRefresh:   parseDurationOrDefault("CORKBOARD_MIN_REFRESH", defaultMinRefresh),
		Retry: retry.Policy{
			MaxAttempts: parseIntOrDefault("CORKBOARD_RETRY_ATTEMPTS", retry.DefaultPolicy.MaxAttempts),
			BaseTimeout: parseDurationOrDefault("CORKBOARD_RETRY_BASE_TIMEOUT", retry.DefaultPolicy.BaseTimeout),
			TimeoutCap:  parseDurationOrDefault("CORKBOARD_RETRY_TIMEOUT_CAP", retry.DefaultPolicy.TimeoutCap),
			BaseDelay:   parseDurationOrDefault("CORKBOARD_RETRY_BASE_DELAY", retry.DefaultPolicy.BaseDelay),
			MaxDelay:    parseDurationOrDefault("CORKBOARD_RETRY_MAX_DELAY", retry.DefaultPolicy.MaxDelay),
		},
	}

	if profileDir == "" {
		profileDir = strings.TrimSpace(os.Getenv("CORKBOARD_PROFILE_DIR"))
	}
	if profileDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve profile dir: %w", err)
		}
		profileDir = filepath.Join(base, "corkboard")
	}
	cfg.ProfileDir = profileDir

	if err := cfg.applyProfileFile(filepath.Join(profileDir, "config.yaml")); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyProfileFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read profile file: %w", err)
	}

	var profile profileFile
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if profile.Author != "" {
		c.Author = profile.Author
	}
	if profile.StoreURL != "" {
		c.StoreURL = profile.StoreURL
	}
	if profile.RealtimeURL != "" {
		c.RealtimeURL = profile.RealtimeURL
	}
	if profile.GeneratorURL != "" {
		c.GeneratorURL = profile.GeneratorURL
	}
	if profile.StrictGestures {
		c.StrictGestures = true
	}
	return nil
}

func (c *Config) applyEnv() {
	setIfPresent(&c.StoreURL, "CORKBOARD_STORE_URL")
	setIfPresent(&c.StoreKey, "CORKBOARD_STORE_KEY")
	setIfPresent(&c.RealtimeURL, "CORKBOARD_REALTIME_URL")
	setIfPresent(&c.Author, "CORKBOARD_AUTHOR")
	setIfPresent(&c.GeneratorURL, "CORKBOARD_GENERATOR_URL")
	setIfPresent(&c.OpenAIAPIKey, "OPENAI_API_KEY")
	if v := os.Getenv("CORKBOARD_STRICT_GESTURES"); v != "" {
		c.StrictGestures = v == "1" || strings.EqualFold(v, "true")
	}

	setIfPresent(&c.AWSEndpointS3, "AWS_ENDPOINT_URL_S3")
	c.AWSRegion = getEnvOrDefault("AWS_REGION", "auto")
	setIfPresent(&c.AWSAccessKeyID, "AWS_ACCESS_KEY_ID")
	setIfPresent(&c.AWSSecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setIfPresent(&c.AWSBucketName, "BUCKET_NAME")
	setIfPresent(&c.AWSPublicURL, "S3_PUBLIC_URL")
	if c.AWSPublicURL == "" && c.AWSEndpointS3 != "" && c.AWSBucketName != "" {
		c.AWSPublicURL = strings.TrimRight(c.AWSEndpointS3, "/") + "/" + c.AWSBucketName
	}
}

// Validate checks that the configuration is complete and coherent.
func (c *Config) Validate() error {
	var problems []string

	switch {
	case c.StoreURL == "":
		problems = append(problems, "CORKBOARD_STORE_URL is required (https:// data API or postgres:// DSN)")
	case strings.HasPrefix(c.StoreURL, "http://"), strings.HasPrefix(c.StoreURL, "https://"):
		if c.StoreKey == "" {
			problems = append(problems, "CORKBOARD_STORE_KEY is required for an HTTP store")
		}
	case strings.HasPrefix(c.StoreURL, "postgres://"), strings.HasPrefix(c.StoreURL, "postgresql://"):
	default:
		problems = append(problems, fmt.Sprintf("CORKBOARD_STORE_URL has unsupported scheme: %s", c.StoreURL))
	}

	if c.RealtimeURL != "" && !strings.HasPrefix(c.RealtimeURL, "ws://") && !strings.HasPrefix(c.RealtimeURL, "wss://") {
		problems = append(problems, "CORKBOARD_REALTIME_URL must be a ws:// or wss:// URL")
	}

	if c.PageSize <= 0 {
		problems = append(problems, "CORKBOARD_PAGE_SIZE must be positive")
	}
	if c.MaxPages <= 0 {
		problems = append(problems, "CORKBOARD_MAX_PAGES must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		problems = append(problems, "CORKBOARD_RETRY_ATTEMPTS must be positive")
	}

	// Media storage is optional, but partial credentials are a config bug.
	if c.AWSBucketName != "" || c.AWSEndpointS3 != "" {
		if c.AWSBucketName == "" {
			problems = append(problems, "BUCKET_NAME is required when AWS_ENDPOINT_URL_S3 is set")
		}
		if c.AWSAccessKeyID == "" {
			problems = append(problems, "AWS_ACCESS_KEY_ID is required for media storage")
		}
		if c.AWSSecretAccessKey == "" {
			problems = append(problems, "AWS_SECRET_ACCESS_KEY is required for media storage")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

// MediaConfigured reports whether uploads go to object storage rather than
// inline data URLs.
func (c *Config) MediaConfigured() bool {
	return c.AWSBucketName != ""
}

// OwnershipPath is the profile database file holding the owned-note set.
func (c *Config) OwnershipPath() string {
	return filepath.Join(c.ProfileDir, "corkboard.db")
}

func setIfPresent(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
