package mirror

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultMaxSizeMiB = 100
	defaultWorkers    = 4
	defaultDBPath     = "uploader_state.db"
)

// Config captures the full configuration surface of a sync run. Values come
// from NEXUS_* environment variables with command-line flags overriding.
type Config struct {
	// URL is the release repository base. https:// endpoints speak Maven
	// HTTP with Basic auth; s3:// buckets go through the object-store
	// adapter.
	URL string
	// SnapshotURL, when set, receives artifacts whose version ends in
	// -SNAPSHOT. Empty means snapshots use URL.
	SnapshotURL string
	Username    string
	Password    string
	// Dir is the scan root.
	Dir string
	// Force bypasses both idempotency checks and always transfers.
	Force bool
	// Exclude rejects artifacts whose group or artifact ID contains any of
	// these substrings.
	Exclude []string
	// MaxSizeMiB rejects artifacts carrying a jar/war above this size.
	MaxSizeMiB int64
	// DBPath locates the idempotency ledger: a SQLite file path or a
	// postgres:// DSN.
	DBPath string
	// Strategy picks the descriptor file-discovery heuristic.
	Strategy Strategy
	// Workers bounds upload concurrency.
	Workers int
	// AdminAddr, when set, serves health, metrics and run status there for
	// the duration of the sync.
	AdminAddr string
	// EventsURL, when set, publishes per-file and run events to NATS.
	EventsURL string
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		URL:         os.Getenv("NEXUS_URL"),
		SnapshotURL: os.Getenv("NEXUS_SNAPSHOT_URL"),
		Username:    os.Getenv("NEXUS_USERNAME"),
		Password:    os.Getenv("NEXUS_PASSWORD"),
		Dir:         getEnv("NEXUS_DIR", "."),
		Force:       getEnvBool("NEXUS_FORCE", false),
		Exclude:     splitKeywords(os.Getenv("NEXUS_EXCLUDE")),
		MaxSizeMiB:  int64(getEnvInt("NEXUS_MAX_SIZE", defaultMaxSizeMiB)),
		DBPath:      getEnv("NEXUS_DB_PATH", defaultDBPath),
		Workers:     getEnvInt("NEXUS_WORKERS", defaultWorkers),
		AdminAddr:   os.Getenv("NEXUS_ADMIN_ADDR"),
		EventsURL:   os.Getenv("NEXUS_EVENTS_URL"),
	}

	strategy, err := ParseStrategy(getEnv("NEXUS_RESOLVER", string(StrategyPrefix)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid NEXUS_RESOLVER: %w", err)
	}
	cfg.Strategy = strategy

	return cfg, nil
}

// Validate checks the configuration is complete enough to sync. It runs
// after flag overrides have been applied.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("repository URL is required (--url or NEXUS_URL)")
	}
	if c.SnapshotURL != "" && isS3URL(c.URL) != isS3URL(c.SnapshotURL) {
		return errors.New("release and snapshot URLs must use the same scheme family")
	}
	if !isS3URL(c.URL) {
		if c.Username == "" {
			return errors.New("username is required (--username or NEXUS_USERNAME)")
		}
		if c.Password == "" {
			return errors.New("password is required (--password or NEXUS_PASSWORD)")
		}
	}
	if c.Dir == "" {
		return errors.New("scan directory is required")
	}
	if c.MaxSizeMiB <= 0 {
		return fmt.Errorf("max size must be positive, got %d", c.MaxSizeMiB)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.DBPath == "" {
		return errors.New("state path is required (--db-path or NEXUS_DB_PATH)")
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	return nil
}

func isS3URL(url string) bool {
	return strings.HasPrefix(url, "s3://")
}

// splitKeywords parses a comma-separated exclusion list, trimming blanks.
func splitKeywords(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		keywords = append(keywords, trimmed)
	}
	if len(keywords) == 0 {
		return nil
	}
	return keywords
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
