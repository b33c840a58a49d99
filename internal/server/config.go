package server

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port string

	// Fetching
	ConcurrentDownloads int
	PolitenessDelay     time.Duration
	AttemptTimeout      time.Duration
	MaxAttempts         int

	// Catalog collaborator
	CatalogURL string

	// Storage
	NatsURL    string // empty degrades silently to the fallback tier
	NatsBucket string
	DataDir    string

	// Cleanup
	JobTTL         time.Duration
	ReaperInterval time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		Port:                getEnv("PAPERFETCH_PORT", "8080"),
		ConcurrentDownloads: getEnvInt("PAPERFETCH_MAX_CONCURRENT_DOWNLOADS", 15),
		PolitenessDelay:     getEnvDuration("PAPERFETCH_POLITENESS_DELAY", 100*time.Millisecond),
		AttemptTimeout:      getEnvDuration("PAPERFETCH_DOWNLOAD_TIMEOUT", 30*time.Second),
		MaxAttempts:         getEnvInt("PAPERFETCH_DOWNLOAD_RETRIES", 3),
		CatalogURL:          getEnv("PAPERFETCH_CATALOG_URL", "http://localhost:8081"),
		NatsURL:             getEnv("PAPERFETCH_NATS_URL", ""),
		NatsBucket:          getEnv("PAPERFETCH_NATS_BUCKET", "paperfetch-jobs"),
		DataDir:             getEnv("PAPERFETCH_DATA_DIR", "data"),
		JobTTL:              getEnvDuration("PAPERFETCH_JOB_TTL", time.Hour),
		ReaperInterval:      getEnvDuration("PAPERFETCH_REAPER_INTERVAL", 5*time.Minute),
		ReadTimeout:         getEnvDuration("PAPERFETCH_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:        getEnvDuration("PAPERFETCH_WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:         getEnvDuration("PAPERFETCH_IDLE_TIMEOUT", 2*time.Minute),
		ShutdownTimeout:     getEnvDuration("PAPERFETCH_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// StagingDir is where in-progress downloads are staged per job.
func (c Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// ArchiveDir is where assembled archives are written.
func (c Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archives")
}

// FallbackDBPath is the sqlite file backing the fallback tier.
func (c Config) FallbackDBPath() string {
	return filepath.Join(c.DataDir, "jobs.db")
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
