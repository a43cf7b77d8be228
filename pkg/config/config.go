package config

import "os"

// Config holds runtime configuration.
type Config struct {
	Port                 string
	LogLevel             string
	StateFile            string
	StateBackend         string
	DatabaseURL          string
	RedisAddr            string
	SigningMasterSeed    string
	MatchingProfileFile  string
	ArchiveBackend       string
	ArchiveBucket        string
	ArchiveDir           string
	ObservabilityEnabled bool
	OTLPEndpoint         string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	stateFile := os.Getenv("STATE_FILE")
	if stateFile == "" {
		stateFile = "rotor_state.json"
	}

	stateBackend := os.Getenv("STATE_BACKEND")
	if stateBackend == "" {
		stateBackend = "json"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to local generic postgres
		dbURL = "postgres://rotor@localhost:5432/rotor?sslmode=disable"
	}

	archiveBackend := os.Getenv("ARCHIVE_BACKEND")
	if archiveBackend == "" {
		archiveBackend = "none"
	}

	archiveDir := os.Getenv("ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = "exports"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	return &Config{
		Port:                 port,
		LogLevel:             logLevel,
		StateFile:            stateFile,
		StateBackend:         stateBackend,
		DatabaseURL:          dbURL,
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		SigningMasterSeed:    os.Getenv("SIGNING_MASTER_SEED"),
		MatchingProfileFile:  os.Getenv("MATCHING_PROFILE_FILE"),
		ArchiveBackend:       archiveBackend,
		ArchiveBucket:        os.Getenv("ARCHIVE_BUCKET"),
		ArchiveDir:           archiveDir,
		ObservabilityEnabled: os.Getenv("OBSERVABILITY_ENABLED") == "true",
		OTLPEndpoint:         otlpEndpoint,
	}
}
