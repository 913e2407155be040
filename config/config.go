package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	// Scheduling
	RunInterval   time.Duration
	CheckInterval time.Duration

	// Acquisition
	CarpagesURL   string
	AutotraderURL string
	PageCap       int
	RestartEvery  int
	NavTimeout    time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration
	ChallengeWait time.Duration
	CooldownTime  time.Duration
	Headless      bool

	// Storage
	DataDir      string
	RunStateFile string

	// Postgres upload (disabled when DSN is empty)
	PostgresDSN     string
	UploadChunkSize int

	// Redis run events (disabled when addr is empty)
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache cooldowns (disabled when addr is empty)
	MemcacheAddr string

	// Metrics endpoint (disabled when addr is empty)
	MetricsAddr string

	// Proxy rotation
	ProxyEnabled bool
	ProxyAddrs   string
	ProxyListURL string

	// Environment
	Environment string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	runInterval, _ := strconv.Atoi(getEnv("RUN_INTERVAL_HOURS", "168"))
	checkInterval, _ := strconv.Atoi(getEnv("CHECK_INTERVAL_SECONDS", "60"))
	navTimeout, _ := strconv.Atoi(getEnv("NAV_TIMEOUT_SECONDS", "15"))
	retryBackoff, _ := strconv.Atoi(getEnv("PAGE_RETRY_BACKOFF_SECONDS", "2"))
	challengeWait, _ := strconv.Atoi(getEnv("CHALLENGE_WAIT_SECONDS", "10"))
	cooldown, _ := strconv.Atoi(getEnv("COOLDOWN_SECONDS", "1800"))

	dataDir := getEnv("DATA_DIR", "./data")

	return Config{
		RunInterval:   time.Duration(runInterval) * time.Hour,
		CheckInterval: time.Duration(checkInterval) * time.Second,

		CarpagesURL:   getEnv("CARPAGES_URL", "https://www.carpages.ca"),
		AutotraderURL: getEnv("AUTOTRADER_URL", "https://www.autotrader.ca/cars/"),
		PageCap:       getEnvInt("MAX_PAGES_PER_CATEGORY", 500),
		RestartEvery:  getEnvInt("SESSION_RESTART_PAGES", 50),
		NavTimeout:    time.Duration(navTimeout) * time.Second,
		RetryAttempts: getEnvInt("PAGE_RETRY_ATTEMPTS", 3),
		RetryBackoff:  time.Duration(retryBackoff) * time.Second,
		ChallengeWait: time.Duration(challengeWait) * time.Second,
		CooldownTime:  time.Duration(cooldown) * time.Second,
		Headless:      getEnvBool("HEADLESS", true),

		DataDir:      dataDir,
		RunStateFile: getEnv("RUN_STATE_FILE", filepath.Join(dataDir, "run_state.json")),

		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		UploadChunkSize: getEnvInt("UPLOAD_CHUNK_SIZE", 1000),

		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStream:          getEnv("REDIS_STREAM", "runs"),
		RedisStreamCount:     getEnvInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 1024),

		MemcacheAddr: getEnv("MEMCACHE_ADDR", ""),

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		ProxyEnabled: getEnvBool("PROXY_ENABLED", false),
		ProxyAddrs:   getEnv("PROXY_ADDRS", ""),
		ProxyListURL: getEnv("PROXY_LIST_URL", ""),

		Environment: getEnv("LISTINGWORKER_ENVIRONMENT", "development"),
	}
}

// Validate checks that the configuration is usable before anything starts
func (c *Config) Validate() error {
	if c.RunInterval <= 0 {
		return fmt.Errorf("RUN_INTERVAL_HOURS must be positive")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL_SECONDS must be positive")
	}
	if c.PageCap <= 0 {
		return fmt.Errorf("MAX_PAGES_PER_CATEGORY must be positive")
	}
	if c.RestartEvery <= 0 {
		return fmt.Errorf("SESSION_RESTART_PAGES must be positive")
	}
	if c.NavTimeout <= 0 {
		return fmt.Errorf("NAV_TIMEOUT_SECONDS must be positive")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("PAGE_RETRY_ATTEMPTS must not be negative")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must not be empty")
	}
	if c.CarpagesURL == "" || c.AutotraderURL == "" {
		return fmt.Errorf("source URLs must not be empty")
	}
	if c.UploadChunkSize <= 0 {
		return fmt.Errorf("UPLOAD_CHUNK_SIZE must be positive")
	}
	if c.RedisStreamCount <= 0 {
		return fmt.Errorf("REDIS_STREAM_COUNT must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
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

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
