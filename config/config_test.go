package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	config := LoadConfig()

	assert.Equal(t, 168*time.Hour, config.RunInterval)
	assert.Equal(t, 60*time.Second, config.CheckInterval)
	assert.Equal(t, "https://www.carpages.ca", config.CarpagesURL)
	assert.Equal(t, 500, config.PageCap)
	assert.Equal(t, 50, config.RestartEvery)
	assert.Equal(t, 15*time.Second, config.NavTimeout)
	assert.Equal(t, 3, config.RetryAttempts)
	assert.Equal(t, "./data", config.DataDir)
	assert.Equal(t, 1000, config.UploadChunkSize)
	assert.Equal(t, "", config.RedisAddr)
	assert.Equal(t, "", config.MemcacheAddr)
	assert.True(t, config.Headless)
	assert.False(t, config.ProxyEnabled)
	assert.Equal(t, "development", config.Environment)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("RUN_INTERVAL_HOURS", "24")
	t.Setenv("CHECK_INTERVAL_SECONDS", "30")
	t.Setenv("CARPAGES_URL", "https://example.com/carpages")
	t.Setenv("MAX_PAGES_PER_CATEGORY", "10")
	t.Setenv("DATA_DIR", "/tmp/listings")
	t.Setenv("REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("MEMCACHE_ADDR", "memcache.example.com:11211")
	t.Setenv("HEADLESS", "false")
	t.Setenv("LISTINGWORKER_ENVIRONMENT", "production")

	config := LoadConfig()

	assert.Equal(t, 24*time.Hour, config.RunInterval)
	assert.Equal(t, 30*time.Second, config.CheckInterval)
	assert.Equal(t, "https://example.com/carpages", config.CarpagesURL)
	assert.Equal(t, 10, config.PageCap)
	assert.Equal(t, "/tmp/listings", config.DataDir)
	assert.Equal(t, "/tmp/listings/run_state.json", config.RunStateFile)
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 1, config.RedisDB)
	assert.Equal(t, "memcache.example.com:11211", config.MemcacheAddr)
	assert.False(t, config.Headless)
	assert.Equal(t, "production", config.Environment)
}

func TestValidate(t *testing.T) {
	config := LoadConfig()
	assert.NoError(t, config.Validate())

	bad := config
	bad.RunInterval = 0
	assert.Error(t, bad.Validate())

	bad = config
	bad.PageCap = -1
	assert.Error(t, bad.Validate())

	bad = config
	bad.DataDir = ""
	assert.Error(t, bad.Validate())

	bad = config
	bad.CarpagesURL = ""
	assert.Error(t, bad.Validate())

	bad = config
	bad.UploadChunkSize = 0
	assert.Error(t, bad.Validate())
}
