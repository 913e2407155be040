package cache

import (
	"errors"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

const cooldownPrefix = "cooldown:"

// CooldownActive reports whether a source is inside a cooldown window set
// after a rate limit or an undismissed bot challenge. A nil service never
// blocks.
func CooldownActive(svc CacheService, source string) bool {
	if svc == nil {
		return false
	}
	_, err := svc.Get(cooldownPrefix + source)
	return err == nil
}

// SetCooldown starts a cooldown window for a source. A nil service is a
// no-op.
func SetCooldown(svc CacheService, source string, d time.Duration) error {
	if svc == nil {
		return nil
	}
	seconds := strconv.Itoa(int(d.Seconds()))
	return svc.Set(cooldownPrefix+source, []byte(seconds), d)
}

// ClearCooldown removes a source's cooldown window, used by manual
// retriggers that should not wait it out. A window that was never set
// is not an error.
func ClearCooldown(svc CacheService, source string) error {
	if svc == nil {
		return nil
	}
	err := svc.Delete(cooldownPrefix + source)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
