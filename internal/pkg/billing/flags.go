package billing

import "github.com/PageForgeHQ/PageForge/internal/pkg/cache"

// ActiveFlags caches the "does this organization have a live subscription"
// answer. It is never authoritative: every successful transition invalidates
// it, and the backing store applies a bounded TTL.
type ActiveFlags interface {
	Get(organizationID uint) (active bool, found bool)
	Set(organizationID uint, active bool)
	Invalidate(organizationID uint)
}

type redisFlags struct{}

// NewRedisFlags returns the process-wide redis-backed flag cache.
func NewRedisFlags() ActiveFlags {
	return redisFlags{}
}

func (redisFlags) Get(organizationID uint) (bool, bool) {
	return cache.GetSubscriptionActive(organizationID)
}

func (redisFlags) Set(organizationID uint, active bool) {
	_ = cache.SetSubscriptionActive(organizationID, active)
}

func (redisFlags) Invalidate(organizationID uint) {
	_ = cache.InvalidateSubscriptionActive(organizationID)
}

// NoopFlags disables the cache; every lookup misses.
type NoopFlags struct{}

func (NoopFlags) Get(uint) (bool, bool) { return false, false }
func (NoopFlags) Set(uint, bool)        {}
func (NoopFlags) Invalidate(uint)       {}
