package config

import "time"

// RateLimitConfig tunes the token bucket kept in Redis per caller.  Seat
// toggles are cheap and frequent, so the default bucket is generous;
// submissions get their own, smaller bucket.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	SubmitCapacity int // RATE_LIMIT_SUBMIT_CAPACITY, bucket for POST .../submit
	TTL            time.Duration
	Prefix         string
}

func LoadRateLimitConfig() RateLimitConfig {
	c := RateLimitConfig{
		Enabled:        envBool("RATE_LIMIT_ENABLED", true),
		Capacity:       envInt("RATE_LIMIT_CAPACITY", 120),
		RefillTokens:   envInt("RATE_LIMIT_REFILL_TOKENS", 2),
		RefillInterval: envDur("RATE_LIMIT_REFILL_INTERVAL", time.Second),
		SubmitCapacity: envInt("RATE_LIMIT_SUBMIT_CAPACITY", 10),
		TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "bsr:rl"),
	}
	if c.Capacity < 1 {
		c.Capacity = 1
	}
	if c.SubmitCapacity < 1 {
		c.SubmitCapacity = 1
	}
	if c.RefillTokens < 1 {
		c.RefillTokens = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if minTTL := 5 * c.RefillInterval; c.TTL < minTTL {
		c.TTL = minTTL
	}
	return c
}
