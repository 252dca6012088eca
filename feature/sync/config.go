package sync

// Config holds configuration for the sync dispatcher and status cache.
type Config struct {
	// InlineThreshold is the largest batch (item count) processed inline in
	// the request; larger batches are queued for the worker pool.
	InlineThreshold int `mapstructure:"inline_threshold" default:"50"`
	// StatusCacheTTLSeconds is the TTL of cached batch outcomes.
	StatusCacheTTLSeconds int `mapstructure:"status_cache_ttl_seconds" default:"60"`
}
