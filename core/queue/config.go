package queue

// Config holds configuration for the job queue.
type Config struct {
	// KeyPrefix namespaces the queue's Redis keys.
	KeyPrefix string `mapstructure:"key_prefix" default:"sync:jobs"`
	// JobTimeoutSeconds is the visibility timeout: a dequeued job that is not
	// acked within this window becomes eligible for delivery again.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" default:"300"`
}
