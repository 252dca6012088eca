package cache

// Config holds configuration for the Redis connection.
type Config struct {
	// Address is the host:port of the Redis server.
	Address string `mapstructure:"address" default:"localhost:6379"`
	// Password is the Redis password, empty when auth is disabled.
	Password string `mapstructure:"password" default:""`
	// DB is the Redis logical database number.
	DB int `mapstructure:"db" default:"0"`
	// PoolSize is the maximum number of socket connections.
	PoolSize int `mapstructure:"pool_size" default:"100"`
	// TimeoutSeconds is the dial timeout in seconds.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"5"`
}
