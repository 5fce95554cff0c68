package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = time.Hour

// Default rate limiting, per client IP
const (
	DefaultRateLimitPerMin = 120
	DefaultRateLimitWindow = time.Minute
)

// Session creation is limited per client IP
const (
	SessionCreateLimit  = 20
	SessionCreateWindow = time.Minute
)
