package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const rateLimitKeyPrefix = "nexus:ratelimit:"

var errRateLimitReply = errors.New("unexpected rate limit script reply")

// slidingWindowScript trims hits older than the window, then records the new
// hit if there is room. Times are unix milliseconds. Returns
// {allowed, remaining, resetAtMs}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = now + window
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, now + window}
`)

// RateDecision is the outcome of one Allow call.
type RateDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a Redis sliding-window limiter shared by all replicas. It is
// also a prometheus.Collector for its decisions.
type RateLimiter struct {
	client    redis.Scripter
	now       func() time.Time
	decisions *prometheus.CounterVec
}

func NewRateLimiter(client redis.Scripter) *RateLimiter {
	return &RateLimiter{
		client: client,
		now:    time.Now,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by scope and outcome.",
		}, []string{"scope", "outcome"}),
	}
}

// Allow records one hit by subject against scope's limit. Redis failures deny.
func (rl *RateLimiter) Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) RateDecision {
	now := rl.now()
	result, err := slidingWindowScript.Run(
		ctx,
		rl.client,
		[]string{rateLimitKeyPrefix + scope + ":" + subject},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		uuid.NewString(),
	).Int64Slice()
	if err == nil && len(result) != 3 {
		err = errRateLimitReply
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("scope", scope).
			Str("subject", subject).
			Msg("rate limit check failed, denying request")
		rl.decisions.WithLabelValues(scope, "error").Inc()
		return RateDecision{ResetAt: now.Add(window)}
	}

	d := RateDecision{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		ResetAt:   time.UnixMilli(result[2]),
	}
	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
	}
	rl.decisions.WithLabelValues(scope, outcome).Inc()
	return d
}

func (rl *RateLimiter) Describe(ch chan<- *prometheus.Desc) {
	rl.decisions.Describe(ch)
}

func (rl *RateLimiter) Collect(ch chan<- prometheus.Metric) {
	rl.decisions.Collect(ch)
}
