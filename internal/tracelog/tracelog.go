// Package tracelog builds the structured logger used throughout the
// engine domain, in the same shape as grafana-tempo's pkg/util/log:
// a logfmt logger filtered by level, with timestamp and caller fields
// attached once at construction.
package tracelog

import (
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"
)

// New builds a logfmt logger at the given level ("debug", "info", "warn",
// "error"; anything else defaults to "info").
func New(levelName string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))
	return level.NewFilter(logger, parseLevel(levelName))
}

func parseLevel(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// RateLimited wraps a logger so that at most logsPerSecond log calls per
// second pass through, swallowing the rest. It guards the one log site
// reachable once per inbound frame (the connection-teardown log in
// internal/engine), so a misbehaving collector cannot turn the agent into a
// log-flooding amplifier.
type RateLimited struct {
	limiter *rate.Limiter
	logger  log.Logger
}

// NewRateLimited wraps logger with a token-bucket limiter admitting
// logsPerSecond calls per second, grounded on grafana-tempo's
// pkg/util.RateLimitedLogger.
func NewRateLimited(logsPerSecond int, logger log.Logger) *RateLimited {
	return &RateLimited{
		limiter: rate.NewLimiter(rate.Limit(logsPerSecond), 1),
		logger:  logger,
	}
}

// Log forwards to the wrapped logger only if the rate limiter currently
// admits a call.
func (l *RateLimited) Log(keyvals ...interface{}) error {
	if !l.limiter.AllowN(time.Now(), 1) {
		return nil
	}
	return l.logger.Log(keyvals...)
}
