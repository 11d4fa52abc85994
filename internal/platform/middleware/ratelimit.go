package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
)

// RateLimitConfig sets the sustained rate and burst allowed per caller.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops a caller's limiter once it has been unused this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		IdleTTL:           10 * time.Minute,
	}
}

type callerLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// callerLimiters keeps one limiter per caller key and sweeps idle ones.
type callerLimiters struct {
	mu        sync.Mutex
	cfg       RateLimitConfig
	byKey     map[string]*callerLimiter
	lastSweep time.Time
}

func newCallerLimiters(cfg RateLimitConfig) *callerLimiters {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	return &callerLimiters{cfg: cfg, byKey: make(map[string]*callerLimiter)}
}

func (s *callerLimiters) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.cfg.IdleTTL {
		for k, cl := range s.byKey {
			if now.Sub(cl.lastSeen) >= s.cfg.IdleTTL {
				delete(s.byKey, k)
			}
		}
		s.lastSweep = now
	}

	cl, ok := s.byKey[key]
	if !ok {
		cl = &callerLimiter{lim: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.byKey[key] = cl
	}
	cl.lastSeen = now
	return cl.lim
}

func (s *callerLimiters) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// take consumes one token for key. When none is available it returns false
// and the number of whole seconds until one will be.
func (s *callerLimiters) take(key string, now time.Time) (bool, int) {
	res := s.get(key, now).ReserveN(now, 1)
	if !res.OK() {
		return false, 1
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	if delay == rate.InfDuration {
		return false, 1
	}
	return false, int(math.Ceil(delay.Seconds()))
}

// callerKey identifies the caller: the signed-in user when the auth
// middleware has run, otherwise the client address.
func callerKey(c echo.Context) string {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		return "user:" + uid
	}
	return "ip:" + c.RealIP()
}

// RateLimit throttles each caller independently. It must be registered after
// the auth middleware so signed-in users sharing an address get their own
// allowance.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	limiters := newCallerLimiters(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			ok, wait := limiters.take(callerKey(c), time.Now())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(wait))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
