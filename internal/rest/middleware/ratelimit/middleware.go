package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	errBlocked    = "temporarily blocked for repeated rate limit violations"
	errRateLimit  = "rate limit exceeded"
	headerRetryAt = "Retry-After"

	maxClients = 10000
)

// Config controls per-client request limits.
type Config struct {
	RequestsPerSecond float64       // Sustained rate; zero disables limiting
	BurstSize         int           // Requests allowed at once
	StrikeLimit       int           // Rejections in a row before the client is blocked
	BlockDuration     time.Duration // How long a blocked client stays blocked
}

type limiterState struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	strikes      int       // Consecutive rejected requests
	blockedUntil time.Time // Set once strikes reach the limit
}

// Middleware limits requests per client IP, blocking clients that keep exceeding the limit.
type Middleware struct {
	clients *expirable.LRU[string, *limiterState]
	config  Config
	mu      sync.Mutex
	logger  *zap.Logger
}

// New creates a new rate limiting middleware.
func New(config Config, logger *zap.Logger) *Middleware {
	if config.BurstSize <= 0 {
		config.BurstSize = max(1, int(config.RequestsPerSecond))
	}

	// Idle clients are forgotten once their bucket would have refilled and any block expired
	ttl := 2 * config.BlockDuration
	if config.RequestsPerSecond > 0 {
		refill := time.Duration(float64(config.BurstSize) / config.RequestsPerSecond * float64(time.Second))
		ttl = max(ttl, 2*refill)
	}
	ttl = max(ttl, time.Minute)

	return &Middleware{
		clients: expirable.NewLRU[string, *limiterState](maxClients, nil, ttl),
		config:  config,
		logger:  logger.Named("ratelimit"),
	}
}

// AsRESTMiddleware returns a bunrouter middleware rejecting limited clients with 429.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		if m.config.RequestsPerSecond <= 0 {
			return next(w, req)
		}

		allowed, retryAfter, message := m.check(clientIP(req.RemoteAddr), time.Now())
		if !allowed {
			if retryAfter > 0 {
				w.Header().Set(headerRetryAt, strconv.Itoa(int(retryAfter.Round(time.Second).Seconds())))
			}

			body, _ := sonic.Marshal(map[string]string{"error": message})
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write(body)
			return nil
		}

		return next(w, req)
	}
}

// check reports whether the client may proceed, and if not how long to wait.
func (m *Middleware) check(ip string, now time.Time) (bool, time.Duration, string) {
	state := m.state(ip)

	state.mu.Lock()
	defer state.mu.Unlock()

	if now.Before(state.blockedUntil) {
		return false, state.blockedUntil.Sub(now), errBlocked
	}

	reservation := state.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if reservation.OK() && delay == 0 {
		state.strikes = 0
		return true, 0, ""
	}
	reservation.CancelAt(now)

	state.strikes++
	if m.config.StrikeLimit > 0 && state.strikes >= m.config.StrikeLimit && m.config.BlockDuration > 0 {
		state.strikes = 0
		state.blockedUntil = now.Add(m.config.BlockDuration)

		m.logger.Debug("Client exceeded strike limit and is now blocked",
			zap.String("ip", ip),
			zap.Duration("blockDuration", m.config.BlockDuration))
		return false, m.config.BlockDuration, errBlocked
	}

	m.logger.Debug("Rate limit exceeded",
		zap.String("ip", ip),
		zap.Int("strikes", state.strikes))
	return false, delay, errRateLimit
}

func (m *Middleware) state(ip string) *limiterState {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.clients.Get(ip); ok {
		// Re-adding refreshes the entry's expiry
		m.clients.Add(ip, state)
		return state
	}

	state := &limiterState{
		limiter: rate.NewLimiter(rate.Limit(m.config.RequestsPerSecond), m.config.BurstSize),
	}
	m.clients.Add(ip, state)
	return state
}

// clientIP strips the port from a remote address.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
