package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/types"
	"github.com/ksred/null-ledger/pkg/response"
)

// TokenValidator resolves a bearer token to the principal it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (types.Address, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex

	// Configure limits per endpoint type
	authLimit   = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	ledgerLimit = rate.Limit(300.0 / 60.0)  // 300 requests per minute
	readLimit   = rate.Limit(1200.0 / 60.0) // 1200 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func limitFor(method, path string) (rate.Limit, int) {
	switch {
	case strings.HasPrefix(path, "/api/v1/auth"):
		return authLimit, 1
	case method == "GET":
		return readLimit, 20
	case strings.HasPrefix(path, "/api/v1/"):
		return ledgerLimit, 5
	default:
		return rate.Inf, 0 // No limit for other paths
	}
}

func getLimiter(method, path, clientID string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientID + ":" + method + ":" + path
	v, exists := visitors[key]
	if !exists {
		limit, burst := limitFor(method, path)
		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles per client and route. Authenticated callers are keyed by
// principal, everyone else by IP.
func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if p := auth.Principal(c); p != types.ZeroAddress {
			clientID = p.Hex()
		}

		limiter := getLimiter(c.Request.Method, c.FullPath(), clientID)
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth requires a valid bearer token and stores its principal under
// auth.PrincipalKey.
func JWTAuth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		principal, err := tokens.ValidateToken(bearerToken[1])
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected bearer token")
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set(auth.PrincipalKey, principal)
		c.Next()
	}
}

// RequestLogger logs each request once it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		evt := log.Info()
		if c.Writer.Status() >= 500 {
			evt = log.Error()
		}
		evt.
			Str("service", "http").
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(started)).
			Str("principal", auth.Principal(c).Hex()).
			Msg("request")
	}
}
