package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ctxKey string

const (
	RequestIDKey              = "request_id"
	requestIDCtxKey    ctxKey = "request_id"
	RequestIDHeader           = "X-Request-ID"
	defaultMaxAttempts        = 5
	defaultLockout            = 15 * time.Minute
)

// RequestIDFrom returns the id ProcessRequest attached to ctx.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)
	return id
}

// IPAttemptTracker counts failed logins per client IP inside a sliding
// lockout window.
type IPAttemptTracker struct {
	attempts    map[string]*IPAttemptInfo
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

type IPAttemptInfo struct {
	Count       int
	LastAttempt time.Time
}

func NewIPAttemptTracker(maxAttempts int, window time.Duration) *IPAttemptTracker {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if window <= 0 {
		window = defaultLockout
	}
	return &IPAttemptTracker{
		attempts:    make(map[string]*IPAttemptInfo),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
	}
}

// cleanOldEntries must be called with mu held.
func (t *IPAttemptTracker) cleanOldEntries() {
	expiry := t.now().Add(-t.window)
	for ip, info := range t.attempts {
		if info.LastAttempt.Before(expiry) {
			delete(t.attempts, ip)
		}
	}
}

func (t *IPAttemptTracker) RecordFailure(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleanOldEntries()

	info, exists := t.attempts[ip]
	if !exists {
		info = &IPAttemptInfo{}
		t.attempts[ip] = info
	}
	info.Count++
	info.LastAttempt = t.now()
}

func (t *IPAttemptTracker) Reset(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, ip)
}

func (t *IPAttemptTracker) Blocked(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, exists := t.attempts[ip]
	if !exists {
		return false
	}
	if info.LastAttempt.Before(t.now().Add(-t.window)) {
		delete(t.attempts, ip)
		return false
	}
	return info.Count >= t.maxAttempts
}

type RequestMiddleware struct {
	logger         *zap.Logger
	attemptTracker *IPAttemptTracker
}

func NewRequestMiddleware(logger *zap.Logger, tracker *IPAttemptTracker) *RequestMiddleware {
	return &RequestMiddleware{
		logger:         logger,
		attemptTracker: tracker,
	}
}

// ProcessRequest tags the request with an id, reusing a well formed incoming
// X-Request-ID.
func (rm *RequestMiddleware) ProcessRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(c.Request.Context(), requestIDCtxKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// LoginThrottle rejects login attempts from an IP with too many recent
// failures. A 401 from the login handler counts as a failure, a 200 clears
// the counter.
func (rm *RequestMiddleware) LoginThrottle() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if rm.attemptTracker.Blocked(clientIP) {
			rm.logger.Warn("Login throttled",
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.String("client_ip", clientIP))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many failed login attempts, try again later",
			})
			return
		}

		c.Next()

		switch c.Writer.Status() {
		case http.StatusUnauthorized:
			rm.attemptTracker.RecordFailure(clientIP)
		case http.StatusOK:
			rm.attemptTracker.Reset(clientIP)
		}
	}
}

func (rm *RequestMiddleware) RecoverPanic() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				rm.logger.Error("Panic recovered",
					zap.String("request_id", c.GetString(RequestIDKey)),
					zap.Any("error", err),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
