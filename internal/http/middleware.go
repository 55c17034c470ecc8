package http

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/security"
)

// maxClockSkew bounds how old or future-dated a signed callback may be.
const maxClockSkew = 300 * time.Second

// maxCallbackBody bounds how much of a callback request we read for
// signature verification.
const maxCallbackBody = 1 << 20

// JWTAuthMiddleware validates JWT tokens for user endpoints
// 兼容 auth-service 签发的 JWT 格式，使用 MapClaims 解析
func JWTAuthMiddleware(secretKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(secretKey), nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
			c.Abort()
			return
		}

		// 提取用户信息，优先 uid，其次标准 sub claim
		if uid, ok := claims["uid"].(string); ok {
			c.Set("userID", uid)
		} else if sub, ok := claims["sub"].(string); ok {
			c.Set("userID", sub)
		}

		c.Next()
	}
}

// AdminAuthMiddleware validates admin API key
// 使用常量时间比较防止时序攻击
func AdminAuthMiddleware(adminAPIKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-Admin-API-Key")
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(adminAPIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized admin access"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecretResolver resolves the plaintext signing secret for a worker.
type SecretResolver interface {
	WorkerSecret(ctx context.Context, workerID uuid.UUID) (string, error)
}

// WorkerSignatureMiddleware authenticates callbacks signed by workers.
// The signature is HMAC-SHA256 over raw body || timestamp string; requests
// outside the clock-skew window are rejected before any state changes.
func WorkerSignatureMiddleware(secrets SecretResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		workerIDHeader := c.GetHeader("X-Worker-Id")
		timestamp := c.GetHeader("X-Timestamp")
		signature := c.GetHeader("X-Signature")
		if workerIDHeader == "" || timestamp == "" || signature == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing signature headers"})
			c.Abort()
			return
		}

		ts, err := strconv.ParseFloat(timestamp, 64)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid timestamp"})
			c.Abort()
			return
		}
		if math.Abs(float64(time.Now().Unix())-ts) > maxClockSkew.Seconds() {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "timestamp outside allowed window"})
			c.Abort()
			return
		}

		workerID, err := uuid.Parse(workerIDHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid worker id"})
			c.Abort()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		secret, err := secrets.WorkerSecret(c.Request.Context(), workerID)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or revoked worker"})
			c.Abort()
			return
		}

		if !security.VerifySignature(secret, body, timestamp, signature) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			c.Abort()
			return
		}

		c.Set("workerID", workerID.String())
		c.Next()
	}
}

// RateLimiter 简单的内存速率限制器
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // 最大请求数
	window   time.Duration // 时间窗口
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	// 清理过期请求
	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	// 检查是否超过限制
	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	// 记录新请求
	rl.requests[key] = append(valid, now)
	return true
}

// RateLimitMiddleware 速率限制中间件
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 使用用户 ID 或 IP 作为限制 key
		key := c.GetString("userID")
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
