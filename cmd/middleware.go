package main

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"lessonlift/core"
	"lessonlift/models"
)

const (
	userContextKey = "user"
	// 请求日志最多预读的请求体字节数
	maxLoggedBody = 4 << 10
)

// bearerToken 支持 Authorization Header、x-api-key Header 和 ?token= 三种方式
// WebSocket 客户端无法设置 Header，只能使用 query 参数
func bearerToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimSpace(authHeader[7:])
		}
		return strings.TrimSpace(authHeader)
	}
	if token := c.GetHeader("x-api-key"); token != "" {
		return token
	}
	return c.Query("token")
}

func abortAuth(c *gin.Context, message string) {
	c.AbortWithStatusJSON(401, models.ErrorResponse{
		Error: models.ErrorDetail{Message: message, Type: "authentication_error"},
	})
}

// UserAuthMiddleware 教师用户鉴权
func UserAuthMiddleware(users *core.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}
		token := bearerToken(c)
		if token == "" {
			abortAuth(c, "Missing authentication token. Please provide token in Authorization header (Bearer <token>), x-api-key header, or ?token=<token> query parameter")
			return
		}
		user, err := users.ByToken(token)
		if err != nil {
			abortAuth(c, "Invalid authentication token")
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userContextKey).(*models.User)
}

// AdminAuthMiddleware 管理员鉴权中间件
func AdminAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}
		token := bearerToken(c)
		if token == "" {
			abortAuth(c, "Missing authentication token")
			return
		}
		if !core.IsAdminToken(db, token) {
			abortAuth(c, "Invalid token")
			return
		}
		c.Next()
	}
}

// requestLoggerMiddleware 只记录错误请求，200 在 debug 级别记录
func requestLoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// 管理接口的请求体可能含有上游 Key，不读取
		// 只预读日志需要的前缀，handler 仍然拿到完整的请求体
		var bodyBytes []byte
		if c.Request.Body != nil && !strings.HasPrefix(c.Request.URL.Path, "/admin") {
			original := c.Request.Body
			bodyBytes, _ = io.ReadAll(io.LimitReader(original, maxLoggedBody))
			c.Request.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(bodyBytes), original), original}
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		if statusCode >= 400 {
			fields := logrus.Fields{
				"method":    c.Request.Method,
				"path":      c.Request.URL.Path,
				"status":    statusCode,
				"latency":   latency,
				"client_ip": c.ClientIP(),
			}
			if len(bodyBytes) > 0 && (c.Request.Method == "POST" || c.Request.Method == "PUT") {
				body := string(bodyBytes)
				if len(body) > 1000 {
					body = body[:1000] + "...(truncated)"
				}
				fields["request_body"] = body
			}
			entry := log.WithFields(fields)
			if statusCode >= 500 {
				entry.Error("Server error")
			} else {
				entry.Warn("Client error")
			}
			return
		}

		log.Debugf("Request processed - %s %s (status: %d, latency: %v)",
			c.Request.Method, c.Request.URL.Path, statusCode, latency)
	}
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// client 包装限流器及其最后访问时间
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter 带有自动清理机制的 IP 限流器
type IPRateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	idle    time.Duration
	quit    chan struct{}
	once    sync.Once
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   b,
		idle:    3 * time.Minute,
		quit:    make(chan struct{}),
	}
	go i.cleanupLoop(time.Minute)
	return i
}

// GetLimiter 获取或创建 IP 对应的限流器，并更新访问时间
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	c, exists := i.clients[ip]
	if !exists {
		c = &client{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.limiter
}

func (i *IPRateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			i.cleanup(time.Now())
		case <-i.quit:
			return
		}
	}
}

// cleanup 清理超过 idle 未活跃的 IP
func (i *IPRateLimiter) cleanup(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for ip, c := range i.clients {
		if now.Sub(c.lastSeen) > i.idle {
			delete(i.clients, ip)
		}
	}
}

func (i *IPRateLimiter) Stop() {
	i.once.Do(func() { close(i.quit) })
}

// RateLimitMiddleware IP 限流中间件
func RateLimitMiddleware(limiter *IPRateLimiter, log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !limiter.GetLimiter(clientIP).Allow() {
			log.Warnf("Rate limit exceeded for IP: %s", clientIP)
			c.AbortWithStatusJSON(429, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "Too Many Requests", Type: "rate_limit_error"},
			})
			return
		}
		c.Next()
	}
}
