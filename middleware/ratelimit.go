package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tokmz/wsecho/pkg/logger"
	"go.uber.org/zap"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每秒允许的请求数（默认 100，非正数按默认值处理）
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst 突发容量（默认等于 RequestsPerSecond）
	Burst int `mapstructure:"burst"`

	// KeyFunc 自定义限流 key 函数（默认使用客户端 IP）
	KeyFunc func(c *gin.Context) string `mapstructure:"-"`

	// CleanupInterval 过期桶清理间隔（默认 10 分钟）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// BucketExpiry 桶过期时间（默认 30 分钟无访问则清理）
	BucketExpiry time.Duration `mapstructure:"bucket_expiry"`
}

// DefaultRateLimiterConfig 返回默认配置
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		RequestsPerSecond: 100,
		Burst:             100,
		CleanupInterval:   10 * time.Minute,
		BucketExpiry:      30 * time.Minute,
	}
}

// withDefaults 返回补齐默认值的副本，不修改调用方的配置
func (c *RateLimiterConfig) withDefaults() *RateLimiterConfig {
	d := DefaultRateLimiterConfig()
	cfg := *c
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = d.RequestsPerSecond
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = d.CleanupInterval
	}
	if cfg.BucketExpiry <= 0 {
		cfg.BucketExpiry = d.BucketExpiry
	}
	return &cfg
}

// tokenBucket 令牌桶
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// allow 检查是否允许请求
func (t *tokenBucket) allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.tokens += now.Sub(t.lastRefill).Seconds() * t.refillRate
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	t.lastRefill = now

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// bucketStore 令牌桶存储，过期清理交给 go-cache
type bucketStore struct {
	items  *gocache.Cache
	expiry time.Duration
	rate   float64
	burst  int
}

// get 获取或创建令牌桶，每次访问刷新过期时间
func (s *bucketStore) get(key string) *tokenBucket {
	if v, ok := s.items.Get(key); ok {
		b := v.(*tokenBucket)
		s.items.Set(key, b, s.expiry)
		return b
	}
	b := newTokenBucket(s.rate, s.burst)
	if err := s.items.Add(key, b, s.expiry); err != nil {
		// 并发创建，使用先写入的桶
		if v, ok := s.items.Get(key); ok {
			return v.(*tokenBucket)
		}
	}
	return b
}

// RateLimiter 创建限流中间件
// 令牌桶算法，按 key（默认客户端 IP）限流；用于限制 WebSocket 握手速率
func RateLimiter(log logger.Logger, cfgs ...*RateLimiterConfig) gin.HandlerFunc {
	cfg := DefaultRateLimiterConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0].withDefaults()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string {
			return c.ClientIP()
		}
	}

	store := &bucketStore{
		items:  gocache.New(cfg.BucketExpiry, cfg.CleanupInterval),
		expiry: cfg.BucketExpiry,
		rate:   cfg.RequestsPerSecond,
		burst:  cfg.Burst,
	}

	return func(c *gin.Context) {
		key := cfg.KeyFunc(c)
		if !store.get(key).allow() {
			log.Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
				zap.Float64("rate", cfg.RequestsPerSecond),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    http.StatusTooManyRequests,
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}
