package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const requestIDKey = "request_id"

// RequestID takes X-Request-ID from the request or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := log.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency":    time.Since(start).String(),
			"client_ip":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			entry.Error("[Request] Server error")
		case status >= 400:
			entry.Warn("[Request] Client error")
		default:
			entry.Debug("[Request] Served")
		}
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("request_id", c.GetString(requestIDKey)).
					Error("[Request] Panic recovered: ", r)
				respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		c.Next()
	}
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, X-PINGOTHER, X-File-Name, Cache-Control, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Counter increments key and returns the new value, expiring it after ttl.
type Counter interface {
	Incr(key string, ttl time.Duration) (int64, error)
}

type redisCounter struct {
	pool *redis.Pool
}

func (r redisCounter) Incr(key string, ttl time.Duration) (int64, error) {
	conn := r.pool.Get()
	defer conn.Close()

	n, err := redis.Int64(conn.Do("INCR", key))
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if _, err := conn.Do("EXPIRE", key, int(ttl.Seconds())); err != nil {
			return n, err
		}
	}
	return n, nil
}

// RateLimit allows limit requests per client IP and window. When the counter
// fails requests are let through.
func RateLimit(counter Counter, limit int64, window time.Duration) gin.HandlerFunc {
	if window < time.Second {
		window = time.Second
	}
	return func(c *gin.Context) {
		slot := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%d", c.ClientIP(), slot)

		n, err := counter.Incr(key, window)
		if err != nil {
			log.Debug("[Rate Limit] Couldn't count request: ", err.Error())
			c.Next()
			return
		}
		if n > limit {
			c.Header("Retry-After", fmt.Sprintf("%d", int64(window.Seconds())))
			respondError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please slow down")
			return
		}
		c.Next()
	}
}
