package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/sweet-shop/internal/core/domain"
)

const callerKey = "caller"

// TokenResolver turns a bearer token into the caller it was issued to.
type TokenResolver interface {
	Resolve(token string) (domain.Caller, error)
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}

// requireAuth resolves the bearer token and stores the caller on the context.
func requireAuth(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			return
		}

		caller, err := resolver.Resolve(token)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: access token required", domain.ErrUnauthenticated)
	}
	return strings.TrimSpace(token), nil
}

func callerFrom(c *gin.Context) domain.Caller {
	caller, _ := c.Get(callerKey)
	resolved, _ := caller.(domain.Caller)
	return resolved
}
