package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
)

// Request headers
const (
	HeaderRequestID = "X-Request-ID"
	HeaderRole      = "X-Stockpile-Role"
	HeaderUser      = "X-Stockpile-User"
)

// Caller roles
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const (
	ginKeyRequestID = "stockpile.request-id"
	ginKeyRole      = "stockpile.role"
	ginKeyError     = "stockpile.error"
)

// requestIDOf request ID of the current request
func requestIDOf(c *gin.Context) string {
	return c.GetString(ginKeyRequestID)
}

// actingUserOf caller supplied user name; the store substitutes a default when empty
func actingUserOf(c *gin.Context) string {
	return c.GetHeader(HeaderUser)
}

/*
requestParams attach a request ID and the REST request parameters to the request context,
so every component logging with that context tags its output with them
*/
func requestParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = ulid.Make().String()
		}
		c.Set(ginKeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		params := goutils.RestRequestParam{
			ID:         requestID,
			Host:       c.Request.Host,
			URI:        c.Request.URL.String(),
			Method:     c.Request.Method,
			RemoteAddr: c.Request.RemoteAddr,
			Timestamp:  time.Now().UTC(),
		}
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), goutils.RestRequestParamKey{}, params),
		)
		c.Next()
	}
}

// accessLog log one line per request
func accessLog(logTags log.Fields) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logTags).
			WithField("request", requestIDOf(c)).
			WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration", time.Since(start).String())
		if err, ok := c.Get(ginKeyError); ok {
			entry = entry.WithField("error", fmt.Sprintf("%v", err))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("Request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Info("Request rejected")
		default:
			entry.Debug("Request served")
		}
	}
}

// recovery turn a panic into a 500 response
func recovery(logTags log.Fields) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.WithFields(logTags).
			WithField("request", requestIDOf(c)).
			WithField("panic", fmt.Sprintf("%v", recovered)).
			Error("Request handler panicked")
		abortWithError(c, fmt.Errorf("internal error"))
	})
}

// resolveRole read the caller's role. A missing role is treated as viewer.
func resolveRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetHeader(HeaderRole)
		switch role {
		case "":
			role = RoleViewer
		case RoleAdmin, RoleViewer:
		default:
			abortWithError(c, fmt.Errorf("unknown role '%s' [%w]", role, ErrForbidden))
			return
		}
		c.Set(ginKeyRole, role)
		c.Next()
	}
}

// requireAdmin refuse callers without the admin role
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ginKeyRole) != RoleAdmin {
			abortWithError(c, fmt.Errorf("operation needs the %s role [%w]", RoleAdmin, ErrForbidden))
			return
		}
		c.Next()
	}
}
