package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/toms-api/pkg/response"
)

// unmatchedRoute labels requests no route matched, keeping raw URLs out of
// the path label.
const unmatchedRoute = "unmatched"

// RequestObserver receives one observation per served request.
type RequestObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
	ObserveHTTPError(path, code string)
}

// Metrics records every request against its route pattern. Responses written
// through response.Error are also counted by error code.
func Metrics(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		observer.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
		if code := c.GetString(response.ErrorCodeKey); code != "" {
			observer.ObserveHTTPError(path, code)
		}
	}
}
