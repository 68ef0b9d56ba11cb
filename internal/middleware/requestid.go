package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key holding the canonical request ID.
const RequestIDKey = "request_id"

// RequestIDHeader carries the request ID back to the caller.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request a fresh server-generated UUID. Audit
// rows must not be attributable to an identifier the caller controls,
// so a client-supplied X-Request-ID is never adopted as the canonical
// ID; it is kept under "client_request_id" for log correlation only.
func RequestID(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		if clientID := c.GetHeader(RequestIDHeader); clientID != "" {
			c.Set("client_request_id", clientID)
			log.WithFields(logrus.Fields{
				"request_id":        id,
				"client_request_id": clientID,
			}).Debug("request.id.remapped")
		}

		c.Next()
	}
}
