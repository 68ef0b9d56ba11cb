package api

import (
	"github.com/gin-gonic/gin"

	"github.com/reqtrail/reqtrail/internal/httputil"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternalError  = "internal_error"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	httputil.RespondError(c, status, code, message)
}
