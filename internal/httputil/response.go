// Package httputil provides shared HTTP response helpers.
package httputil

import "github.com/gin-gonic/gin"

// errorBody is the JSON shape of every error response. The request ID
// is included when the middleware assigned one so callers can quote it
// when reporting a failure.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// RespondError writes the standard JSON error body and aborts the
// handler chain.
func RespondError(c *gin.Context, status int, code, message string) {
	body := errorBody{Code: code, Message: message}
	body.RequestID = c.GetString("request_id")

	c.AbortWithStatusJSON(status, body)
}
