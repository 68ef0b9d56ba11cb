// Request-scope lifecycle and finalization for the audit engine.
//
// The middleware installs a fresh scope on every request, decides up
// front whether the request should be logged, and at completion writes
// the one request record plus the back-links from every change record
// the request accumulated. Teardown of the scope is guaranteed on every
// exit path; a leaked scope would bleed audit state into the next
// request handled by the same worker.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/metrics"
	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/scope"
)

// maxFieldLen caps the stored referer and url values.
const maxFieldLen = 1000

// RequestWriter persists the request record at finalization.
type RequestWriter interface {
	CreateRequest(ctx context.Context, rec *models.RequestRecord) (int64, error)
}

// ChangeLinker back-fills the request foreign key on accumulated
// change records.
type ChangeLinker interface {
	LinkToRequest(ctx context.Context, requestID int64, ids []int64) error
}

// InterceptFunc decides whether an unsafe request should be logged.
// The default approves everything.
type InterceptFunc func(r *http.Request) bool

// PrincipalFunc extracts the acting principal's identifier from the
// request, or nil when unauthenticated.
type PrincipalFunc func(c *gin.Context) *string

// RequestLogger is the scope-installing, finalizing middleware.
type RequestLogger struct {
	requests  RequestWriter
	changes   ChangeLinker
	log       *logrus.Logger
	enabled   bool // the LOG_REQUEST setting
	intercept InterceptFunc
	principal PrincipalFunc
}

// NewRequestLogger creates the middleware. intercept and principal may
// be nil: intercept defaults to always-true, principal to "no user".
func NewRequestLogger(
	requests RequestWriter, changes ChangeLinker, log *logrus.Logger,
	enabled bool, intercept InterceptFunc, principal PrincipalFunc,
) *RequestLogger {
	if intercept == nil {
		intercept = func(*http.Request) bool { return true }
	}
	if principal == nil {
		principal = func(*gin.Context) *string { return nil }
	}

	return &RequestLogger{
		requests:  requests,
		changes:   changes,
		log:       log,
		enabled:   enabled,
		intercept: intercept,
		principal: principal,
	}
}

// safeMethod reports whether a method is read-only. Safe requests are
// never logged as mutating, whatever hooks fire for object loads.
func safeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Handler returns the gin middleware.
func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := scope.New()
		if !safeMethod(c.Request.Method) && rl.intercept(c.Request) {
			sc.ShouldLog = rl.enabled
		}

		c.Request = c.Request.WithContext(scope.Attach(c.Request.Context(), sc))

		// Unconditional teardown, error paths and panics included.
		defer sc.Clear()

		c.Next()

		rl.finalize(c, sc)
	}
}

// finalize writes the request record and links the scope's open change
// records to it. A request record is written even with zero changes:
// "this write request produced no model mutations" is itself a fact
// worth keeping. All failures here are logged and swallowed; the
// response goes back to the caller unmodified.
func (rl *RequestLogger) finalize(c *gin.Context, sc *scope.Scope) {
	if !sc.ShouldLog {
		return
	}

	rec := &models.RequestRecord{
		UserID:     rl.principal(c),
		IP:         clientIP(c),
		Method:     c.Request.Method,
		Referer:    truncate(refererOrOrigin(c), maxFieldLen),
		URL:        truncate(c.Request.URL.RequestURI(), maxFieldLen),
		StatusCode: c.Writer.Status(),
	}

	ctx := c.Request.Context()

	id, err := rl.requests.CreateRequest(ctx, rec)
	if err != nil {
		metrics.RecordFailures.WithLabelValues("finalize").Inc()
		rl.log.WithError(err).Error("request record failed")

		return
	}

	if err := rl.changes.LinkToRequest(ctx, id, sc.OpenIDs()); err != nil {
		metrics.RecordFailures.WithLabelValues("finalize").Inc()
		rl.log.WithError(err).WithField("request_record", id).Error("linking changes failed")

		return
	}

	metrics.RequestsLogged.Inc()
	rl.log.WithFields(logrus.Fields{
		"request_record": id,
		"changes":        sc.Len(),
		"status":         rec.StatusCode,
	}).Debug("request.logged")
}

// clientIP prefers the first entry of X-Forwarded-For, falling back to
// the transport-level peer address.
func clientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}

	return c.ClientIP()
}

// refererOrOrigin returns the Referer header, falling back to Origin.
func refererOrOrigin(c *gin.Context) string {
	if ref := c.GetHeader("Referer"); ref != "" {
		return ref
	}

	return c.GetHeader("Origin")
}

// truncate caps s at max bytes without splitting a multi-byte rune;
// a string cut mid-rune is invalid UTF-8 and Postgres would reject
// the whole insert.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}
