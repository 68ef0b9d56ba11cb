package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/store"
)

// RequestHandler serves request-record endpoints.
type RequestHandler struct {
	requests RequestRepository
	changes  ChangeRepository
	log      *logrus.Logger
}

// NewRequestHandler creates a RequestHandler.
func NewRequestHandler(requests RequestRepository, changes ChangeRepository, log *logrus.Logger) *RequestHandler {
	return &RequestHandler{requests: requests, changes: changes, log: log}
}

// List handles GET /api/v1/requests.
func (h *RequestHandler) List(c *gin.Context) {
	opts := models.RequestQueryOpts{
		Method: c.Query("method"),
		UserID: c.Query("user_id"),
		Limit:  parseInt(c.Query("limit"), 50),
		Offset: parseOffset(c.Query("offset")),
	}

	if status := c.Query("status"); status != "" {
		v := parseInt(status, 0)
		if v == 0 {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "status must be a positive integer")
			return
		}
		opts.StatusCode = v
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid since format, use RFC3339")
			return
		}
		opts.Since = &t
	}

	records, hasMore, err := h.requests.QueryRequests(c.Request.Context(), opts)
	if err != nil {
		h.log.WithError(err).Error("failed to query request records")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to query request records")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     records,
		"has_more": hasMore,
	})
}

// Get handles GET /api/v1/requests/:id: one request record plus the
// change records linked to it.
func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rec, err := h.requests.GetRequest(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRequestNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "request record not found")
			return
		}
		h.log.WithError(err).Error("failed to fetch request record")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to fetch request record")
		return
	}

	changes, _, err := h.changes.QueryChanges(c.Request.Context(), models.ChangeQueryOpts{
		RequestID: &id,
		Limit:     maxPaginationLimit,
	})
	if err != nil {
		h.log.WithError(err).Error("failed to fetch request changes")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to fetch request changes")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request": rec,
		"changes": changes,
	})
}
