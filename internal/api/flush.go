package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// FlushHandler triggers an on-demand retention sweep.
type FlushHandler struct {
	sweeper FlushRunner
	log     *logrus.Logger
}

// NewFlushHandler creates a FlushHandler.
func NewFlushHandler(sweeper FlushRunner, log *logrus.Logger) *FlushHandler {
	return &FlushHandler{sweeper: sweeper, log: log}
}

// Flush handles POST /api/v1/flush.
func (h *FlushHandler) Flush(c *gin.Context) {
	res, err := h.sweeper.Run(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to run retention sweep")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to run retention sweep")
		return
	}

	c.JSON(http.StatusOK, res)
}
