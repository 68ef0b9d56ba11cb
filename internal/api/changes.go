package api

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/reqtrail/reqtrail/internal/diff"
	"github.com/reqtrail/reqtrail/internal/models"
	"github.com/reqtrail/reqtrail/internal/store"
)

// ChangeHandler serves change-record endpoints.
type ChangeHandler struct {
	changes ChangeRepository
	log     *logrus.Logger
}

// NewChangeHandler creates a ChangeHandler.
func NewChangeHandler(changes ChangeRepository, log *logrus.Logger) *ChangeHandler {
	return &ChangeHandler{changes: changes, log: log}
}

// List handles GET /api/v1/changes.
func (h *ChangeHandler) List(c *gin.Context) {
	opts := models.ChangeQueryOpts{
		Instance:   c.Query("instance"),
		ChangeType: c.Query("change_type"),
		Limit:      parseInt(c.Query("limit"), 50),
		Offset:     parseOffset(c.Query("offset")),
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid since format, use RFC3339")
			return
		}
		opts.Since = &t
	}

	records, hasMore, err := h.changes.QueryChanges(c.Request.Context(), opts)
	if err != nil {
		h.log.WithError(err).Error("failed to query change records")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to query change records")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     records,
		"has_more": hasMore,
	})
}

// annotatedField is one field change with its rendered diff.
type annotatedField struct {
	Name  string  `json:"name"`
	Label string  `json:"label"`
	Old   string  `json:"old"`
	New   string  `json:"new"`
	Diff  *string `json:"diff,omitempty"`
}

// Diff handles GET /api/v1/changes/:id/diff: the change record's
// fields with inline before/after diff markup where the values qualify.
func (h *ChangeHandler) Diff(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	rec, err := h.changes.GetChange(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrChangeNotFound) {
			respondError(c, http.StatusNotFound, ErrCodeNotFound, "change record not found")
			return
		}
		h.log.WithError(err).Error("failed to fetch change record")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to fetch change record")
		return
	}

	names := make([]string, 0, len(rec.Fields))
	for name := range rec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]annotatedField, 0, len(names))
	for _, name := range names {
		fc := rec.Fields[name]

		ann, err := diff.Annotate(fc.Old, fc.New)
		if err != nil {
			// Unknown opcode means the diff invariant broke; surface it.
			h.log.WithError(err).WithField("field", name).Error("diff rendering failed")
			respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "diff rendering failed")
			return
		}

		fields = append(fields, annotatedField{
			Name:  name,
			Label: fc.Label,
			Old:   ann.Old,
			New:   ann.New,
			Diff:  ann.Diff,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"change": rec,
		"fields": fields,
	})
}
