package ingest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/drblury/simabus/internal/audit"
)

// WithAuditAPI mounts read-only audit queries:
//
//	GET /v1/audit          filtered, paged list
//	GET /v1/audit/report   summary of a date range (from, to required)
//	GET /v1/audit/:id      one record
func WithAuditAPI(store audit.Store) Option {
	return func(router *gin.Engine) {
		h := auditAPI{store: store}
		group := router.Group("/v1/audit")
		group.GET("", h.list)
		group.GET("/report", h.report)
		group.GET("/:id", h.get)
	}
}

type auditAPI struct {
	store audit.Store
}

func (h auditAPI) list(c *gin.Context) {
	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.store.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
		return
	}
	records := page.Records
	if records == nil {
		records = []audit.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "total": page.Total})
}

func (h auditAPI) get(c *gin.Context) {
	rec, err := h.store.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, audit.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "audit record not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit query failed"})
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func (h auditAPI) report(c *gin.Context) {
	from, err := parseTime(c.Query("from"))
	if err != nil || from.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be an RFC 3339 timestamp"})
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil || to.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be an RFC 3339 timestamp"})
		return
	}
	report, err := audit.BuildReport(c.Request.Context(), h.store, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audit report failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func parseQuery(c *gin.Context) (audit.Query, error) {
	q := audit.Query{
		EntityType: c.Query("entityType"),
		Action:     c.Query("action"),
		EntityID:   c.Query("entityId"),
		UserID:     c.Query("userId"),
	}
	var err error
	if q.From, err = parseTime(c.Query("from")); err != nil {
		return q, errors.New("from must be an RFC 3339 timestamp")
	}
	if q.To, err = parseTime(c.Query("to")); err != nil {
		return q, errors.New("to must be an RFC 3339 timestamp")
	}
	if raw := c.Query("skip"); raw != "" {
		if q.Offset, err = cast.ToIntE(raw); err != nil || q.Offset < 0 {
			return q, errors.New("skip must be a non-negative integer")
		}
	}
	if raw := c.Query("take"); raw != "" {
		if q.Limit, err = cast.ToIntE(raw); err != nil || q.Limit < 0 {
			return q, errors.New("take must be a non-negative integer")
		}
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
