// Package visits exposes the visit record service over a JSON HTTP API.
package visits

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"visitmap/docs/schema/openapi"
	"visitmap/internal/core"
	"visitmap/pkg/domain"
)

const notFoundMessage = "no data found for this netId"

// VisitService is the subset of core.Service the HTTP layer needs.
type VisitService interface {
	Load(ctx context.Context, id string) (domain.VisitRecord, error)
	Save(ctx context.Context, id string, payload domain.RecordPayload) (domain.VisitRecord, error)
	Summary(ctx context.Context, id string, asOf time.Time) (core.Summary, error)
	Calendar(ctx context.Context, id string, asOf time.Time) (domain.Calendar, error)
	Merge(base, incoming domain.RecordPayload) domain.VisitRecord
	Store() domain.VisitStore
}

// Config carries the router's optional collaborators.
type Config struct {
	Logger core.Logger
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
}

// Handler binds a VisitService to gin routes.
type Handler struct {
	svc    VisitService
	logger core.Logger
}

// NewRouter builds the gin engine serving the visits API with permissive CORS.
func NewRouter(svc VisitService, cfg Config) *gin.Engine {
	h := &Handler{svc: svc, logger: cfg.Logger}
	if h.logger == nil {
		h.logger = discardLogger{}
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(h.logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	api := r.Group("/api/v1/visits")
	api.GET("", h.getVisits)
	api.POST("", h.postVisits)
	api.GET("/summary", h.getSummary)
	api.GET("/calendar", h.getCalendar)
	api.POST("/merge", h.postMerge)

	r.GET("/healthz", h.healthz)
	r.GET("/openapi.yaml", func(c *gin.Context) { c.Data(http.StatusOK, "application/yaml", openapi.Spec()) })
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	// preflight without an Origin header never reaches the CORS middleware
	r.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

type saveRequest struct {
	NetID  string                `json:"netId"`
	Visits *domain.RecordPayload `json:"visits"`
}

type mergeRequest struct {
	Base     domain.RecordPayload `json:"base"`
	Incoming domain.RecordPayload `json:"incoming"`
}

func (h *Handler) getVisits(c *gin.Context) {
	id := c.Query("netId")
	if id == "" {
		writeError(c, http.StatusBadRequest, "netId is required")
		return
	}
	rec, err := h.svc.Load(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"netId": id, "visits": rec})
}

func (h *Handler) postVisits(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.NetID == "" || req.Visits == nil {
		writeError(c, http.StatusBadRequest, "netId and visits are required")
		return
	}
	saved, err := h.svc.Save(c.Request.Context(), req.NetID, *req.Visits)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "netId": req.NetID, "visits": saved})
}

func (h *Handler) getSummary(c *gin.Context) {
	id, asOf, ok := h.idAndDate(c)
	if !ok {
		return
	}
	summary, err := h.svc.Summary(c.Request.Context(), id, asOf)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getCalendar(c *gin.Context) {
	id, asOf, ok := h.idAndDate(c)
	if !ok {
		return
	}
	cal, err := h.svc.Calendar(c.Request.Context(), id, asOf)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"netId": id, "season": cal.Season, "months": cal.Months, "days": cal.Days})
}

func (h *Handler) postMerge(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": h.svc.Merge(req.Base, req.Incoming)})
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "driver": h.svc.Store().Driver()})
}

// idAndDate reads the netId and optional asOf query parameters, writing a 400
// and returning false when either is unusable.
func (h *Handler) idAndDate(c *gin.Context) (string, time.Time, bool) {
	id := c.Query("netId")
	if id == "" {
		writeError(c, http.StatusBadRequest, "netId is required")
		return "", time.Time{}, false
	}
	raw := c.Query("asOf")
	if raw == "" {
		return id, time.Time{}, true
	}
	d, err := domain.ParseDate(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return "", time.Time{}, false
	}
	return id, d.Time(), true
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(c, http.StatusNotFound, notFoundMessage)
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("visits request failed", "path", c.Request.URL.Path, "error", err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func requestLogger(logger core.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", float64(time.Since(start))/float64(time.Millisecond),
		)
	}
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
