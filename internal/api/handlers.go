package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"edurag/internal/logger"
	"edurag/internal/progress"
	"edurag/internal/service/documents"
	"edurag/internal/service/qa"
	"edurag/internal/vectorstore"
	"edurag/internal/worker"
)

// JobQueue schedules background ingestion.
type JobQueue interface {
	Enqueue(ctx context.Context, task worker.IngestTask) error
	Cancel(docID int64) int
	Stats() worker.Stats
}

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, req qa.Request) (*qa.Answer, error)
}

// HealthCheck checks one dependency. Optional checks are reported but never
// degrade the overall status.
type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Optional bool
}

type Options struct {
	Documents      *documents.Service
	Tracker        progress.Tracker
	Jobs           JobQueue
	QA             Asker
	Store          vectorstore.Store
	Checks         []HealthCheck
	FileBaseDir    string
	MaxUploadBytes int64
	AllowedTypes   []string
	Version        string
	Log            *logger.Logger
}

// Handler wires HTTP routes to the document, ingestion and query services.
type Handler struct {
	docs         *documents.Service
	tracker      progress.Tracker
	jobs         JobQueue
	qa           Asker
	store        vectorstore.Store
	checks       []HealthCheck
	fileBase     string
	maxUpload    int64
	allowedTypes map[string]struct{}
	version      string
	log          *logger.Logger
	checkTimeout time.Duration
}

const (
	defaultMaxUploadBytes = 10 << 20 // 10 MB
	defaultCheckTimeout   = 3 * time.Second
)

// NewHandler constructs a Handler instance.
func NewHandler(opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, t := range opts.AllowedTypes {
		allowed[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), ".")] = struct{}{}
	}
	fileBase := opts.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		docs:         opts.Documents,
		tracker:      opts.Tracker,
		jobs:         opts.Jobs,
		qa:           opts.QA,
		store:        opts.Store,
		checks:       opts.Checks,
		fileBase:     fileBase,
		maxUpload:    maxUpload,
		allowedTypes: allowed,
		version:      version,
		log:          log.With("component", "api"),
		checkTimeout: defaultCheckTimeout,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	router.GET("/health", h.health)

	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/upload", h.upload)
	api.GET("/documents", h.listDocuments)
	api.GET("/documents/:id/status", h.documentStatus)
	api.GET("/documents/:id/progress", h.documentProgress)
	api.GET("/documents/:id/progress/stream", h.streamProgress)
	api.POST("/documents/:id/retry", h.retryDocument)
	api.DELETE("/documents/:id", h.deleteDocument)
	api.POST("/query", h.query)
	api.GET("/analytics", h.analytics)
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Educational RAG API",
		"version": h.version,
		"endpoints": gin.H{
			"upload":    "POST /api/upload",
			"documents": "GET /api/documents",
			"status":    "GET /api/documents/{id}/status",
			"progress":  "GET /api/documents/{id}/progress",
			"stream":    "GET /api/documents/{id}/progress/stream",
			"retry":     "POST /api/documents/{id}/retry",
			"delete":    "DELETE /api/documents/{id}",
			"query":     "POST /api/query",
			"analytics": "GET /api/analytics",
			"health":    "GET /api/health",
		},
	})
}

type checkResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// health checks every dependency concurrently.
func (h *Handler) health(c *gin.Context) {
	results := make([]checkResult, len(h.checks))
	g, ctx := errgroup.WithContext(c.Request.Context())
	for i, chk := range h.checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
			defer cancel()
			res := checkResult{Status: "healthy", Optional: chk.Optional}
			if err := chk.Check(cctx); err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	overall := "healthy"
	services := make(map[string]checkResult, len(results))
	for i, chk := range h.checks {
		services[chk.Name] = results[i]
		if results[i].Status != "healthy" && !chk.Optional {
			overall = "degraded"
		}
	}
	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":    overall,
		"services":  services,
		"version":   h.version,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) analytics(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.docs.Stats(ctx)
	if err != nil {
		h.log.Error("analytics stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analytics"})
		return
	}
	active := 0
	if h.tracker != nil {
		if active, err = h.tracker.Active(ctx); err != nil {
			h.log.Warn("count active progress", "error", err)
		}
	}
	body := gin.H{
		"documents":         stats.Documents,
		"queries":           stats.Queries,
		"active_ingestions": active,
	}
	if h.jobs != nil {
		body["workers"] = h.jobs.Stats()
	}
	c.JSON(http.StatusOK, body)
}

func documentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
		return 0, false
	}
	return id, true
}
