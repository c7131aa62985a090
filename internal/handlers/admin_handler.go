package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/askdocs/service/internal/cache"
	"github.com/askdocs/service/internal/llm"
)

// AdminHandler serves the operational introspection endpoints.
type AdminHandler struct {
	registry     *llm.BreakerRegistry
	store        *cache.Store
	ingestionURL string
	httpClient   *http.Client
	logger       *logrus.Logger
}

// NewAdminHandler creates an admin handler. ingestionURL may be empty when
// no ingestion collaborator is deployed.
func NewAdminHandler(registry *llm.BreakerRegistry, store *cache.Store, ingestionURL string, logger *logrus.Logger) *AdminHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AdminHandler{
		registry:     registry,
		store:        store,
		ingestionURL: ingestionURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

// Health handles GET /health. The service stays "degraded" rather than
// unhealthy when a provider breaker is open or the cache is unreachable,
// because both conditions are survivable.
func (h *AdminHandler) Health(c *gin.Context) {
	status := "healthy"

	cacheStatus := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		cacheStatus = "unreachable"
		status = "degraded"
	}

	providersStatus := "ok"
	if h.registry.AnyOpen() {
		providersStatus = "degraded"
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"cache":     cacheStatus,
		"providers": providersStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CircuitBreakers handles GET /admin/circuit-breakers.
func (h *AdminHandler) CircuitBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"providers": h.registry.Snapshot()})
}

// CacheStats handles GET /admin/cache/stats.
func (h *AdminHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Stats(c.Request.Context()))
}

// reindexRequest is forwarded verbatim to the ingestion collaborator.
type reindexRequest struct {
	ForceFull bool `json:"force_full"`
}

// Reindex handles POST /admin/reindex. Indexing is owned by the ingestion
// service; this endpoint only forwards the trigger.
func (h *AdminHandler) Reindex(c *gin.Context) {
	if h.ingestionURL == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion service is not configured"})
		return
	}

	var req reindexRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	body, _ := json.Marshal(req)
	forward, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, h.ingestionURL+"/reindex", bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build reindex request"})
		return
	}
	forward.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(forward)
	if err != nil {
		h.logger.WithError(err).Error("reindex forwarding failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "ingestion service unreachable"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	h.logger.WithFields(logrus.Fields{
		"force_full": req.ForceFull,
		"status":     resp.StatusCode,
	}).Info("reindex forwarded")

	c.JSON(http.StatusAccepted, gin.H{
		"forwarded":        true,
		"force_full":       req.ForceFull,
		"ingestion_status": resp.StatusCode,
	})
}
