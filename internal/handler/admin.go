package handler

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"acctshop-api/internal/model"
	"acctshop-api/internal/repository"
	"acctshop-api/internal/service"
	"acctshop-api/pkg/apierror"
	"acctshop-api/pkg/response"
)

// StatsReader returns today's shop figures.
type StatsReader interface {
	Today(ctx context.Context) (*model.DailyStats, error)
}

// Reconciler runs one reservation sweep on demand.
type Reconciler interface {
	RunNow(ctx context.Context) (*service.ReconcileResult, error)
}

// AdminHandler serves the operator endpoints.
type AdminHandler struct {
	stats      StatsReader
	reconciler Reconciler
	alerts     repository.AlertRepository
	ledgerType string
	cacheType  string
	startTime  time.Time
}

// AdminConfig holds the admin handler dependencies.
type AdminConfig struct {
	Stats      StatsReader
	Reconciler Reconciler
	Alerts     repository.AlertRepository
	LedgerType string
	CacheType  string
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{
		stats:      cfg.Stats,
		reconciler: cfg.Reconciler,
		alerts:     cfg.Alerts,
		ledgerType: cfg.LedgerType,
		cacheType:  cfg.CacheType,
		startTime:  time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	shop, err := h.stats.Today(r.Context())
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("Ledger unavailable"))
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response.OK(w, map[string]any{
		"shop":           shop,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"uptime_human":   time.Since(h.startTime).Round(time.Second).String(),
		"server_time":    time.Now().Format(time.RFC3339),
		"ledger_type":    h.ledgerType,
		"cache_type":     h.cacheType,
		"memory": map[string]any{
			"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
			"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
			"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
			"num_gc":        memStats.NumGC,
			"goroutines":    runtime.NumGoroutine(),
		},
		"runtime": map[string]any{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
			"cpus":       runtime.NumCPU(),
		},
	})
}

// GetHealth handles GET /api/v1/admin/health
func (h *AdminHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ListAlerts handles GET /api/v1/admin/alerts?limit=&offset=
func (h *AdminHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	alerts, total, err := h.alerts.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("Alert store unavailable"))
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	response.JSONWithMeta(w, http.StatusOK, alerts, limit, offset, total)
}

// Reconcile handles POST /api/v1/admin/reconcile
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.RunNow(r.Context())
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable("Reconcile failed: "+err.Error()))
		return
	}
	response.OK(w, result)
}
