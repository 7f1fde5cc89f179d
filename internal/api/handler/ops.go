package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dmsystem/dms/internal/api/models"
	"github.com/dmsystem/dms/internal/api/response"
	"github.com/dmsystem/dms/internal/featureflags"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

const probeTimeout = 2 * time.Second

// OpsConfig configures the operational endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Store is probed by the readiness check.
	Store store.Store

	// Registry reports the circuit breakers guarding dependencies.
	Registry *resilience.Registry

	Flags *featureflags.Service

	// Sinks names the configured notification sinks.
	Sinks []string
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /api/v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   time.Now().UTC(),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /api/v1/ops/ready. It fails while the record
// store cannot answer a count.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	probe := h.probeStore(r.Context())
	health := models.Health{Status: probe.Status, Time: time.Now().UTC()}
	if probe.Status != models.HealthStatusOK {
		health.Details = map[string]any{"store": probe.Detail}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /api/v1/ops/status - subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	subsystems := []models.SubsystemStatus{h.probeStore(r.Context())}

	if h.cfg.Registry != nil {
		for _, dep := range h.cfg.Registry.GetAllHealth() {
			s := models.SubsystemStatus{Name: "breaker:" + dep.Name, Status: models.HealthStatusOK, Detail: dep.State}
			switch {
			case dep.IsUnhealthy():
				s.Status = models.HealthStatusFail
			case dep.IsDegraded():
				s.Status = models.HealthStatusDegraded
			}
			if dep.LastError != "" {
				s.Detail += ": " + dep.LastError
			}
			subsystems = append(subsystems, s)
		}
	}
	for _, sink := range h.cfg.Sinks {
		subsystems = append(subsystems, models.SubsystemStatus{
			Name:   "notify:" + sink,
			Status: models.HealthStatusOK,
		})
	}

	status := models.SystemStatus{
		Status:     overall(subsystems),
		Time:       time.Now().UTC(),
		Subsystems: subsystems,
	}
	if h.cfg.Flags != nil {
		status.ActiveFlags = h.cfg.Flags.Active(r.Context())
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) probeStore(ctx context.Context) models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "store", Status: models.HealthStatusOK}
	if h.cfg.Store == nil {
		return s
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := h.cfg.Store.Count(ctx, user.Collection, store.Where()); err != nil {
		s.Status = models.HealthStatusFail
		s.Detail = err.Error()
	}
	return s
}

func overall(subsystems []models.SubsystemStatus) models.HealthStatus {
	status := models.HealthStatusOK
	for _, s := range subsystems {
		switch s.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			status = models.HealthStatusDegraded
		}
	}
	return status
}
