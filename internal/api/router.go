// Package api provides the HTTP API for the device management service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dmsystem/dms/internal/api/handler"
	"github.com/dmsystem/dms/internal/api/middleware"
	"github.com/dmsystem/dms/internal/approval"
	"github.com/dmsystem/dms/internal/auth"
	"github.com/dmsystem/dms/internal/defect"
	"github.com/dmsystem/dms/internal/device"
	"github.com/dmsystem/dms/internal/distribution"
	"github.com/dmsystem/dms/internal/featureflags"
	"github.com/dmsystem/dms/internal/notification"
	"github.com/dmsystem/dms/internal/operator"
	"github.com/dmsystem/dms/internal/resilience"
	"github.com/dmsystem/dms/internal/returns"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

// Role groups guarding route groups.
var (
	managementRoles = user.ManagementRoles
	custodyRoles    = []user.Role{user.RoleAdmin, user.RoleManager, user.RoleDistributor}
	operatorRoles   = []user.Role{user.RoleAdmin, user.RoleManager, user.RoleSubDistributor}
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// RequireTLS rejects plain HTTP requests.
	RequireTLS bool

	// DevTokens mounts POST /api/v1/auth/token.
	DevTokens bool

	// Store and Registry feed the readiness and status checks.
	Store    store.Store
	Registry *resilience.Registry
	Sinks    []string

	AuthService   *auth.Service
	Users         *user.Service
	Devices       *device.Ledger
	Distributions *distribution.Engine
	Returns       *returns.Workflow
	Defects       *defect.Service
	Operators     *operator.Registry
	Approvals     *approval.Gateway
	Notifications *notification.Service
	FeatureFlags  *featureflags.Service

	// CleanupScheduler queues cleanup jobs for the worker; nil runs them inline.
	CleanupScheduler handler.CleanupScheduler
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "dms-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)
	r.Use(middleware.RequireJSON)

	log := cfg.Logger
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Store:     cfg.Store,
		Registry:  cfg.Registry,
		Flags:     cfg.FeatureFlags,
		Sinks:     cfg.Sinks,
	})
	tokenHandler := handler.NewTokenHandler(cfg.AuthService, log)
	userHandler := handler.NewUserHandler(cfg.Users, log)
	deviceHandler := handler.NewDeviceHandler(cfg.Devices, log)
	distributionHandler := handler.NewDistributionHandler(cfg.Distributions, log)
	returnHandler := handler.NewReturnHandler(cfg.Returns, log)
	defectHandler := handler.NewDefectHandler(cfg.Defects, log)
	operatorHandler := handler.NewOperatorHandler(cfg.Operators, log)
	approvalHandler := handler.NewApprovalHandler(cfg.Approvals, log)
	notificationHandler := handler.NewNotificationHandler(cfg.Notifications, cfg.CleanupScheduler, log)
	featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlags, log)

	authMiddleware := middleware.Auth(cfg.AuthService)
	management := middleware.RequireRole(managementRoles...)
	custody := middleware.RequireRole(custodyRoles...)
	admin := middleware.RequireRole(user.RoleAdmin)
	operatorManagers := middleware.RequireRole(operatorRoles...)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		if cfg.DevTokens {
			r.With(middleware.RateLimitByIP(middleware.AuthRateLimit)).Post("/auth/token", tokenHandler.Issue)
		}

		// Everything below acts on behalf of an authenticated account.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit))
			r.Use(middleware.WritesOnly(middleware.RateLimitByUser(middleware.WriteRateLimit)))

			r.Get("/me", userHandler.Me)

			r.Route("/users", func(r chi.Router) {
				r.With(management).Get("/", userHandler.List)
				r.With(management).Post("/", userHandler.Create)
				r.With(management).Get("/role/{role}", userHandler.ByRole)
				r.Get("/{userID}", userHandler.Get)
				r.Put("/{userID}", userHandler.Update)
				r.With(admin).Delete("/{userID}", userHandler.Delete)
				r.With(admin).Patch("/{userID}/status", userHandler.SetStatus)
			})

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", deviceHandler.List)
				r.Get("/available", deviceHandler.Available)
				r.Get("/track/{serial}", deviceHandler.Track)
				r.With(management).Get("/stats", deviceHandler.Stats)
				r.With(management).Post("/", deviceHandler.Create)
				r.Route("/{deviceID}", func(r chi.Router) {
					r.Get("/", deviceHandler.Get)
					r.Get("/history", deviceHandler.History)
					r.Patch("/status", deviceHandler.SetStatus)
					r.With(management).Put("/", deviceHandler.Update)
					r.With(management).Delete("/", deviceHandler.Delete)
				})
			})

			r.Route("/distributions", func(r chi.Router) {
				r.Get("/", distributionHandler.List)
				r.Post("/", distributionHandler.Create)
				r.With(custody).Get("/pending", distributionHandler.Pending)
				r.Route("/{distributionID}", func(r chi.Router) {
					r.Get("/", distributionHandler.Get)
					r.Patch("/status", distributionHandler.SetStatus)
					r.Delete("/", distributionHandler.Cancel)
				})
			})

			r.Route("/returns", func(r chi.Router) {
				r.Get("/", returnHandler.List)
				r.Post("/", returnHandler.Create)
				r.With(management).Get("/stats", returnHandler.Stats)
				r.Route("/{returnID}", func(r chi.Router) {
					r.Get("/", returnHandler.Get)
					r.Patch("/status", returnHandler.SetStatus)
					r.Delete("/", returnHandler.Cancel)
				})
			})

			r.Route("/defects", func(r chi.Router) {
				r.Get("/", defectHandler.List)
				r.Post("/", defectHandler.Create)
				r.With(management).Get("/stats", defectHandler.Stats)
				r.Route("/{defectID}", func(r chi.Router) {
					r.Get("/", defectHandler.Get)
					r.Group(func(r chi.Router) {
						r.Use(management)
						r.Put("/", defectHandler.Update)
						r.Delete("/", defectHandler.Delete)
						r.Patch("/status", defectHandler.SetStatus)
						r.Patch("/resolve", defectHandler.Resolve)
					})
				})
			})

			r.Route("/operators", func(r chi.Router) {
				r.Get("/", operatorHandler.List)
				r.Get("/stats", operatorHandler.Stats)
				r.With(operatorManagers).Post("/", operatorHandler.Create)
				r.Route("/{operatorID}", func(r chi.Router) {
					r.Get("/", operatorHandler.Get)
					r.Get("/devices", operatorHandler.Devices)
					r.Group(func(r chi.Router) {
						r.Use(operatorManagers)
						r.Put("/", operatorHandler.Update)
						r.Delete("/", operatorHandler.Delete)
						r.Post("/devices", operatorHandler.Assign)
					})
				})
			})

			r.Route("/approvals", func(r chi.Router) {
				r.Use(custody)
				r.Get("/", approvalHandler.List)
				r.Get("/{approvalID}", approvalHandler.Get)
				r.Post("/{approvalID}/approve", approvalHandler.Approve)
				r.Post("/{approvalID}/reject", approvalHandler.Reject)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", notificationHandler.List)
				r.Get("/unread", notificationHandler.Unread)
				r.Patch("/read-all", notificationHandler.MarkAllRead)
				r.Patch("/{notificationID}/read", notificationHandler.MarkRead)
				r.Delete("/{notificationID}", notificationHandler.Delete)
			})

			r.Route("/admin/flags", func(r chi.Router) {
				r.Use(admin)
				r.Get("/", featureFlagsHandler.ListFeatureFlags)
				r.Put("/", featureFlagsHandler.UpsertFeatureFlags)
				r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				r.Delete("/{flagKey}", featureFlagsHandler.ResetFeatureFlag)
			})

			r.With(admin).Post("/admin/notifications/cleanup", notificationHandler.Cleanup)
		})
	})

	return r
}
