package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/middleware"
	"github.com/carewell/scheduling-api/internal/repository"
)

// Handlers aggregates the HTTP surface of the engine.
type Handlers struct {
	Calendar     *CalendarHandler
	Conflict     *ConflictHandler
	Modification *ModificationHandler
	Cohort       *CohortHandler
	Sync         *SyncHandler
	Export       *ExportHandler
	Metrics      *MetricsHandler
}

// RouterConfig carries the route-level wiring knobs.
type RouterConfig struct {
	APIPrefix      string
	JWTSecret      string
	AuditRepo      *repository.AuditRepository
	ExportsEnabled bool
}

// RegisterRoutes mounts the API surface on the engine. Mutating routes
// require a scheduler or admin token; reads are open inside the clinic
// network perimeter.
func RegisterRoutes(r *gin.Engine, h Handlers, cfg RouterConfig) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(cfg.APIPrefix)

	api.GET("/conflicts", h.Conflict.Detect)
	api.GET("/conflicts/patterns", h.Conflict.Patterns)
	api.POST("/conflicts/suggestions", h.Conflict.Suggest)
	api.GET("/enrollments/:id/modifications", h.Modification.History)
	api.GET("/cohorts/:id/analytics", h.Cohort.Analytics)
	api.GET("/sync/operations/:id", h.Sync.Operation)
	api.POST("/sync/analyze", h.Sync.AnalyzeChanges)
	api.POST("/sync/validate", h.Sync.Validate)

	if cfg.ExportsEnabled {
		api.GET("/exports/schedule.csv", h.Export.ScheduleCSV)
		api.GET("/exports/conflicts.pdf", h.Export.ConflictReportPDF)
	}

	guarded := api.Group("")
	guarded.Use(middleware.JWT(cfg.JWTSecret), middleware.SchedulerOrAdmin())

	audit := func(resource string) gin.HandlerFunc {
		return middleware.Audit(cfg.AuditRepo, "http.request", resource)
	}

	guarded.POST("/calendar/generate", audit("calendar"), h.Calendar.Generate)
	guarded.POST("/calendar/preview", h.Calendar.Preview)

	guarded.POST("/conflicts/bulk-resolve", audit("conflict"), h.Conflict.BulkResolve)

	guarded.POST("/modifications", audit("modification"), h.Modification.Apply)

	guarded.POST("/cohorts", audit("cohort"), h.Cohort.Create)
	guarded.POST("/cohorts/:id/schedule", audit("cohort"), h.Cohort.GenerateSchedule)
	guarded.POST("/cohorts/:id/members", audit("cohort"), h.Cohort.AddMember)
	guarded.DELETE("/cohorts/:id/members/:enrollmentId", audit("cohort"), h.Cohort.RemoveMember)
	guarded.POST("/cohorts/:id/synchronize", audit("cohort"), h.Cohort.Synchronize)
	guarded.DELETE("/cohorts/:id", audit("cohort"), h.Cohort.Dissolve)

	guarded.PUT("/templates/:id", audit("template"), h.Sync.UpdateTemplate)
	guarded.POST("/sync/execute", audit("sync"), h.Sync.Execute)
	guarded.POST("/sync/operations/:id/rollback", audit("sync"), h.Sync.Rollback)
}
