package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/api/handlers"
	"github.com/orrn/printfarm/internal/archive"
	"github.com/orrn/printfarm/internal/core"
	"github.com/orrn/printfarm/internal/db"
	"github.com/orrn/printfarm/internal/scheduler"
)

// NewRouter assembles the HTTP surface. All routes live under /api/v1;
// authentication is expected to happen at the proxy in front of this
// service.
func NewRouter(store *db.Store, registry *core.Registry, sched *scheduler.Scheduler, archiver *archive.Archiver) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	handlers.NewJobHandler(store).RegisterRoutes(v1)
	handlers.NewPrinterHandler(store, registry).RegisterRoutes(v1)
	handlers.NewRunHandler(store).RegisterRoutes(v1)
	handlers.NewAlertHandler(store).RegisterRoutes(v1)
	handlers.NewSchedulerHandler(store, sched).RegisterRoutes(v1)
	handlers.NewArchiveHandler(store, archiver).RegisterRoutes(v1)

	return router
}
