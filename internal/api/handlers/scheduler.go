package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/db"
	"github.com/orrn/printfarm/internal/scheduler"
)

type SchedulerHandler struct {
	store *db.Store
	sched *scheduler.Scheduler
}

func NewSchedulerHandler(store *db.Store, sched *scheduler.Scheduler) *SchedulerHandler {
	return &SchedulerHandler{store: store, sched: sched}
}

// RunPass executes a batch scheduling pass synchronously and returns the
// assignments and skips it produced.
func (h *SchedulerHandler) RunPass(c *gin.Context) {
	result, err := h.sched.Run(c.Request.Context(), time.Now().UTC())
	if err != nil {
		if errors.Is(err, scheduler.ErrNoActivePrinters) {
			c.JSON(http.StatusConflict, gin.H{"error": "no active printers"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scheduling pass failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scheduled": result.Assignments,
		"skipped":   result.Skipped,
		"run":       result.Audit,
	})
}

func (h *SchedulerHandler) ListRuns(c *gin.Context) {
	limit, offset := pagination(c, 20, 100)
	runs, err := h.store.SchedulerRuns.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list scheduler runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (h *SchedulerHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/scheduler/run", h.RunPass)
	r.GET("/scheduler/runs", h.ListRuns)
}
