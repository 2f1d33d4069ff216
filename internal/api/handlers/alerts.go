package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/db"
)

type AlertHandler struct {
	store *db.Store
}

func NewAlertHandler(store *db.Store) *AlertHandler {
	return &AlertHandler{store: store}
}

func (h *AlertHandler) ListAlerts(c *gin.Context) {
	limit, offset := pagination(c, 50, 200)
	alerts, err := h.store.Alerts.List(c.Request.Context(), c.Query("type"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (h *AlertHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.ListAlerts)
}
