package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/db"
)

type RunHandler struct {
	store *db.Store
}

func NewRunHandler(store *db.Store) *RunHandler {
	return &RunHandler{store: store}
}

func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.store.Runs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *RunHandler) ListRunsByPrinter(c *gin.Context) {
	printerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printer id"})
		return
	}

	limit, offset := pagination(c, 50, 200)
	runs, err := h.store.Runs.ListByPrinter(c.Request.Context(), printerID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func pagination(c *gin.Context, defaultLimit, maxLimit int) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (h *RunHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/runs/:id", h.GetRun)
	r.GET("/printers/:id/runs", h.ListRunsByPrinter)
}
