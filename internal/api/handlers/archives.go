package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/archive"
	"github.com/orrn/printfarm/internal/db"
)

type ArchiveHandler struct {
	store    *db.Store
	archiver *archive.Archiver
}

func NewArchiveHandler(store *db.Store, archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{store: store, archiver: archiver}
}

func (h *ArchiveHandler) ListArchiveFiles(c *gin.Context) {
	files, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archives"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archives": files, "count": len(files)})
}

func (h *ArchiveHandler) ListArchivedRuns(c *gin.Context) {
	limit, offset := pagination(c, 50, 200)
	records, err := h.store.Archives.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list archived runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": records, "count": len(records)})
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchiveFiles)
	r.GET("/archives/runs", h.ListArchivedRuns)
}
