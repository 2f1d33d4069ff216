package handlers

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/db"
)

type CreateJobRequest struct {
	ItemName       string   `json:"item_name" binding:"required"`
	FileName       string   `json:"file_name"`
	ModelName      string   `json:"model_name"`
	Colors         []string `json:"colors"`
	EstDurationMin int      `json:"est_duration_min" binding:"required,min=1"`
	EstLayers      int      `json:"est_layers"`
	Priority       int      `json:"priority"`
}

type UpdateJobRequest struct {
	Priority *int  `json:"priority"`
	Hold     *bool `json:"hold"`
	Locked   *bool `json:"locked"`
}

type JobResponse struct {
	ID             int64      `json:"id"`
	ItemName       string     `json:"item_name"`
	FileName       string     `json:"file_name,omitempty"`
	ModelName      string     `json:"model_name,omitempty"`
	Colors         []string   `json:"colors"`
	EstDurationMin int        `json:"est_duration_min"`
	EstLayers      int        `json:"est_layers,omitempty"`
	Priority       int        `json:"priority"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	Locked         bool       `json:"locked"`
	Hold           bool       `json:"hold"`
	PrinterID      *int64     `json:"printer_id,omitempty"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`
	ActualStart    *time.Time `json:"actual_start,omitempty"`
	ActualEnd      *time.Time `json:"actual_end,omitempty"`
	DurationMin    *int       `json:"duration_min,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type ListJobsQuery struct {
	PrinterID int64  `form:"printer_id"`
	Status    string `form:"status"`
	FromDate  string `form:"from_date"`
	ToDate    string `form:"to_date"`
	Limit     int    `form:"limit" binding:"max=200"`
	Offset    int    `form:"offset"`
}

type JobHandler struct {
	store *db.Store
}

func NewJobHandler(store *db.Store) *JobHandler {
	return &JobHandler{store: store}
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := &db.Job{
		ItemName:       req.ItemName,
		FileName:       req.FileName,
		ModelName:      req.ModelName,
		EstDurationMin: req.EstDurationMin,
		EstLayers:      req.EstLayers,
		Priority:       req.Priority,
		Status:         db.JobStatusPending,
		Source:         db.JobSourcePlanned,
	}
	job.SetColors(req.Colors)

	if err := h.store.Jobs.Create(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      job.ID,
		"message": "job submitted successfully",
	})
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	filter := db.JobFilter{
		PrinterID: query.PrinterID,
		Status:    query.Status,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	if query.FromDate != "" {
		if t, err := time.Parse("2006-01-02", query.FromDate); err == nil {
			filter.FromDate = &t
		}
	}
	if query.ToDate != "" {
		if t, err := time.Parse("2006-01-02", query.ToDate); err == nil {
			endOfDay := t.Add(24*time.Hour - time.Second)
			filter.ToDate = &endOfDay
		}
	}

	jobs, err := h.store.Jobs.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, toJobResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": responses, "count": len(responses)})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// UpdateJob changes queue attributes only. Scheduling fields belong to the
// scheduler and are never written through this endpoint.
func (h *JobHandler) UpdateJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var req UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.store.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	if req.Priority != nil {
		job.Priority = *req.Priority
	}
	if req.Hold != nil {
		job.Hold = *req.Hold
	}
	if req.Locked != nil {
		job.Locked = *req.Locked
	}

	if err := h.store.Jobs.Update(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update job"})
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	switch job.Status {
	case db.JobStatusPending, db.JobStatusScheduled:
	default:
		c.JSON(http.StatusConflict, gin.H{"error": "job is " + string(job.Status) + ", cancel the print on the printer instead"})
		return
	}

	job.Status = db.JobStatusCancelled
	if err := h.store.Jobs.Update(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job cancelled"})
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.store.Jobs.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	if job.Status == db.JobStatusPrinting {
		c.JSON(http.StatusConflict, gin.H{"error": "cannot delete a printing job"})
		return
	}

	if err := h.store.Jobs.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "job deleted"})
}

func toJobResponse(job *db.Job) JobResponse {
	return JobResponse{
		ID:             job.ID,
		ItemName:       job.ItemName,
		FileName:       job.FileName,
		ModelName:      job.ModelName,
		Colors:         job.Colors(),
		EstDurationMin: job.EstDurationMin,
		EstLayers:      job.EstLayers,
		Priority:       job.Priority,
		Status:         string(job.Status),
		Source:         job.Source,
		Locked:         job.Locked,
		Hold:           job.Hold,
		PrinterID:      job.PrinterID,
		ScheduledStart: job.ScheduledStart,
		ScheduledEnd:   job.ScheduledEnd,
		ActualStart:    job.ActualStart,
		ActualEnd:      job.ActualEnd,
		DurationMin:    job.DurationMin,
		CreatedAt:      job.CreatedAt,
	}
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.POST("/jobs", h.CreateJob)
	r.GET("/jobs/:id", h.GetJob)
	r.PATCH("/jobs/:id", h.UpdateJob)
	r.POST("/jobs/:id/cancel", h.CancelJob)
	r.DELETE("/jobs/:id", h.DeleteJob)
}
