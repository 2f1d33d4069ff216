package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printfarm/internal/core"
	"github.com/orrn/printfarm/internal/db"
)

type CreatePrinterRequest struct {
	Name      string `json:"name" binding:"required"`
	SlotCount int    `json:"slot_count"`
	APIUrl    string `json:"api_url"`
}

type UpdateSlotRequest struct {
	SlotIndex  int     `json:"slot_index" binding:"min=0"`
	Color      string  `json:"color"`
	Material   string  `json:"material"`
	RemainingG float64 `json:"remaining_g"`
}

type PrinterResponse struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Active     bool              `json:"active"`
	State      string            `json:"state"`
	Connected  bool              `json:"connected"`
	SlotCount  int               `json:"slot_count"`
	APIUrl     string            `json:"api_url,omitempty"`
	Slots      []*db.PrinterSlot `json:"slots"`
	LastSeenAt *time.Time        `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type PrinterHandler struct {
	store    *db.Store
	registry *core.Registry
}

func NewPrinterHandler(store *db.Store, registry *core.Registry) *PrinterHandler {
	return &PrinterHandler{store: store, registry: registry}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers, err := h.store.Printers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list printers"})
		return
	}

	responses := make([]PrinterResponse, 0, len(printers))
	for _, p := range printers {
		resp, err := h.toResponse(c, p)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load printer slots"})
			return
		}
		responses = append(responses, resp)
	}
	c.JSON(http.StatusOK, gin.H{"printers": responses, "count": len(responses)})
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	printer, ok := h.loadPrinter(c)
	if !ok {
		return
	}
	resp, err := h.toResponse(c, printer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load printer slots"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *PrinterHandler) CreatePrinter(c *gin.Context) {
	var req CreatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	printer := &db.Printer{
		Name:      req.Name,
		Active:    true,
		SlotCount: req.SlotCount,
		APIUrl:    req.APIUrl,
	}
	if err := h.store.Printers.Create(c.Request.Context(), printer); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create printer"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": printer.ID, "message": "printer created"})
}

// ConnectPrinter starts a poll worker for a printer with a configured
// endpoint. Printers without an api_url are push-only and register through
// their own transport.
func (h *PrinterHandler) ConnectPrinter(c *gin.Context) {
	printer, ok := h.loadPrinter(c)
	if !ok {
		return
	}
	if printer.APIUrl == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "printer has no api_url configured"})
		return
	}

	adapter := core.NewPollAdapter(printer.APIUrl, 10*time.Second)
	err := h.registry.Register(c.Request.Context(), printer.ID, adapter)
	if err != nil {
		if errors.Is(err, core.ErrPrinterAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "printer already connected"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "printer connected"})
}

func (h *PrinterHandler) DisconnectPrinter(c *gin.Context) {
	printer, ok := h.loadPrinter(c)
	if !ok {
		return
	}
	if err := h.registry.Deregister(printer.ID); err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "printer not connected"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect printer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "printer disconnected"})
}

func (h *PrinterHandler) UpdateSlot(c *gin.Context) {
	printer, ok := h.loadPrinter(c)
	if !ok {
		return
	}

	var req UpdateSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SlotIndex >= printer.SlotCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slot index out of range"})
		return
	}

	slot := &db.PrinterSlot{
		PrinterID:  printer.ID,
		SlotIndex:  req.SlotIndex,
		Color:      req.Color,
		Material:   req.Material,
		RemainingG: req.RemainingG,
	}
	if err := h.store.Printers.UpsertSlot(c.Request.Context(), slot); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update slot"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "slot updated"})
}

func (h *PrinterHandler) PausePrinter(c *gin.Context) {
	h.control(c, h.registry.Pause, "pause")
}

func (h *PrinterHandler) ResumePrinter(c *gin.Context) {
	h.control(c, h.registry.Resume, "resume")
}

func (h *PrinterHandler) CancelPrint(c *gin.Context) {
	h.control(c, h.registry.Cancel, "cancel")
}

func (h *PrinterHandler) control(c *gin.Context, verb func(ctx context.Context, printerID int64) (bool, error), name string) {
	printer, ok := h.loadPrinter(c)
	if !ok {
		return
	}

	accepted, err := verb(c.Request.Context(), printer.ID)
	if err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "printer not connected"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + name})
		return
	}
	if !accepted {
		c.JSON(http.StatusConflict, gin.H{"error": name + " rejected by printer"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": name + " accepted"})
}

func (h *PrinterHandler) loadPrinter(c *gin.Context) (*db.Printer, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printer id"})
		return nil, false
	}

	printer, err := h.store.Printers.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusNotFound, gin.H{"error": "printer not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get printer"})
		return nil, false
	}
	return printer, true
}

func (h *PrinterHandler) toResponse(c *gin.Context, p *db.Printer) (PrinterResponse, error) {
	slots, err := h.store.Printers.GetSlots(c.Request.Context(), p.ID)
	if err != nil {
		return PrinterResponse{}, err
	}
	return PrinterResponse{
		ID:         p.ID,
		Name:       p.Name,
		Active:     p.Active,
		State:      p.State,
		Connected:  h.registry.Connected(p.ID),
		SlotCount:  p.SlotCount,
		APIUrl:     p.APIUrl,
		Slots:      slots,
		LastSeenAt: p.LastSeenAt,
		CreatedAt:  p.CreatedAt,
	}, nil
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.POST("/printers", h.CreatePrinter)
	r.GET("/printers/:id", h.GetPrinter)
	r.PUT("/printers/:id/slots", h.UpdateSlot)
	r.POST("/printers/:id/connect", h.ConnectPrinter)
	r.POST("/printers/:id/disconnect", h.DisconnectPrinter)
	r.POST("/printers/:id/pause", h.PausePrinter)
	r.POST("/printers/:id/resume", h.ResumePrinter)
	r.POST("/printers/:id/cancel", h.CancelPrint)
}
