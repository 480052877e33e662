package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ivallejo/coffee-sub000/internal/models"
	"github.com/ivallejo/coffee-sub000/internal/service"
	"github.com/ivallejo/coffee-sub000/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.Checkout
	shifts    *service.ShiftLedger
	inventory *service.ConsumptionEngine
	allocator *service.DocumentAllocator
	loyalty   *service.LoyaltyEngine
	lowStock  decimal.Decimal
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.Checkout,
	shifts *service.ShiftLedger,
	inventory *service.ConsumptionEngine,
	allocator *service.DocumentAllocator,
	loyalty *service.LoyaltyEngine,
	lowStock decimal.Decimal,
) *Handler {
	return &Handler{
		checkout:  checkout,
		shifts:    shifts,
		inventory: inventory,
		allocator: allocator,
		loyalty:   loyalty,
		lowStock:  lowStock,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders/finalize", h.finalizeOrder)
		v1.POST("/orders/tabs", h.saveTab)
		v1.POST("/orders/:id/void", h.voidOrder)
		v1.GET("/orders/:id", h.getOrder)

		v1.POST("/shifts/open", h.openShift)
		v1.POST("/shifts/:id/close", h.closeShift)
		v1.POST("/shifts/:id/notes", h.addShiftNote)
		v1.GET("/shifts/open", h.getOpenShift)
		v1.GET("/shifts/:id/totals", h.getShiftTotals)

		v1.POST("/inventory/movements", h.addMovement)
		v1.GET("/inventory/movements", h.getMovements)
		v1.GET("/inventory/low-stock", h.getLowStock)

		v1.GET("/series", h.listSeries)
		v1.POST("/series", h.createSeries)
		v1.POST("/series/:id/activate", h.activateSeries)

		v1.GET("/customers/:id/loyalty", h.getLoyaltyState)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// finalizeOrder commits a sale. Pre-commit failures block the sale with an
// actionable message; post-commit degradation still returns 201, with the
// warnings array carrying what needs reconciliation.
func (h *Handler) finalizeOrder(c *gin.Context) {
	var req service.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	result, err := h.checkout.Finalize(c.Request.Context(), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *Handler) saveTab(c *gin.Context) {
	var req service.TabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.checkout.SaveTab(c.Request.Context(), &req)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) voidOrder(c *gin.Context) {
	orderID, ok := h.paramID(c)
	if !ok {
		return
	}

	if err := h.checkout.Void(c.Request.Context(), orderID); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "voided"})
}

func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := h.paramID(c)
	if !ok {
		return
	}

	order, items, err := h.checkout.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type openShiftRequest struct {
	CashierID int64           `json:"cashier_id" binding:"required"`
	StartCash decimal.Decimal `json:"start_cash"`
}

func (h *Handler) openShift(c *gin.Context) {
	var req openShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	shift, err := h.shifts.Open(c.Request.Context(), req.CashierID, req.StartCash)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, shift)
}

type closeShiftRequest struct {
	CountedCash decimal.Decimal `json:"counted_cash"`
}

func (h *Handler) closeShift(c *gin.Context) {
	shiftID, ok := h.paramID(c)
	if !ok {
		return
	}

	var req closeShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.shifts.Close(c.Request.Context(), shiftID, req.CountedCash)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type shiftNoteRequest struct {
	Note string `json:"note" binding:"required"`
}

func (h *Handler) addShiftNote(c *gin.Context) {
	shiftID, ok := h.paramID(c)
	if !ok {
		return
	}

	var req shiftNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.shifts.AddNote(c.Request.Context(), shiftID, req.Note); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "noted"})
}

func (h *Handler) getOpenShift(c *gin.Context) {
	cashierID, err := strconv.ParseInt(c.Query("cashier_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cashier_id"})
		return
	}

	shift, err := h.shifts.GetOpenShift(c.Request.Context(), cashierID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"open":  shift != nil,
		"shift": shift,
	})
}

func (h *Handler) getShiftTotals(c *gin.Context) {
	shiftID, ok := h.paramID(c)
	if !ok {
		return
	}

	totals, err := h.shifts.Totals(c.Request.Context(), shiftID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"totals": totals})
}

type movementRequest struct {
	ProductID int64           `json:"product_id" binding:"required"`
	Type      string          `json:"type" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Reason    string          `json:"reason" binding:"required"`
	Notes     string          `json:"notes"`
	Actor     string          `json:"actor" binding:"required"`
}

func (h *Handler) addMovement(c *gin.Context) {
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	movement, err := h.inventory.AddManualMovement(c.Request.Context(),
		req.ProductID, req.Type, req.Quantity, req.Reason, req.Notes, req.Actor)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, movement)
}

func (h *Handler) getMovements(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Query("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product_id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	movements, err := h.inventory.GetMovements(c.Request.Context(), productID, limit)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

func (h *Handler) getLowStock(c *gin.Context) {
	threshold := h.lowStock
	if raw := c.Query("threshold"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid threshold"})
			return
		}
		threshold = parsed
	}

	products, err := h.inventory.GetLowStock(c.Request.Context(), threshold)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) listSeries(c *gin.Context) {
	series, err := h.allocator.ListSeries(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"series": series})
}

type createSeriesRequest struct {
	DocumentType string `json:"document_type" binding:"required"`
	SeriesCode   string `json:"series_code" binding:"required"`
	Active       bool   `json:"active"`
}

func (h *Handler) createSeries(c *gin.Context) {
	var req createSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	series, err := h.allocator.CreateSeries(c.Request.Context(), req.DocumentType, req.SeriesCode, req.Active)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, series)
}

func (h *Handler) activateSeries(c *gin.Context) {
	seriesID, ok := h.paramID(c)
	if !ok {
		return
	}

	series, err := h.allocator.ActivateSeries(c.Request.Context(), seriesID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, series)
}

func (h *Handler) getLoyaltyState(c *gin.Context) {
	customerID, ok := h.paramID(c)
	if !ok {
		return
	}

	state, err := h.loyalty.GetState(c.Request.Context(), customerID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *Handler) paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// renderError maps domain errors to HTTP statuses. Pre-commit failures get
// an actionable message for the cashier; conflicts are reported verbatim.
func (h *Handler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNoOpenShift):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Open the cash drawer first",
			"details": err.Error(),
		})
	case errors.Is(err, models.ErrNoActiveSeries):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Configure a document series for this document type",
			"details": err.Error(),
		})
	case errors.Is(err, models.ErrShiftAlreadyOpen),
		errors.Is(err, models.ErrShiftNotOpen),
		errors.Is(err, models.ErrOrderNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrOrderNotFound),
		errors.Is(err, models.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Request failed",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
