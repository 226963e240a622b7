package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"example.com/backstage/services/stocktake/internal/eventlog"
	"example.com/backstage/services/stocktake/internal/service"
)

// CountingHandler handles counting lifecycle requests
type CountingHandler struct {
	service service.Service
	log     *logrus.Logger
}

// NewCountingHandler creates a new CountingHandler instance
func NewCountingHandler(svc service.Service, log *logrus.Logger) *CountingHandler {
	return &CountingHandler{
		service: svc,
		log:     log,
	}
}

// CreateCounting handles counting creation
func (h *CountingHandler) CreateCounting(c *gin.Context) {
	var input service.CreateCountingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.log.WithError(err).Warn("Invalid counting format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid counting format",
		})
		return
	}

	counting, err := h.service.CreateCounting(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err, "Failed to create counting")
		return
	}

	c.JSON(http.StatusCreated, counting)
}

// ListCountings handles listing the acting company's countings
func (h *CountingHandler) ListCountings(c *gin.Context) {
	countings, err := h.service.ListCountings(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to list countings")
		return
	}

	c.JSON(http.StatusOK, countings)
}

// GetCounting handles the full supervisor view of a counting
func (h *CountingHandler) GetCounting(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	view, err := h.service.AdminView(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to load counting")
		return
	}

	c.JSON(http.StatusOK, view)
}

// GetCounterView handles the blind counter view of a counting
func (h *CountingHandler) GetCounterView(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	view, err := h.service.CounterView(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to load counter view")
		return
	}

	c.JSON(http.StatusOK, view)
}

// Activate handles starting a counting's first phase
func (h *CountingHandler) Activate(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	counting, err := h.service.Activate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to activate counting")
		return
	}

	c.JSON(http.StatusOK, counting)
}

// SubmitCount handles one counter submission for one item
func (h *CountingHandler) SubmitCount(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}
	itemID, ok := h.pathID(c, "itemId", "Invalid item ID")
	if !ok {
		return
	}

	var input service.SubmitCountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.log.WithError(err).Warn("Invalid count format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid count format",
		})
		return
	}
	input.CountingID = id
	input.ItemID = itemID

	item, err := h.service.SubmitCount(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err, "Failed to submit count")
		return
	}

	// The blind contract applies to submissions too: echo back only the
	// submitter's own entry.
	c.JSON(http.StatusOK, gin.H{
		"item_id":    item.ID,
		"phase":      input.Phase,
		"quantity":   input.Quantity,
		"counted_at": item.PhaseCountedAt(input.Phase),
	})
}

// AddUnexpectedItem handles adding an item found outside the frozen snapshot
func (h *CountingHandler) AddUnexpectedItem(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	var input service.AddUnexpectedItemInput
	if err := c.ShouldBindJSON(&input); err != nil {
		h.log.WithError(err).Warn("Invalid item format")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid item format",
		})
		return
	}
	if input.ProductID == "" || input.LocationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "product_id and location_id are required",
		})
		return
	}
	input.CountingID = id

	item, err := h.service.AddUnexpectedItem(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err, "Failed to add item")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"item_id":     item.ID,
		"product_id":  item.ProductID,
		"location_id": item.LocationID,
	})
}

// TriggerThirdCount handles starting a tie-breaking third count
func (h *CountingHandler) TriggerThirdCount(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	var input struct {
		ItemIDs []uint `json:"item_ids"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	if err := h.service.TriggerThirdCount(c.Request.Context(), id, input.ItemIDs); err != nil {
		h.respondError(c, err, "Failed to trigger third count")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"counting_id": id,
		"item_count":  len(input.ItemIDs),
	})
}

// OverrideItem handles a supervisor's manual resolution of one item
func (h *CountingHandler) OverrideItem(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}
	itemID, ok := h.pathID(c, "itemId", "Invalid item ID")
	if !ok {
		return
	}

	var input service.OverrideInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid override format",
		})
		return
	}
	input.CountingID = id
	input.ItemID = itemID

	item, err := h.service.ManualOverride(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err, "Failed to override item")
		return
	}

	c.JSON(http.StatusOK, item)
}

// Finalize handles closing a counting
func (h *CountingHandler) Finalize(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	counting, err := h.service.Finalize(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to finalize counting")
		return
	}

	c.JSON(http.StatusOK, counting)
}

// Cancel handles aborting a counting
func (h *CountingHandler) Cancel(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request format",
		})
		return
	}

	counting, err := h.service.Cancel(c.Request.Context(), id, input.Reason)
	if err != nil {
		h.respondError(c, err, "Failed to cancel counting")
		return
	}

	c.JSON(http.StatusOK, counting)
}

// ListEvents handles reading a counting's audit trail
func (h *CountingHandler) ListEvents(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	events, err := h.service.Events(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to list events")
		return
	}

	c.JSON(http.StatusOK, events)
}

// VerifyChain handles recomputing a counting's event hash chain
func (h *CountingHandler) VerifyChain(c *gin.Context) {
	id, ok := h.countingID(c)
	if !ok {
		return
	}

	if err := h.service.VerifyChain(c.Request.Context(), id); err != nil {
		var chainErr *eventlog.ChainError
		if errors.As(err, &chainErr) {
			c.JSON(http.StatusConflict, gin.H{
				"valid":    false,
				"position": chainErr.Position,
				"event_id": chainErr.EventID,
				"reason":   chainErr.Reason,
			})
			return
		}
		h.respondError(c, err, "Failed to verify event chain")
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}

func (h *CountingHandler) countingID(c *gin.Context) (uint, bool) {
	return h.pathID(c, "id", "Invalid counting ID")
}

func (h *CountingHandler) pathID(c *gin.Context, param, message string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": message,
		})
		return 0, false
	}
	return uint(id), true
}

// respondError maps domain rejections to HTTP statuses. Validation failures
// surface their own message; infrastructure failures get a generic one.
func (h *CountingHandler) respondError(c *gin.Context, err error, fallback string) {
	cause := errors.Cause(err)

	switch cause {
	case gorm.ErrRecordNotFound, service.ErrItemNotInCounting:
		c.JSON(http.StatusNotFound, gin.H{"error": cause.Error()})
		return
	case service.ErrNotAssignedCounter, service.ErrNotACounter:
		c.JSON(http.StatusForbidden, gin.H{"error": cause.Error()})
		return
	case service.ErrPhaseNotActive, service.ErrCountAlreadySubmitted,
		service.ErrCountingTerminal, service.ErrItemNotDisputed:
		c.JSON(http.StatusConflict, gin.H{"error": cause.Error()})
		return
	}

	switch cause.(type) {
	case *service.InvalidTransitionError, *service.UnresolvedItemsError:
		c.JSON(http.StatusConflict, gin.H{"error": cause.Error()})
		return
	}

	if service.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": cause.Error()})
		return
	}

	h.log.WithError(err).Error(fallback)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
