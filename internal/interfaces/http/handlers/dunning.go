package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sofia-platform/billing/internal/application/command"
	"github.com/sofia-platform/billing/internal/application/dto"
	"github.com/sofia-platform/billing/internal/application/query"
	"github.com/sofia-platform/billing/internal/domain/entity"
	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/infrastructure/logging"
	"github.com/sofia-platform/billing/internal/interfaces/http/response"
)

// DunningHandler handles the dunning trigger and inspection endpoints
type DunningHandler struct {
	runCmd     *command.RunDunningPassCommand
	processCmd *command.ProcessDunningSubscriptionCommand
	listQuery  *query.ListDunningSubscriptionsQuery
}

// NewDunningHandler creates a new dunning handler
func NewDunningHandler(
	runCmd *command.RunDunningPassCommand,
	processCmd *command.ProcessDunningSubscriptionCommand,
	listQuery *query.ListDunningSubscriptionsQuery,
) *DunningHandler {
	return &DunningHandler{
		runCmd:     runCmd,
		processCmd: processCmd,
		listQuery:  listQuery,
	}
}

// RegisterRoutes mounts the dunning routes. The status probe stays public;
// protect runs before every other route.
func (h *DunningHandler) RegisterRoutes(router gin.IRouter, protect ...gin.HandlerFunc) {
	group := router.Group("/dunning")
	group.GET("/status", h.Status)

	admin := group.Group("", protect...)
	admin.POST("/run", h.Run)
	admin.GET("/subscriptions", h.ListSubscriptions)
	admin.POST("/subscriptions/:id/process", h.ProcessSubscription)
}

// Run triggers one dunning pass
// @Summary Run a dunning pass
// @Tags dunning
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.RunDunningResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /dunning/run [post]
func (h *DunningHandler) Run(c *gin.Context) {
	resp, err := h.runCmd.Execute(c.Request.Context())
	if err != nil {
		logging.GetLogger(c).Error("dunning pass failed", zap.Error(err))
		writeDunningError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Status is a liveness probe that never touches the store
// @Summary Dunning liveness probe
// @Tags dunning
// @Produce json
// @Success 200 {object} dto.DunningStatusResponse
// @Router /dunning/status [get]
func (h *DunningHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, dto.DunningStatusResponse{
		Status:    "ok",
		Task:      "dunning",
		Timestamp: entity.FormatTimestamp(time.Now()),
	})
}

// ListSubscriptions previews the subscriptions the next pass would review
// @Summary Preview dunning candidates
// @Tags dunning
// @Produce json
// @Security Bearer
// @Param limit query int false "Maximum rows, capped at the batch size"
// @Success 200 {object} response.SuccessResponse{data=dto.DunningPreviewResponse}
// @Router /dunning/subscriptions [get]
func (h *DunningHandler) ListSubscriptions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			response.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	resp, err := h.listQuery.Execute(c.Request.Context(), limit)
	if err != nil {
		logging.GetLogger(c).Error("dunning preview failed", zap.Error(err))
		writeDunningError(c, err)
		return
	}

	response.OK(c, resp)
}

// ProcessSubscription forces one dunning attempt for a single subscription
// @Summary Process one subscription now
// @Tags dunning
// @Produce json
// @Security Bearer
// @Param id path string true "Subscription ID"
// @Success 200 {object} response.SuccessResponse{data=dto.ProcessDunningResponse}
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /dunning/subscriptions/{id}/process [post]
func (h *DunningHandler) ProcessSubscription(c *gin.Context) {
	resp, err := h.processCmd.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		logging.GetLogger(c).Warn("dunning subscription processing failed",
			zap.String("subscription_id", c.Param("id")),
			zap.Error(err),
		)
		writeDunningError(c, err)
		return
	}

	response.OK(c, resp)
}

func writeDunningError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domainErrors.ErrStoreNotConfigured):
		response.Error(c, http.StatusInternalServerError, "STORE_NOT_CONFIGURED", "Billing store credentials are not configured")
	case errors.Is(err, domainErrors.ErrDunningPassInProgress):
		response.Conflict(c, "DUNNING_IN_PROGRESS", "A dunning pass is already running")
	case errors.Is(err, domainErrors.ErrInvalidInput):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domainErrors.ErrSubscriptionNotFound):
		response.NotFound(c, "Subscription not found")
	case errors.Is(err, domainErrors.ErrConcurrentUpdate):
		response.Conflict(c, "CONCURRENT_UPDATE", "Subscription was modified concurrently")
	case errors.Is(err, domainErrors.ErrSubscriptionCanceled),
		errors.Is(err, domainErrors.ErrSubscriptionNotInDunning),
		errors.Is(err, domainErrors.ErrDunningExhausted):
		response.Conflict(c, "NOT_ELIGIBLE", err.Error())
	case errors.Is(err, domainErrors.ErrExternalServiceUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		response.BadGateway(c, "STORE_UNAVAILABLE", "Billing store is unavailable")
	default:
		response.InternalError(c, "Dunning run failed")
	}
}
