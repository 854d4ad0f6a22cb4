package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/http/response"
	"github.com/yungbote/pricebook-backend/internal/modules/budget/orchestrator"
	pkgerrors "github.com/yungbote/pricebook-backend/internal/pkg/errors"
	"github.com/yungbote/pricebook-backend/internal/platform/apierr"
	"github.com/yungbote/pricebook-backend/internal/realtime"
)

type BudgetHandler struct {
	orch *orchestrator.Orchestrator
	hub  *realtime.SSEHub
}

func NewBudgetHandler(orch *orchestrator.Orchestrator, hub *realtime.SSEHub) *BudgetHandler {
	return &BudgetHandler{orch: orch, hub: hub}
}

func leadScope(c *gin.Context) string {
	return strings.TrimSpace(c.Param("leadId"))
}

// POST /api/leads/:leadId/budget
func (h *BudgetHandler) Generate(c *gin.Context) {
	scopeID := leadScope(c)
	if scopeID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_lead_id", nil)
		return
	}
	var req orchestrator.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	b, err := h.orch.Generate(c.Request.Context(), scopeID, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.Status(499)
			return
		}
		response.RespondAPIError(c, generateError(err))
		return
	}
	response.RespondOK(c, gin.H{"budget": b})
}

func generateError(err error) *apierr.Error {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return apierr.New(http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, orchestrator.ErrNoTasks):
		return apierr.New(http.StatusUnprocessableEntity, "no_tasks", err)
	default:
		return apierr.New(http.StatusBadGateway, "budget_generation_failed", err)
	}
}

// GET /api/leads/:leadId/events
// The stream closes after a complete or error event of a run that is still
// in progress at subscribe time, unless ?follow=true.
func (h *BudgetHandler) Events(c *gin.Context) {
	scopeID := leadScope(c)
	if scopeID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_lead_id", nil)
		return
	}
	opts := realtime.StreamOptions{
		ScopeID:       scopeID,
		LastEventID:   realtime.LastEventID(c.Request),
		LiveCloseOnly: true,
	}
	if c.Query("follow") != "true" {
		opts.CloseOn = []events.Type{events.Complete, events.Error}
	}
	h.hub.ServeHTTP(c.Writer, c.Request, opts)
}

type resolveRequest struct {
	Description string          `json:"description" binding:"max=2000"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit" binding:"max=16"`
}

// POST /api/resolve
func (h *BudgetHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	item := h.orch.ResolveItem(c.Request.Context(), req.Description, req.Quantity, req.Unit)
	response.RespondOK(c, gin.H{"item": item})
}
