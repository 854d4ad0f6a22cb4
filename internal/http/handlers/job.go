package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/pricebook-backend/internal/domain/events"
	"github.com/yungbote/pricebook-backend/internal/http/response"
	"github.com/yungbote/pricebook-backend/internal/ingestion/pipeline"
	"github.com/yungbote/pricebook-backend/internal/pkg/dbctx"
	"github.com/yungbote/pricebook-backend/internal/realtime"
	"github.com/yungbote/pricebook-backend/internal/services"
)

type JobHandler struct {
	jobs services.IngestionService
	hub  *realtime.SSEHub
}

func NewJobHandler(jobs services.IngestionService, hub *realtime.SSEHub) *JobHandler {
	return &JobHandler{jobs: jobs, hub: hub}
}

// GET /api/catalog/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetJobStatus(dbctx.From(c.Request.Context()), jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_job_failed", err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"job": nil})
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/catalog/jobs/:id/events
func (h *JobHandler) JobEvents(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.jobs.GetJobStatus(dbctx.From(c.Request.Context()), jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_job_failed", err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"job": nil})
		return
	}
	h.hub.ServeHTTP(c.Writer, c.Request, realtime.StreamOptions{
		ScopeID:     pipeline.JobScope(jobID.String()),
		LastEventID: realtime.LastEventID(c.Request),
		CloseOn:     []events.Type{events.JobCompleted, events.JobFailed},
	})
}
