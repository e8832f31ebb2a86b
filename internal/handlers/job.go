package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/writeflow/writeflow-backend/internal/services"
)

type JobHandler struct {
	pipeline services.PipelineService
}

func NewJobHandler(pipeline services.PipelineService) *JobHandler {
	return &JobHandler{pipeline: pipeline}
}

// GET /api/jobs/:id
//
// Polling is how a client-driven run makes progress: each poll advances the
// job by at most one section before reporting state.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	payload, err := h.pipeline.Poll(c.Request.Context(), jobID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, payload)
}
