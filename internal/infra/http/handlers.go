package http

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"agentsync/internal/domain"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type agentResponse struct {
	ID           domain.AgentID    `json:"id"`
	Owner        domain.Address    `json:"owner"`
	TokenURI     string            `json:"token_uri"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedBlock uint64            `json:"created_block"`
	UpdatedBlock uint64            `json:"updated_block"`
}

type validationResponse struct {
	Request  *domain.ValidationRequest  `json:"request"`
	Response *domain.ValidationResponse `json:"response,omitempty"`
}

type createTaskRequest struct {
	AgentID      uint64 `json:"agent_id"`
	Client       string `json:"client"`
	ArtifactURI  string `json:"artifact_uri"`
	ArtifactHash string `json:"artifact_hash"`
}

func (s *Server) handleHealth(c *gin.Context) {
	out := gin.H{"status": "ok"}
	if s.checkpoint != nil {
		cp, err := s.checkpoint.Checkpoint(c.Request.Context())
		if err != nil {
			out["status"] = "degraded"
		} else if cp != nil {
			out["indexed_block"] = cp.BlockNumber
			out["indexed_hash"] = cp.BlockHash
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetAgent(c *gin.Context) {
	if s.agents == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	agentID, ok := parseAgentID(c)
	if !ok {
		return
	}
	agent, err := s.agents.GetAgent(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	out := agentResponse{
		ID:           agent.ID,
		Owner:        agent.Owner,
		TokenURI:     agent.TokenURI,
		CreatedBlock: agent.CreatedBlock,
		UpdatedBlock: agent.UpdatedBlock,
	}
	if len(agent.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(agent.Metadata))
		for key, value := range agent.Metadata {
			out.Metadata[key] = string(value)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetMetadata(c *gin.Context) {
	if s.agents == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	agentID, ok := parseAgentID(c)
	if !ok {
		return
	}
	value, err := s.agents.GetMetadata(c.Request.Context(), agentID, c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "value": string(value)})
}

func (s *Server) handleListFeedback(c *gin.Context) {
	if s.feedback == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	agentID, ok := parseAgentID(c)
	if !ok {
		return
	}
	includeRevoked := c.Query("include_revoked") == "true"
	records, err := s.feedback.ListByAgent(c.Request.Context(), agentID, includeRevoked)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": records})
}

func (s *Server) handleFeedbackSummary(c *gin.Context) {
	if s.feedback == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	agentID, ok := parseAgentID(c)
	if !ok {
		return
	}
	summary, err := s.feedback.Summary(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetValidation(c *gin.Context) {
	if s.validations == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	requestHash := c.Param("request_hash")
	request, err := s.validations.GetRequest(c.Request.Context(), requestHash)
	if err != nil {
		writeError(c, err)
		return
	}
	out := validationResponse{Request: request}
	response, err := s.validations.GetResponse(c.Request.Context(), requestHash)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(c, err)
		return
	}
	out.Response = response
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListQuarantine(c *gin.Context) {
	if s.quarantine == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := s.quarantine.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarantine": records})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	if s.orch == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if req.ArtifactHash == "" || req.Client == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_TASK", "client and artifact_hash are required")
		return
	}
	task, err := s.orch.CreateTask(c.Request.Context(), domain.AgentID(req.AgentID), domain.Address(req.Client), req.ArtifactURI, req.ArtifactHash)
	if err != nil {
		writeError(c, err)
		return
	}
	go func(id string) {
		if err := s.orch.RunTask(context.Background(), id); err != nil {
			log.Printf("http: run task %s: %v", id, err)
		}
	}(task.ID)
	c.JSON(http.StatusAccepted, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	if s.taskStore == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	tasks, err := s.taskStore.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	if s.taskStore == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	task, err := s.taskStore.Get(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleTaskAudit(c *gin.Context) {
	if s.auditTrail == nil {
		writeError(c, domain.ErrNotFound)
		return
	}
	entries, err := s.auditTrail.ListByTask(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries})
}

func parseAgentID(c *gin.Context) (domain.AgentID, bool) {
	raw := c.Param("agent_id")
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_AGENT_ID", "agent id must be a decimal integer")
		return 0, false
	}
	return domain.AgentID(parsed), true
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrStaleAuthorization):
		status, code = http.StatusConflict, "STALE_AUTHORIZATION"
	case domain.IsRejected(err):
		status, code = http.StatusUnprocessableEntity, "CHAIN_REJECTED"
	case domain.IsTransient(err):
		status, code = http.StatusServiceUnavailable, "CHAIN_UNAVAILABLE"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
