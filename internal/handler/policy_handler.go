package handler

import (
	"errors"
	"net/http"

	"deepquant/internal/model"
	"deepquant/internal/parser"
	"deepquant/internal/repository"
	"deepquant/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PolicyHandler handles policy HTTP requests.
type PolicyHandler struct {
	policyService *service.PolicyService
	logger        *zap.Logger
}

// NewPolicyHandler creates a new policy handler.
func NewPolicyHandler(policyService *service.PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		policyService: policyService,
		logger:        logger,
	}
}

// CreatePolicy handles parsing a prompt and saving it as a policy.
func (h *PolicyHandler) CreatePolicy(c *gin.Context) {
	var request model.PolicyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := h.policyService.Create(c.Request.Context(), request.Prompt, request.Name)
	if err != nil {
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  parseErr.Message,
				"reason": parseErr.Reason,
			})
			return
		}
		h.logger.Error("Failed to create policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save policy"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"policy_id": policy.PolicyID,
		"config":    policy.Config,
	})
}

// ListPolicies handles listing all saved policies.
func (h *PolicyHandler) ListPolicies(c *gin.Context) {
	policies, err := h.policyService.List(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list policies", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve policies"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policies": policies})
}

// GetPolicy handles retrieving a policy by ID.
func (h *PolicyHandler) GetPolicy(c *gin.Context) {
	policy, err := h.policyService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Policy not found"})
			return
		}
		h.logger.Error("Failed to get policy",
			zap.Error(err),
			zap.String("policyID", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve policy"})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// DeletePolicy handles removing a policy by ID.
func (h *PolicyHandler) DeletePolicy(c *gin.Context) {
	err := h.policyService.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Policy not found"})
			return
		}
		h.logger.Error("Failed to delete policy",
			zap.Error(err),
			zap.String("policyID", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete policy"})
		return
	}

	c.Status(http.StatusNoContent)
}
