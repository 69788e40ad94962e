package service

import (
	"context"
	"time"

	"deepquant/internal/model"
	"deepquant/internal/parser"
	"deepquant/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPolicyName is used when a save request does not name the policy.
const DefaultPolicyName = "Quant Policy"

// PolicyService handles saving and retrieving strategy policies.
type PolicyService struct {
	store  repository.PolicyStore
	parser *parser.Parser
	logger *zap.Logger
}

// NewPolicyService creates a new policy service.
func NewPolicyService(store repository.PolicyStore, p *parser.Parser, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		store:  store,
		parser: p,
		logger: logger,
	}
}

// Create parses prompt into a strategy configuration and persists it as
// a named policy. Parse failures surface synchronously to the caller.
func (s *PolicyService) Create(ctx context.Context, prompt, name string) (*model.Policy, error) {
	parsed, err := s.parser.Parse(prompt)
	if err != nil {
		return nil, err
	}
	for _, w := range parsed.Warnings {
		s.logger.Warn("Prompt parsed with warning", zap.String("warning", w))
	}

	if name == "" {
		name = DefaultPolicyName
	}

	policy := &model.Policy{
		PolicyID:  uuid.New().String(),
		Name:      name,
		Prompt:    prompt,
		Config:    parsed.Config,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, policy); err != nil {
		return nil, err
	}

	s.logger.Info("Policy created",
		zap.String("policyID", policy.PolicyID),
		zap.String("symbol", policy.Config.Symbol))
	return policy, nil
}

// Get retrieves a policy by ID.
func (s *PolicyService) Get(ctx context.Context, policyID string) (*model.Policy, error) {
	return s.store.Get(ctx, policyID)
}

// List retrieves all saved policies.
func (s *PolicyService) List(ctx context.Context) ([]model.Policy, error) {
	return s.store.List(ctx)
}

// Delete removes a policy by ID.
func (s *PolicyService) Delete(ctx context.Context, policyID string) error {
	return s.store.Delete(ctx, policyID)
}
