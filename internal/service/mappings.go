package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relaypoint-io/relaypoint/internal/mapping"
	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

// MappingService manages mapping versions and dry-run projections.
type MappingService struct {
	repo repository.Repository
}

func NewMappingService(repo repository.Repository) *MappingService {
	return &MappingService{repo: repo}
}

// Create registers a new mapping version for the pair and makes it the
// active one. Prior versions are kept for rollback and audit.
func (s *MappingService) Create(ctx context.Context, req models.CreateMappingRequest) (*models.EventMapping, error) {
	if req.EventType == "" || req.TargetSystem == "" {
		return nil, fmt.Errorf("event_type and target_system are required")
	}
	if err := mapping.ValidateRules(req.Rules); err != nil {
		return nil, err
	}

	m := &models.EventMapping{
		ID:           uuid.NewString(),
		EventType:    req.EventType,
		TargetSystem: req.TargetSystem,
		Rules:        req.Rules,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("create mapping: %w", err)
	}
	return m, nil
}

func (s *MappingService) Get(ctx context.Context, id string) (*models.EventMapping, error) {
	return s.repo.GetMapping(ctx, id)
}

func (s *MappingService) List(ctx context.Context, eventType, targetSystem string) ([]*models.EventMapping, error) {
	return s.repo.ListMappings(ctx, eventType, targetSystem)
}

// Test dry-runs a projection against the pair's active mapping without
// touching stored state. Returns the projected payload.
func (s *MappingService) Test(ctx context.Context, req models.TestMappingRequest) (json.RawMessage, *models.EventMapping, error) {
	m, err := s.repo.GetActiveMapping(ctx, req.EventType, req.TargetSystem)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve mapping: %w", err)
	}
	if m == nil {
		return nil, nil, mapping.ErrNoMapping
	}

	projected, err := mapping.Apply(m.Rules, req.Fields)
	if err != nil {
		return nil, nil, err
	}
	return projected, m, nil
}
