package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

// CredentialService manages API keys and webhook endpoints. Plaintext
// secrets are returned exactly once, at creation or rotation.
type CredentialService struct {
	repo repository.Repository
}

func NewCredentialService(repo repository.Repository) *CredentialService {
	return &CredentialService{repo: repo}
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateAPIKey registers a producing system and returns the key record
// plus the full plaintext key.
func (s *CredentialService) CreateAPIKey(ctx context.Context, req models.CreateAPIKeyRequest) (*models.APIKey, string, error) {
	if req.Name == "" {
		return nil, "", fmt.Errorf("name is required")
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{models.ScopeEventsWrite}
	}

	id, err := randomHex(6)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash secret: %w", err)
	}

	key := &models.APIKey{
		ID:        id,
		Name:      req.Name,
		KeyHash:   string(hash),
		Scopes:    req.Scopes,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	return key, keyPrefix + id + "." + secret, nil
}

func (s *CredentialService) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	return s.repo.ListAPIKeys(ctx)
}

// SetAPIKeyActive flips a key on or off. Deactivation takes effect on
// the next request; there is no session to invalidate.
func (s *CredentialService) SetAPIKeyActive(ctx context.Context, id string, active bool) (*models.APIKey, error) {
	key, err := s.repo.GetAPIKey(ctx, id)
	if err != nil {
		return nil, err
	}
	key.Active = active
	if err := s.repo.UpdateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("update api key: %w", err)
	}
	return key, nil
}

// CreateEndpoint registers a downstream target with a fresh secret.
func (s *CredentialService) CreateEndpoint(ctx context.Context, req models.CreateEndpointRequest) (*models.WebhookEndpoint, string, error) {
	if req.SystemName == "" || req.URL == "" {
		return nil, "", fmt.Errorf("system_name and url are required")
	}

	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}
	secret = "whsec_" + secret

	now := time.Now().UTC()
	endpoint := &models.WebhookEndpoint{
		ID:         uuid.NewString(),
		SystemName: req.SystemName,
		URL:        req.URL,
		Secret:     secret,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateEndpoint(ctx, endpoint); err != nil {
		return nil, "", err
	}
	return endpoint, secret, nil
}

func (s *CredentialService) ListEndpoints(ctx context.Context, activeOnly bool) ([]*models.WebhookEndpoint, error) {
	return s.repo.ListEndpoints(ctx, activeOnly)
}

func (s *CredentialService) GetEndpoint(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	return s.repo.GetEndpoint(ctx, id)
}

// UpdateEndpoint changes the URL or active flag, leaving the secret
// alone.
func (s *CredentialService) UpdateEndpoint(ctx context.Context, id string, req models.UpdateEndpointRequest) (*models.WebhookEndpoint, error) {
	endpoint, err := s.repo.GetEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.URL != nil {
		endpoint.URL = *req.URL
	}
	if req.Active != nil {
		endpoint.Active = *req.Active
	}
	endpoint.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateEndpoint(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("update endpoint: %w", err)
	}
	return endpoint, nil
}

// RotateEndpointSecret replaces the secret in one write. The old
// secret stops verifying the moment the new one is stored.
func (s *CredentialService) RotateEndpointSecret(ctx context.Context, id string) (*models.WebhookEndpoint, string, error) {
	endpoint, err := s.repo.GetEndpoint(ctx, id)
	if err != nil {
		return nil, "", err
	}

	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}
	secret = "whsec_" + secret

	endpoint.Secret = secret
	endpoint.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateEndpoint(ctx, endpoint); err != nil {
		return nil, "", fmt.Errorf("rotate secret: %w", err)
	}
	return endpoint, secret, nil
}
