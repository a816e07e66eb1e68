package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaypoint-io/relaypoint/internal/models"
	"github.com/relaypoint-io/relaypoint/internal/repository"
)

const keyPrefix = "rp_"

// Principal is an authenticated caller, either an API key or a JWT
// subject.
type Principal struct {
	ID     string
	Name   string
	Scopes []string
}

func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == models.ScopeAll || s == models.ScopeAdmin || s == scope {
			return true
		}
	}
	return false
}

// Authenticator resolves API keys and bearer tokens into principals.
type Authenticator struct {
	repo      repository.Repository
	jwtSecret []byte
}

func NewAuthenticator(repo repository.Repository, jwtSecret string) *Authenticator {
	return &Authenticator{repo: repo, jwtSecret: []byte(jwtSecret)}
}

// Authenticate tries the API key first, then the bearer token. Both
// absent means ErrUnauthenticated.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey, bearer string) (*Principal, error) {
	if apiKey != "" {
		return a.authenticateKey(ctx, apiKey)
	}
	if bearer != "" {
		return a.authenticateToken(bearer)
	}
	return nil, ErrUnauthenticated
}

// API keys look like rp_<id>.<secret>. Only a bcrypt hash of the
// secret half is stored, so a leaked database cannot mint keys.
func (a *Authenticator) authenticateKey(ctx context.Context, raw string) (*Principal, error) {
	if !strings.HasPrefix(raw, keyPrefix) {
		return nil, ErrUnauthenticated
	}
	id, secret, found := strings.Cut(strings.TrimPrefix(raw, keyPrefix), ".")
	if !found || id == "" || secret == "" {
		return nil, ErrUnauthenticated
	}

	key, err := a.repo.GetAPIKey(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !key.Active {
		return nil, ErrUnauthenticated
	}
	if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)) != nil {
		return nil, ErrUnauthenticated
	}

	// Best effort, an ingest must not fail on a bookkeeping write.
	_ = a.repo.TouchAPIKey(ctx, key.ID, time.Now().UTC())

	return &Principal{ID: key.ID, Name: key.Name, Scopes: key.Scopes}, nil
}

type tokenClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

func (a *Authenticator) authenticateToken(bearer string) (*Principal, error) {
	if len(a.jwtSecret) == 0 {
		return nil, ErrUnauthenticated
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}

	return &Principal{ID: claims.Subject, Name: claims.Subject, Scopes: claims.Scopes}, nil
}

// IssueToken mints a short-lived management token carrying the given
// scopes. Used by operators that prefer bearer auth over API keys.
func (a *Authenticator) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	if len(a.jwtSecret) == 0 {
		return "", fmt.Errorf("jwt secret not configured")
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(a.jwtSecret)
}
