package models

import "time"

// API key scopes. ScopeAll grants everything.
const (
	ScopeAll         = "*"
	ScopeEventsWrite = "events:write"
	ScopeEventsRead  = "events:read"
	ScopeAdmin       = "admin"
)

// APIKey identifies a producing system. The plaintext key is shown exactly
// once at creation; only the bcrypt hash of its secret half is stored.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	Scopes     []string   `json:"scopes"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// HasScope reports whether the key grants the requested scope. Admin
// keys pass every check.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAll || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// WebhookEndpoint is a registered downstream delivery target. The secret
// signs outbound payloads and is rotatable; rotation atomically invalidates
// the previous secret.
type WebhookEndpoint struct {
	ID         string    `json:"id"`
	SystemName string    `json:"system_name"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
