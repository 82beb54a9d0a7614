package models

import (
	"time"
)

// Provider identifiers for flow_providers.provider_id.
const (
	ProviderSlack    = "slack"
	ProviderEmail    = "email"
	ProviderWhatsApp = "whatsapp"
)

// Provider connection states.
const (
	ProviderStatusPending   = "pending"
	ProviderStatusConnected = "connected"
)

// Provider is a per-organization, per-channel connection record. Credentials
// is an opaque blob whose shape depends on the provider (for Slack it holds
// "webhook_url").
type Provider struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organizacion_id"`
	ProviderID     string         `json:"provider_id"`
	Status         string         `json:"status"`
	Credentials    map[string]any `json:"credentials"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// WebhookURL returns the Slack webhook URL from the credentials blob, or ""
// when the provider is not connected or carries none.
func (p *Provider) WebhookURL() string {
	if p == nil || p.Status != ProviderStatusConnected {
		return ""
	}
	if u, ok := p.Credentials["webhook_url"].(string); ok {
		return u
	}
	return ""
}
