package config

import (
	"strings"
	"time"
)

// MailerConfig contains the transactional email provider configuration.
// Outcome emails are best-effort; with Enabled false (or no endpoint) the
// worker runs without them.
type MailerConfig struct {
	Enabled bool `env:"ENABLED" envDefault:"false"`

	// Endpoint is the provider's message API, e.g. https://api.example.com/v1/messages.
	Endpoint string `env:"ENDPOINT"`

	// APIKey is sent as a bearer token.
	APIKey string `env:"API_KEY"`

	// From is the sender address for all outcome emails.
	From string `env:"FROM" envDefault:"QuietCut <no-reply@quietcut.app>"`

	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"10s"`
	RetryLimit int           `env:"RETRY_LIMIT" envDefault:"2"`
}

// Sanitize normalises mailer configuration values.
func (m *MailerConfig) Sanitize() {
	m.Endpoint = strings.TrimSpace(m.Endpoint)
	m.APIKey = strings.TrimSpace(m.APIKey)
	if m.Endpoint == "" || m.APIKey == "" {
		m.Enabled = false
	}
	if m.Timeout <= 0 {
		m.Timeout = 10 * time.Second
	}
	if m.RetryLimit < 0 {
		m.RetryLimit = 0
	}
}
