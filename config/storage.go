package config

import (
	"strings"
	"time"
)

// StorageConfig contains object storage configuration. Source uploads and
// finished outputs live in a single Supabase storage bucket.
type StorageConfig struct {
	// URL is the storage endpoint, e.g. https://<project>.supabase.co/storage/v1.
	URL string `env:"URL"`

	// ServiceKey is the service-role API key.
	ServiceKey string `env:"SERVICE_KEY"`

	// Bucket holds both source uploads and finished outputs.
	Bucket string `env:"BUCKET" envDefault:"videos"`

	// SignedURLTTL bounds how long completion download links stay valid.
	SignedURLTTL time.Duration `env:"SIGNED_URL_TTL" envDefault:"24h"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	s.URL = strings.TrimSpace(s.URL)
	s.ServiceKey = strings.TrimSpace(s.ServiceKey)
	s.Bucket = strings.TrimSpace(s.Bucket)
	if s.Bucket == "" {
		s.Bucket = "videos"
	}
	if s.SignedURLTTL < time.Minute {
		s.SignedURLTTL = time.Minute
	}
}
