package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the silence-removal job worker.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the job reaper for lease recovery and cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: worker, reaper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains worker service configuration.
type WorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// JobLease is the duration to lease a reserved job. A worker that
	// crashes mid-job releases it for redelivery when this expires.
	JobLease time.Duration `env:"WORKER_JOB_LEASE" envDefault:"10m"`

	// RateLimit is the maximum number of job starts per rate window,
	// counted across all worker processes.
	RateLimit int `env:"WORKER_RATE_LIMIT" envDefault:"10"`

	// RateWindow is the rate limiter window size.
	RateWindow time.Duration `env:"WORKER_RATE_WINDOW" envDefault:"1m"`

	// ShutdownGrace bounds how long in-flight jobs may keep running after
	// shutdown starts.
	ShutdownGrace time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"30s"`

	// ThrottleDelay is slept between rate-limited reservation attempts.
	ThrottleDelay time.Duration `env:"WORKER_THROTTLE_DELAY" envDefault:"1s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.JobLease < 30*time.Second {
		w.JobLease = 30 * time.Second
	}
	if w.RateLimit < 1 {
		w.RateLimit = 1
	}
	if w.RateWindow < time.Second {
		w.RateWindow = time.Second
	}
	if w.ShutdownGrace < time.Second {
		w.ShutdownGrace = time.Second
	}
	if w.ThrottleDelay <= 0 {
		w.ThrottleDelay = time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// RetentionMaxAge is the maximum age for terminal jobs before deletion.
	RetentionMaxAge time.Duration `env:"REAPER_RETENTION_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to delete per sweep.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.RetentionMaxAge < time.Hour {
		r.RetentionMaxAge = time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
