package usecase

import (
	"context"
	"time"
)

// ReadinessCheck represents a single readiness probe result used by handlers.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

// HealthChecker is implemented by every optional backing store.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// NamedCheck pairs a dependency name with its checker.
type NamedCheck struct {
	Name    string
	Checker HealthChecker
}

// ReadinessService pings the configured backing stores.
type ReadinessService struct {
	Checks  []NamedCheck
	Timeout time.Duration
}

// NewReadinessService constructs a ReadinessService. Nil checkers are skipped
// so unconfigured stores never fail readiness.
func NewReadinessService(timeout time.Duration, checks ...NamedCheck) ReadinessService {
	var kept []NamedCheck
	for _, c := range checks {
		if c.Checker != nil {
			kept = append(kept, c)
		}
	}
	return ReadinessService{Checks: kept, Timeout: timeout}
}

// Readiness returns one result per configured dependency.
func (s ReadinessService) Readiness(ctx context.Context) []ReadinessCheck {
	out := make([]ReadinessCheck, 0, len(s.Checks))
	for _, c := range s.Checks {
		cctx, cancel := ctx, context.CancelFunc(func() {})
		if s.Timeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, s.Timeout)
		}
		err := c.Checker.Ping(cctx)
		cancel()
		rc := ReadinessCheck{Name: c.Name, OK: err == nil}
		if err != nil {
			rc.Details = err.Error()
		}
		out = append(out, rc)
	}
	return out
}

// Ready reports whether every check passed.
func Ready(checks []ReadinessCheck) bool {
	for _, c := range checks {
		if !c.OK {
			return false
		}
	}
	return true
}
