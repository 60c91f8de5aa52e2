package access

import (
	"fmt"
	"sync"
	"time"

	"github.com/sentinel-uhnw/sentinel/internal/errs"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// Metrics accumulates per-session activity, attached to the session's
// termination audit block.
type Metrics struct {
	ToolCalls         int           `json:"tool_calls"`
	PermissionChecks  int           `json:"permission_checks"`
	PermissionDenials int           `json:"permission_denials"`
	PortfolioAccesses int           `json:"portfolio_accesses"`
	Duration          time.Duration `json:"duration"`
}

// Session is a lifecycle-bounded principal: a role, a permission set
// derived from that role, an optional portfolio scope, and a sandbox flag.
type Session struct {
	mu sync.Mutex

	ID                string
	Type              types.SessionType
	Role              types.Role
	UserID            string
	AllowedPortfolios []string // nil means unrestricted
	SandboxMode       bool
	MaxToolCalls      int
	TimeoutSeconds    int
	CreatedAt         time.Time
	ExpiresAt         time.Time

	metrics Metrics
}

// HasPermission reports whether the session's role grants perm. Admin is a
// wildcard: every permission check against it succeeds.
func (s *Session) HasPermission(perm types.Permission) bool {
	if s.Role == types.RoleAdmin {
		return true
	}
	return permissionsFor(s.Role)[perm]
}

// CanAccessPortfolio reports whether the session may touch portfolioID.
// A nil AllowedPortfolios means the session is unrestricted.
func (s *Session) CanAccessPortfolio(portfolioID string) bool {
	if s.AllowedPortfolios == nil {
		return true
	}
	for _, id := range s.AllowedPortfolios {
		if id == portfolioID {
			return true
		}
	}
	return false
}

// IsExpired reports whether the session's expiry has passed.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// RequiresSandbox reports whether this session's type must run through a
// Sandbox collaborator rather than directly on the host process.
func (s *Session) RequiresSandbox() bool {
	return sandboxedSessionTypes[s.Type]
}

// ValidateAccess raises ErrPermissionDenied if the session is expired, the
// portfolio is out of scope, or the permission is missing.
func (s *Session) ValidateAccess(portfolioID string, perm types.Permission) error {
	if s.IsExpired() {
		return fmt.Errorf("%w: session %s expired", errs.ErrPermissionDenied, s.ID)
	}
	if portfolioID != "" && !s.CanAccessPortfolio(portfolioID) {
		return fmt.Errorf("%w: session %s has no access to portfolio %s", errs.ErrPermissionDenied, s.ID, portfolioID)
	}
	if !s.HasPermission(perm) {
		return fmt.Errorf("%w: session %s (role %s) lacks permission %s", errs.ErrPermissionDenied, s.ID, s.Role, perm)
	}
	return nil
}

// RecordToolCall increments the tool-call counter and reports whether the
// session is still within MaxToolCalls. Callers should refuse further tool
// execution once this returns false.
func (s *Session) RecordToolCall() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.ToolCalls++
	if s.MaxToolCalls <= 0 {
		return true
	}
	return s.metrics.ToolCalls <= s.MaxToolCalls
}

func (s *Session) recordPermissionCheck(denied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.PermissionChecks++
	if denied {
		s.metrics.PermissionDenials++
	}
}

func (s *Session) recordPortfolioAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.PortfolioAccesses++
}

// Snapshot returns a copy of the session's current metrics, with Duration
// computed against now.
func (s *Session) Snapshot(now time.Time) Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	m.Duration = now.Sub(s.CreatedAt)
	return m
}
