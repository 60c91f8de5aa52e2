// Package access implements the role-based access-control layer: role to
// permission-set mapping, session lifecycle, and a permission gate wrapped
// around sensitive operations.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/errs"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// AuditSink receives RBAC audit blocks. internal/chain.Chain satisfies
// this directly.
type AuditSink interface {
	Add(data map[string]any) (string, error)
}

// Decision records the outcome of a single permission check, for callers
// that want it beyond what's already written to the audit sink.
type Decision struct {
	SessionID  string
	Role       types.Role
	Permission types.Permission
	Granted    bool
	Resource   string
	Reason     string
}

// Manager owns the set of live sessions, enforces their permissions, and
// writes every lifecycle and access event to an audit sink.
type Manager struct {
	mu       sync.Mutex
	logger   *zap.Logger
	chain    AuditSink
	sandbox  Sandbox
	sessions map[string]*Session

	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// NewManager constructs a Manager. sandbox may be nil, in which case a
// LocalSandbox is used for any session with RequiresSandbox() true.
func NewManager(logger *zap.Logger, chain AuditSink, sandbox Sandbox) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sandbox == nil {
		sandbox = LocalSandbox{}
	}
	return &Manager{
		logger:   logger.Named("access"),
		chain:    chain,
		sandbox:  sandbox,
		sessions: make(map[string]*Session),
	}
}

// CreateSession registers a new session and logs session_created.
func (m *Manager) CreateSession(sessionType types.SessionType, role types.Role, userID string, allowedPortfolios []string, maxToolCalls, timeoutSeconds int, ttl time.Duration) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	s := &Session{
		ID:                fmt.Sprintf("%s:%s", sessionType, uuid.NewString()[:8]),
		Type:              sessionType,
		Role:              role,
		UserID:            userID,
		AllowedPortfolios: allowedPortfolios,
		SandboxMode:       sandboxedSessionTypes[sessionType],
		MaxToolCalls:      maxToolCalls,
		TimeoutSeconds:    timeoutSeconds,
		CreatedAt:         now,
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}
	m.sessions[s.ID] = s

	m.logEvent("session_created", s, "", "")
	return s
}

// CreateAdvisorSession creates a full-access, unrestricted, host-process
// session for a human advisor.
func (m *Manager) CreateAdvisorSession(userID string, ttl time.Duration) *Session {
	return m.CreateSession(types.SessionAdvisorMain, types.RoleHumanAdvisor, userID, nil, 100, 3600, ttl)
}

// CreateAnalystSession creates a read-only, sandboxed session scoped to
// allowedPortfolios.
func (m *Manager) CreateAnalystSession(userID string, allowedPortfolios []string, ttl time.Duration) *Session {
	return m.CreateSession(types.SessionAnalyst, types.RoleAnalyst, userID, allowedPortfolios, 20, 300, ttl)
}

// CreateAgentSession creates a session for an internal analysis agent
// (drift, tax, coordinator) that inherits its parent session's portfolio
// scope and expiry rather than getting its own.
func (m *Manager) CreateAgentSession(role types.Role, parent *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	s := &Session{
		ID:                fmt.Sprintf("%s:%s", role, uuid.NewString()[:8]),
		Type:              types.SessionSystem,
		Role:              role,
		AllowedPortfolios: parent.AllowedPortfolios,
		SandboxMode:       false,
		MaxToolCalls:      50,
		TimeoutSeconds:    parent.TimeoutSeconds,
		CreatedAt:         now,
		ExpiresAt:         parent.ExpiresAt,
	}
	m.sessions[s.ID] = s
	m.logEvent("session_created", s, "", "")
	return s
}

// Get returns a live session by id.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", errs.ErrNotFound, sessionID)
	}
	return s, nil
}

// Terminate ends a session and logs session_terminated with its metrics.
func (m *Manager) Terminate(sessionID string) error {
	return m.end(sessionID, "session_terminated")
}

func (m *Manager) end(sessionID, eventType string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: session %s", errs.ErrNotFound, sessionID)
	}

	metrics := s.Snapshot(time.Now().UTC())
	m.logEvent(eventType, s, "", "", map[string]any{
		"tool_calls":         metrics.ToolCalls,
		"permission_checks":  metrics.PermissionChecks,
		"permission_denials": metrics.PermissionDenials,
		"portfolio_accesses": metrics.PortfolioAccesses,
		"duration_seconds":   metrics.Duration.Seconds(),
	})
	return nil
}

// Cleanup removes every expired session, logging session_expired for each.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.IsExpired() {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.end(id, "session_expired")
	}
	return len(expired)
}

// StartCleanupLoop runs Cleanup on an interval until ctx is canceled or
// StopCleanupLoop is called.
func (m *Manager) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	m.stopCleanup = make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCleanup:
				return
			case <-ticker.C:
				if n := m.Cleanup(); n > 0 {
					m.logger.Info("expired sessions swept", zap.Int("count", n))
				}
			}
		}
	}()
}

// StopCleanupLoop stops a running cleanup loop. Safe to call more than once.
func (m *Manager) StopCleanupLoop() {
	m.cleanupOnce.Do(func() {
		if m.stopCleanup != nil {
			close(m.stopCleanup)
		}
	})
}

// Enforce checks session against (portfolioID, perm), logs the decision,
// and runs op only if access is granted. Untrusted session types are
// routed through the configured Sandbox; trusted sessions run op directly.
func (m *Manager) Enforce(ctx context.Context, session *Session, portfolioID string, perm types.Permission, action string, op GuardedOp) (any, error) {
	err := session.ValidateAccess(portfolioID, perm)
	session.recordPermissionCheck(err != nil)
	if portfolioID != "" && err == nil {
		session.recordPortfolioAccess()
	}

	if err != nil {
		m.logEvent("permission_denied", session, portfolioID, action, map[string]any{
			"required_permission": string(perm),
		})
		return nil, err
	}

	m.logEvent("access_granted", session, portfolioID, action, map[string]any{
		"permission": string(perm),
	})

	if session.RequiresSandbox() {
		return m.sandbox.Execute(ctx, session, op)
	}
	return op(session)
}

func (m *Manager) logEvent(eventType string, s *Session, portfolioID, action string, extra ...map[string]any) {
	if m.chain == nil {
		return
	}
	data := map[string]any{
		"event_type": eventType,
		"session_id": s.ID,
		"actor":      s.ID,
		"action":     firstNonEmpty(action, eventType),
		"role":       string(s.Role),
	}
	if portfolioID != "" {
		data["resource"] = portfolioID
	}
	for _, e := range extra {
		for k, v := range e {
			data[k] = v
		}
	}
	if _, err := m.chain.Add(data); err != nil {
		m.logger.Warn("failed to write audit block", zap.String("event_type", eventType), zap.Error(err))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns a snapshot slice of every live session id.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
