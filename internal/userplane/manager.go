// Package userplane owns the user registry, session lifecycle, access
// control, and the file-export subsystem. It is the boundary every operation
// crosses before touching user data: components accept a UserContext only
// after this package has validated it.
package userplane

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/store"
)

// DefaultSessionTTL is how long a session stays valid without renewal.
const DefaultSessionTTL = 24 * time.Hour

// Manager is the user plane. One instance serves the whole process.
type Manager struct {
	system     *store.SystemStore
	factory    *store.Factory
	log        *zap.Logger
	sessionTTL time.Duration
	now        func() time.Time
}

// NewManager builds the user plane over the system store and the per-user
// store factory.
func NewManager(system *store.SystemStore, factory *store.Factory, log *zap.Logger) *Manager {
	return &Manager{
		system:     system,
		factory:    factory,
		log:        log.Named("userplane"),
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
}

// RegisterUser creates a user. When no user exists yet, registration needs no
// authenticated context and produces an admin; afterwards only an admin may
// register users.
func (m *Manager) RegisterUser(ctx context.Context, actor *model.UserContext, email, displayName string) (*model.User, error) {
	count, err := m.system.CountUsers(ctx)
	if err != nil {
		return nil, err
	}

	role := model.RoleUser
	switch {
	case count == 0:
		role = model.RoleAdmin
	case actor == nil || !actor.IsAdmin():
		m.audit(ctx, actor, "register_user", "user", email, false, "admin required")
		return nil, model.Unauthorizedf("registering users requires an admin session")
	}

	u := &model.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		Active:      true,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.system.InsertUser(ctx, u); err != nil {
		return nil, err
	}

	// Provision the per-user database eagerly so first use is cheap.
	if _, err := m.factory.ForUser(u.ID); err != nil {
		return nil, err
	}

	m.audit(ctx, actor, "register_user", "user", u.ID, true, "")
	m.log.Info("user registered",
		zap.String("user_id", u.ID),
		zap.String("role", role))
	return u, nil
}

// GetUser returns a user profile.
func (m *Manager) GetUser(ctx context.Context, id string) (*model.User, error) {
	return m.system.GetUser(ctx, id)
}

// GetUserByEmail returns a user profile by email.
func (m *Manager) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.system.GetUserByEmail(ctx, email)
}

// ListUsers returns all registered users.
func (m *Manager) ListUsers(ctx context.Context) ([]*model.User, error) {
	return m.system.ListUsers(ctx)
}

// DeleteUser removes a user, their sessions, and their data. Admin only.
func (m *Manager) DeleteUser(ctx context.Context, actor *model.UserContext, userID string) error {
	if actor == nil || !actor.IsAdmin() {
		m.audit(ctx, actor, "delete_user", "user", userID, false, "admin required")
		return model.Unauthorizedf("deleting users requires an admin session")
	}
	if err := m.system.DeleteUser(ctx, userID); err != nil {
		return err
	}
	if err := m.factory.DeleteUserData(userID); err != nil {
		return err
	}
	m.audit(ctx, actor, "delete_user", "user", userID, true, "")
	return nil
}

// CreateSession opens a session for a user after external authentication.
func (m *Manager) CreateSession(ctx context.Context, userID, ip, agent string) (*model.UserSession, error) {
	u, err := m.system.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, model.Unauthorizedf("user %s is deactivated", userID)
	}

	now := m.now().UTC()
	sess := &model.UserSession{
		SessionID:    uuid.NewString(),
		UserID:       u.ID,
		Created:      now,
		Expires:      now.Add(m.sessionTTL),
		LastAccessed: now,
		IP:           ip,
		Agent:        agent,
		IsValid:      true,
	}
	if err := m.system.InsertSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := m.system.TouchLastLogin(ctx, u.ID, now); err != nil {
		return nil, err
	}
	m.audit(ctx, &model.UserContext{UserID: u.ID, SessionID: sess.SessionID, IP: ip, Agent: agent},
		"create_session", "session", sess.SessionID, true, "")
	return sess, nil
}

// ValidateSession checks a session and returns the authenticated context.
// Expiration is enforced on every call.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*model.UserContext, error) {
	sess, err := m.system.GetSession(ctx, sessionID)
	if err != nil {
		return nil, model.Unauthorizedf("invalid session")
	}
	now := m.now().UTC()
	if !sess.IsValid || now.After(sess.Expires) {
		if sess.IsValid {
			sess.IsValid = false
			_ = m.system.UpdateSession(ctx, sess)
		}
		return nil, model.Unauthorizedf("session expired")
	}

	sess.LastAccessed = now
	if err := m.system.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}

	u, err := m.system.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, model.Unauthorizedf("invalid session")
	}
	return &model.UserContext{
		UserID:    u.ID,
		SessionID: sess.SessionID,
		Roles:     []string{u.Role},
		IP:        sess.IP,
		Agent:     sess.Agent,
	}, nil
}

// InvalidateSession ends a session.
func (m *Manager) InvalidateSession(ctx context.Context, sessionID string) error {
	sess, err := m.system.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.IsValid = false
	return m.system.UpdateSession(ctx, sess)
}

// ValidateAccess is the central allow/deny decision. Owner mismatch always
// denies; system_config requires the admin role. Every attempt, allowed or
// not, lands in the audit log.
func (m *Manager) ValidateAccess(ctx context.Context, uc *model.UserContext, resourceType, resourceID, operation, ownerID string) bool {
	allowed, reason := m.decide(uc, resourceType, ownerID)
	m.audit(ctx, uc, operation, resourceType, resourceID, allowed, reason)
	if !allowed {
		m.log.Warn("access denied",
			zap.String("user_id", userIDOf(uc)),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.String("reason", reason))
	}
	return allowed
}

func (m *Manager) decide(uc *model.UserContext, resourceType, ownerID string) (bool, string) {
	if uc == nil || uc.UserID == "" {
		return false, "no authenticated context"
	}
	if resourceType == "system_config" && !uc.IsAdmin() {
		return false, "system_config requires admin role"
	}
	// Owner mismatch denies regardless of role; the admin role elevates
	// system_config access only.
	if ownerID != "" && ownerID != uc.UserID {
		return false, "owner mismatch"
	}
	return true, ""
}

// StoreFor returns the per-user store for a validated context.
func (m *Manager) StoreFor(uc *model.UserContext) (*store.UserStore, error) {
	if uc == nil || uc.UserID == "" {
		return nil, model.Unauthorizedf("no authenticated context")
	}
	return m.factory.ForUser(uc.UserID)
}

// Audit exposes the audit trail for admin inspection.
func (m *Manager) Audit(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	return m.system.ListAudit(ctx, userID, limit)
}

func (m *Manager) audit(ctx context.Context, uc *model.UserContext, action, resourceType, resourceID string, success bool, reason string) {
	e := &model.AuditEntry{
		UserID:       userIDOf(uc),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      success,
		Reason:       reason,
		Timestamp:    m.now().UTC(),
	}
	if uc != nil {
		e.IP = uc.IP
		e.Agent = uc.Agent
	}
	if err := m.system.AppendAudit(ctx, e); err != nil {
		m.log.Error("audit append failed", zap.Error(err))
	}
}

func userIDOf(uc *model.UserContext) string {
	if uc == nil {
		return ""
	}
	return uc.UserID
}
