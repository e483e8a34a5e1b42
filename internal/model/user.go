package model

import "time"

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is one registered account in the system store.
type User struct {
	ID          string     `db:"id" json:"user_id"`
	Email       string     `db:"email" json:"email"`
	DisplayName string     `db:"display_name" json:"display_name,omitempty"`
	Role        string     `db:"role" json:"role"`
	Active      bool       `db:"active" json:"active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastLogin   *time.Time `db:"last_login" json:"last_login,omitempty"`
}

// UserSession is a validated login. Expiration is enforced on every validate.
type UserSession struct {
	SessionID    string    `db:"session_id" json:"session_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Created      time.Time `db:"created_at" json:"created_at"`
	Expires      time.Time `db:"expires_at" json:"expires_at"`
	LastAccessed time.Time `db:"last_accessed" json:"last_accessed"`
	IP           string    `db:"ip" json:"ip,omitempty"`
	Agent        string    `db:"agent" json:"agent,omitempty"`
	IsValid      bool      `db:"is_valid" json:"is_valid"`
}

// UserContext is the immutable authenticated principal carried by every
// operation. It is produced by the user plane after session validation and
// is the unit of isolation.
type UserContext struct {
	UserID      string   `json:"user_id"`
	SessionID   string   `json:"session_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IP          string   `json:"ip,omitempty"`
	Agent       string   `json:"agent,omitempty"`
}

// IsAdmin reports whether the context carries the admin role.
func (c UserContext) IsAdmin() bool {
	for _, r := range c.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// AuditEntry is one row of the append-only audit log. UserID is "system"
// for operations without a user principal.
type AuditEntry struct {
	ID           int64     `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Action       string    `db:"action" json:"action"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   string    `db:"resource_id" json:"resource_id"`
	Success      bool      `db:"success" json:"success"`
	Reason       string    `db:"reason" json:"reason,omitempty"`
	IP           string    `db:"ip" json:"ip,omitempty"`
	Agent        string    `db:"agent" json:"agent,omitempty"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
}
