package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/server"
)

// --- authenticate ---

type authenticateInput struct {
	Email    string `json:"email" jsonschema:"Email of the registered user to authenticate"`
	State    string `json:"state,omitempty" jsonschema:"OAuth state returned by the first authenticate call"`
	AuthCode string `json:"auth_code,omitempty" jsonschema:"Authorization code from the Google consent page"`
}

func registerAuthenticate(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "authenticate",
		Description: "Authenticate a user with Google. Call once with just the email to get a " +
			"consent URL and state, then again with state and auth_code to obtain a session.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input authenticateInput) (*mcp.CallToolResult, any, error) {
		u, err := d.Users.GetUserByEmail(ctx, input.Email)
		if err != nil {
			return nil, nil, d.fail(err)
		}

		// Phase 1: hand out the consent URL.
		if input.AuthCode == "" {
			authURL, state, err := d.Auth.StartAuth(u.ID, provider.Scopes)
			if err != nil {
				return nil, nil, d.fail(err)
			}
			res, err := jsonResult(map[string]any{
				"success":  true,
				"auth_url": authURL,
				"state":    state,
			})
			return res, nil, err
		}

		// Phase 2: exchange the code and open a session.
		userID, err := d.Auth.CompleteAuth(ctx, input.State, input.AuthCode, provider.Scopes)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if userID != u.ID {
			return nil, nil, d.fail(model.Unauthorizedf("auth flow belongs to a different user"))
		}
		sess, err := d.Users.CreateSession(ctx, userID, "", "mcp")
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(map[string]any{
			"user_id":    userID,
			"session_id": sess.SessionID,
			"expires_at": sess.Expires,
		})
		return res, nil, err
	})
}

// --- register_user ---

type registerUserInput struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"Admin session. Omitted only when registering the very first user"`
	Email       string `json:"email" jsonschema:"Email address of the new user"`
	DisplayName string `json:"display_name,omitempty" jsonschema:"Optional display name"`
}

func registerRegisterUser(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "register_user",
		Description: "Register a new user. The first user ever registered becomes admin; " +
			"after that an admin session is required.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input registerUserInput) (*mcp.CallToolResult, any, error) {
		var actor *model.UserContext
		if input.SessionID != "" {
			uc, err := d.Users.ValidateSession(ctx, input.SessionID)
			if err != nil {
				return nil, nil, d.fail(err)
			}
			actor = uc
		}
		u, err := d.Users.RegisterUser(ctx, actor, input.Email, input.DisplayName)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(u)
		return res, nil, err
	})
}

// --- list_users ---

type listUsersInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
}

func registerListUsers(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "list_users",
		Description: "List registered users. Requires an admin session.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input listUsersInput) (*mcp.CallToolResult, any, error) {
		uc, err := d.Users.ValidateSession(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if !uc.IsAdmin() {
			return nil, nil, d.fail(model.Unauthorizedf("listing users requires an admin session"))
		}
		users, err := d.Users.ListUsers(ctx)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(users)
		return res, nil, err
	})
}

// --- get_user_profile ---

type getUserProfileInput struct {
	SessionID string `json:"session_id" jsonschema:"Session id of the caller"`
	UserID    string `json:"user_id,omitempty" jsonschema:"User to look up. Defaults to the caller; other users require admin"`
}

func registerGetUserProfile(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name:        "get_user_profile",
		Description: "Get a user's profile. Non-admin callers can only look up themselves.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input getUserProfileInput) (*mcp.CallToolResult, any, error) {
		uc, err := d.Users.ValidateSession(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		target := input.UserID
		if target == "" {
			target = uc.UserID
		}
		// The registry is system-owned: admins read any profile without an
		// owner claim; everyone else asserts ownership and fails on mismatch.
		owner := target
		if uc.IsAdmin() && target != uc.UserID {
			owner = ""
		}
		if !d.Users.ValidateAccess(ctx, uc, "user", target, "read", owner) {
			return nil, nil, d.fail(model.NotFoundf("user %s", target))
		}
		u, err := d.Users.GetUser(ctx, target)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(u)
		return res, nil, err
	})
}

// --- switch_user ---

type switchUserInput struct {
	SessionID string `json:"session_id" jsonschema:"Admin session id"`
	UserID    string `json:"user_id" jsonschema:"User to open a session for"`
}

func registerSwitchUser(srv *server.Server, d *Deps) {
	server.AddTool(srv, &mcp.Tool{
		Name: "switch_user",
		Description: "Open a session for another user without re-running OAuth. " +
			"Requires an admin session.",
		Annotations: &mcp.ToolAnnotations{},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input switchUserInput) (*mcp.CallToolResult, any, error) {
		uc, err := d.Users.ValidateSession(ctx, input.SessionID)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		if input.UserID != uc.UserID && !uc.IsAdmin() {
			return nil, nil, d.fail(model.Unauthorizedf("switching users requires an admin session"))
		}
		sess, err := d.Users.CreateSession(ctx, input.UserID, uc.IP, uc.Agent)
		if err != nil {
			return nil, nil, d.fail(err)
		}
		res, err := jsonResult(map[string]any{
			"user_id":    input.UserID,
			"session_id": sess.SessionID,
			"expires_at": sess.Expires,
		})
		return res, nil, err
	})
}
