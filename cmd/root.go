// Package cmd implements the CLI commands for mailsteward.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mailsteward/mailsteward/internal/app"
	"github.com/mailsteward/mailsteward/internal/config"
	"github.com/mailsteward/mailsteward/internal/model"
	"github.com/mailsteward/mailsteward/internal/provider"
	"github.com/mailsteward/mailsteward/internal/server"
	"github.com/mailsteward/mailsteward/internal/tools"
)

var (
	configFile string
	version    = "dev"
)

// SetVersion sets the version string used in the CLI and MCP server.
func SetVersion(v string) {
	version = v
}

// loadApp builds the component graph from config. Failures here, including
// database migrations, abort the command.
func loadApp() (*app.App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}

// newLogger builds a zap logger writing to stderr; stdout carries the MCP
// stdio transport.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mailsteward",
		Short: "Mail lifecycle MCP server for Gmail",
		Long: `mailsteward is a Model Context Protocol (MCP) server that manages the
lifecycle of a Gmail mailbox: categorization, staleness scoring, policy-driven
cleanup with safety checks, archival with export, and background automation.

Setup:
  1. Create OAuth credentials at https://console.cloud.google.com/apis/credentials
  2. Set GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET (or use a config file)
  3. Create the first user: mailsteward admin create-user you@example.com
  4. Authorize it:         mailsteward auth add you@example.com
  5. Start the server:     mailsteward serve`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A local .env is optional.
			_ = godotenv.Load()
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (optional; env vars override)")

	root.AddCommand(
		newServeCmd(),
		newAuthCmd(),
		newAdminCmd(),
	)

	return root
}

// --- serve command ---

// toolFilterFlags holds the CLI flags for tool filtering.
type toolFilterFlags struct {
	readOnly bool
	enable   []string
	disable  []string
}

// addToolFilterFlags adds --read-only, --enable, and --disable flags to a command.
func addToolFilterFlags(cmd *cobra.Command, f *toolFilterFlags) {
	cmd.Flags().BoolVar(&f.readOnly, "read-only", false, "only expose read-only tools (no mutations)")
	cmd.Flags().StringSliceVar(&f.enable, "enable", nil, "whitelist of tool names to expose (comma-separated)")
	cmd.Flags().StringSliceVar(&f.disable, "disable", nil, "blacklist of tool names to hide (comma-separated)")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
}

// toToolFilter converts the CLI flags to a server.ToolFilter.
func (f *toolFilterFlags) toToolFilter() server.ToolFilter {
	return server.ToolFilter{
		ReadOnly: f.readOnly,
		Enable:   f.enable,
		Disable:  f.disable,
	}
}

func newServeCmd() *cobra.Command {
	var flags toolFilterFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mailsteward MCP server (stdio)",
		Long: `Starts an MCP server over stdio together with the background machinery:
job workers, cleanup automation, and the maintenance janitor.

Use --read-only to expose only read-only tools.
Use --enable or --disable for granular tool control.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			defer func() { _ = a.Log.Sync() }()

			srv := server.NewServer(&mcp.Implementation{
				Name:    "mailsteward",
				Version: version,
			}, nil)
			tools.RegisterTools(srv, a.ToolDeps())
			if err := srv.ApplyFilter(flags.toToolFilter()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				// Background loops stop when the transport closes.
				defer stop()
				return srv.Run(ctx, &mcp.StdioTransport{})
			})
			g.Go(func() error {
				if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	addToolFilterFlags(cmd, &flags)
	return cmd
}

// --- auth commands ---

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage Google authorization for registered users",
	}

	cmd.AddCommand(
		newAuthAddCmd(),
		newAuthListCmd(),
		newAuthRemoveCmd(),
	)

	return cmd
}

func newAuthAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <email>",
		Short: "Authorize a registered user via the OAuth browser flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Users.GetUserByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.Auth.Authenticate(cmd.Context(), u.ID, provider.Scopes); err != nil {
				return err
			}
			fmt.Printf("User %s authorized.\n", u.Email)
			return nil
		},
	}
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered users and their authorization state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := a.Users.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No users registered. Run 'mailsteward admin create-user <email>' first.")
				return nil
			}
			fmt.Println("Registered users:")
			for _, u := range users {
				state := "not authorized"
				if a.Auth.HasToken(u.ID) {
					state = "authorized"
				}
				fmt.Printf("  - %s (%s, %s, %s)\n", u.Email, u.ID, u.Role, state)
			}
			return nil
		},
	}
}

func newAuthRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Remove a user's stored OAuth token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Users.GetUserByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.Auth.RemoveToken(u.ID); err != nil {
				return err
			}
			fmt.Printf("Token for %s removed.\n", u.Email)
			return nil
		},
	}
}

// --- admin commands ---

// cliAdmin is the operator principal for local admin commands. The CLI runs
// with filesystem access to the databases, so it is inherently trusted.
func cliAdmin() *model.UserContext {
	return &model.UserContext{UserID: "cli", Roles: []string{model.RoleAdmin}}
}

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Local administration of users",
	}

	cmd.AddCommand(
		newAdminCreateUserCmd(),
		newAdminDeleteUserCmd(),
	)

	return cmd
}

func newAdminCreateUserCmd() *cobra.Command {
	var displayName string

	cmd := &cobra.Command{
		Use:   "create-user <email>",
		Short: "Register a user",
		Long: `Registers a user. The first user ever registered becomes admin;
later users get the plain user role.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Users.RegisterUser(cmd.Context(), cliAdmin(), args[0], displayName)
			if err != nil {
				return err
			}
			fmt.Printf("User %s created (%s, role %s).\n", u.Email, u.ID, u.Role)
			return nil
		},
	}

	cmd.Flags().StringVar(&displayName, "name", "", "display name for the user")

	return cmd
}

func newAdminDeleteUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <email>",
		Short: "Delete a user and destroy their local data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := a.Users.GetUserByEmail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.Users.DeleteUser(cmd.Context(), cliAdmin(), u.ID); err != nil {
				return err
			}
			fmt.Printf("User %s deleted.\n", u.Email)
			return nil
		},
	}
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
