package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/profileboard/profileboard/internal/auth"
	"github.com/profileboard/profileboard/internal/config"
)

// NewTokenCmd creates the token command group for managing dashboard
// access tokens.
func NewTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage dashboard access tokens",
		Long: `Manage bearer tokens for the profiling dashboard.

Tokens authenticate websocket clients connecting to the dashboard. Each
token carries a set of permissions:

  view_dashboard  - Connect to the dashboard and read profile data
  toggle_profiler - Flip the global profiling flag from the dashboard
  admin           - Full access`,
	}

	cmd.AddCommand(newTokenCreateCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

func tokensFilePath() (string, error) {
	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.Dashboard.TokensFile, nil
}

func newTokenCreateCmd() *cobra.Command {
	var permissions string

	cmd := &cobra.Command{
		Use:   "create <token-id>",
		Short: "Create a new dashboard token",
		Long: `Create a new dashboard access token.

The token value is displayed ONCE after creation. Save it securely; it
cannot be retrieved later.

Examples:
  # Read-only dashboard access
  profileboard token create viewer --permissions view_dashboard

  # Dashboard access plus the profiler toggle
  profileboard token create operator --permissions view_dashboard,toggle_profiler`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokensFile, err := tokensFilePath()
			if err != nil {
				return err
			}

			perms := parsePermissions(permissions)
			if len(perms) == 0 {
				return fmt.Errorf("at least one permission required\n\nAvailable permissions: %s", permissionList())
			}

			tokenInfo, err := auth.NewTokenStore(tokensFile).GenerateToken(args[0], perms)
			if err != nil {
				return fmt.Errorf("failed to create token: %w", err)
			}

			fmt.Println("Token created successfully!")
			fmt.Println()
			fmt.Printf("Token ID:    %s\n", tokenInfo.TokenID)
			fmt.Printf("Permissions: %s\n", permissions)
			fmt.Println()
			fmt.Println("Save this token - it will NOT be shown again!")
			fmt.Println()
			fmt.Printf("Token: %s\n", tokenInfo.Token)

			return nil
		},
	}

	cmd.Flags().StringVar(&permissions, "permissions", "view_dashboard", "Comma-separated permissions ("+permissionList()+")")

	return cmd
}

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all dashboard tokens",
		Long: `List all dashboard tokens.

Note: Token values are never displayed - only metadata.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tokensFile, err := tokensFilePath()
			if err != nil {
				return err
			}

			tokens := auth.NewTokenStore(tokensFile).ListTokens()
			if len(tokens) == 0 {
				fmt.Println("No dashboard tokens found.")
				fmt.Println()
				fmt.Println("Create one with:")
				fmt.Println("  profileboard token create <token-id> --permissions view_dashboard")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TOKEN ID\tPERMISSIONS\tSTATUS\tCREATED\tLAST USED")

			for _, t := range tokens {
				perms := make([]string, len(t.Permissions))
				for i, p := range t.Permissions {
					perms[i] = string(p)
				}

				status := "active"
				if t.Revoked {
					status = "revoked"
				}

				lastUsed := "-"
				if t.LastUsedAt != nil {
					lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
				}

				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					t.TokenID,
					strings.Join(perms, ","),
					status,
					t.CreatedAt.Format("2006-01-02 15:04"),
					lastUsed,
				)
			}

			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
}

func newTokenRevokeCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke a dashboard token",
		Long: `Revoke a dashboard token, immediately invalidating it.

Revoked tokens can no longer authenticate to the dashboard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tokenID := args[0]

			tokensFile, err := tokensFilePath()
			if err != nil {
				return err
			}

			tokenStore := auth.NewTokenStore(tokensFile)

			token, exists := tokenStore.GetToken(tokenID)
			if !exists {
				return fmt.Errorf("token %q not found", tokenID)
			}
			if token.Revoked {
				return fmt.Errorf("token %q is already revoked", tokenID)
			}

			if !force {
				fmt.Printf("Are you sure you want to revoke token %q? This cannot be undone.\n", tokenID)
				fmt.Print("Type 'yes' to confirm: ")

				var confirm string
				if _, err := fmt.Scanln(&confirm); err != nil {
					return fmt.Errorf("failed to read user confirmation: %w", err)
				}
				if confirm != "yes" {
					fmt.Println("Cancelled.")
					return nil
				}
			}

			if err := tokenStore.RevokeToken(tokenID); err != nil {
				return fmt.Errorf("failed to revoke token: %w", err)
			}

			fmt.Printf("Token %q has been revoked.\n", tokenID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

// parsePermissions parses a comma-separated string of permissions,
// dropping anything unrecognized.
// permissionList renders the defined permissions as a comma-separated
// string for flag help and error messages.
func permissionList() string {
	all := auth.AllPermissions()
	names := make([]string, len(all))
	for i, p := range all {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func parsePermissions(s string) []auth.Permission {
	parts := strings.Split(s, ",")
	perms := make([]auth.Permission, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if perm := auth.ParsePermission(p); perm != "" {
			perms = append(perms, perm)
		}
	}

	return perms
}
