package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nebulaftp/internal/cli/output"
	"github.com/marmos91/nebulaftp/internal/cli/prompt"
	"github.com/marmos91/nebulaftp/pkg/config"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	"github.com/marmos91/nebulaftp/pkg/metadata/store/mongo"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage FTP users",
	Long: `Manage FTP user accounts and their path permissions.

Users live in the metadata store's user collection; changes take effect
on the next login without restarting the server.

Examples:
  nebulaftp user add alice
  nebulaftp user passwd alice
  nebulaftp user grant alice /shared read-write
  nebulaftp user revoke alice /shared
  nebulaftp user remove alice
  nebulaftp user list --output json`,
}

var (
	userListOutput  string
	userRemoveForce bool
)

func init() {
	userListCmd.Flags().StringVarP(&userListOutput, "output", "o", "table", "Output format: table, json, yaml")
	userRemoveCmd.Flags().BoolVar(&userRemoveForce, "force", false, "Skip the confirmation prompt")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userGrantCmd)
	userCmd.AddCommand(userRevokeCmd)
	userCmd.AddCommand(userRemoveCmd)
}

// userStoreTimeout bounds each CLI metadata operation.
const userStoreTimeout = 10 * time.Second

// withUserStore connects to the metadata store from the loaded config and
// runs fn against it.
func withUserStore(fn func(ctx context.Context, st *mongo.Store) error) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), userStoreTimeout)
	defer cancel()

	st, err := mongo.Connect(ctx, mongo.Config{
		URL:      cfg.Metadata.URL,
		Database: cfg.Metadata.Database,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to metadata store: %w", err)
	}
	defer func() { _ = st.Close(context.Background()) }()

	return fn(ctx, st)
}

func findUser(ctx context.Context, st *mongo.Store, login string) (*metadata.UserDoc, error) {
	doc, err := st.FindUserByLogin(ctx, login)
	if err != nil {
		return nil, fmt.Errorf("user %q not found", login)
	}
	return doc, nil
}

var userAddCmd = &cobra.Command{
	Use:   "add <login>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		login := args[0]

		return withUserStore(func(ctx context.Context, st *mongo.Store) error {
			if _, err := st.FindUserByLogin(ctx, login); err == nil {
				return fmt.Errorf("user %q already exists", login)
			}

			password, err := prompt.PasswordWithConfirmation("Password", "Confirm password", 1)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			doc := &metadata.UserDoc{Login: login, Password: password}
			if err := st.UpsertUser(ctx, doc); err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			fmt.Printf("User %q created (home directory /%s)\n", login, login)
			return nil
		})
	},
}

// userListEntry is the list row without the password field.
type userListEntry struct {
	Login       string                   `json:"login" yaml:"login"`
	Permissions []metadata.PermissionDoc `json:"permissions" yaml:"permissions"`
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(userListOutput)
		if err != nil {
			return err
		}

		return withUserStore(func(ctx context.Context, st *mongo.Store) error {
			users, err := st.ListUsers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if format == output.FormatTable {
				if len(users) == 0 {
					fmt.Println("No users configured")
					return nil
				}
				table := output.NewTableData("LOGIN", "PERMISSIONS")
				for _, u := range users {
					table.AddRow(u.Login, formatPermissions(u.Permissions))
				}
				return output.PrintTable(os.Stdout, table)
			}

			entries := make([]userListEntry, 0, len(users))
			for _, u := range users {
				entries = append(entries, userListEntry{Login: u.Login, Permissions: u.Permissions})
			}
			return output.NewPrinter(os.Stdout, format, false).Print(entries)
		})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:     "remove <login>",
	Aliases: []string{"delete"},
	Short:   "Remove a user",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		login := args[0]

		return withUserStore(func(ctx context.Context, st *mongo.Store) error {
			if _, err := findUser(ctx, st, login); err != nil {
				return err
			}

			ok, err := prompt.ConfirmWithForce(fmt.Sprintf("Remove user %q", login), userRemoveForce)
			if err != nil {
				if prompt.IsAborted(err) {
					return fmt.Errorf("aborted")
				}
				return err
			}
			if !ok {
				fmt.Println("Cancelled")
				return nil
			}

			if err := st.DeleteUser(ctx, login); err != nil {
				return fmt.Errorf("failed to remove user: %w", err)
			}

			fmt.Printf("User %q removed\n", login)
			return nil
		})
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <login>",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		login := args[0]

		return withUserStore(func(ctx context.Context, st *mongo.Store) error {
			doc, err := findUser(ctx, st, login)
			if err != nil {
				return err
			}

			password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", 1)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}

			doc.Password = password
			if err := st.UpsertUser(ctx, doc); err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}

			fmt.Printf("Password changed for user %q\n", login)
			return nil
		})
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant <login> <path> <read|read-write>",
	Short: "Grant a path permission to a user",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		login, path, perm := args[0], args[1], args[2]

		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("path must be absolute: %q", path)
		}
		var writable bool
		switch perm {
		case "read":
			writable = false
		case "read-write":
			writable = true
		default:
			return fmt.Errorf("invalid permission %q (valid: read, read-write)", perm)
		}

		return withUserStore(func(ctx context.Context, st *mongo.Store) error {
			doc, err := findUser(ctx, st, login)
			if err != nil {
				return err
			}

			grant := metadata.PermissionDoc{Path: path, Readable: true, Writable: writable}
			replaced := false
			for i, p := range doc.Permissions {
				if p.Path == path {
					doc.Permissions[i] = grant
					replaced = true
					break
				}
			}
			if !replaced {
				doc.Permissions = append(doc.Permissions, grant)
			}

			if err := st.UpsertUser(ctx, doc); err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}

			fmt.Printf("Granted %s on %q to user %q\n", perm, path, login)
			return nil
		})
	},
}

var userRevokeCmd = &cobra.Command{
	Use:   "revoke <login> <path>",
	Short: "Revoke a user's declared permission on a path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		login, path := args[0], args[1]

		return withUserStore(func(ctx context.Context, st *mongo.Store) error {
			doc, err := findUser(ctx, st, login)
			if err != nil {
				return err
			}

			kept := make([]metadata.PermissionDoc, 0, len(doc.Permissions))
			found := false
			for _, p := range doc.Permissions {
				if p.Path == path {
					found = true
					continue
				}
				kept = append(kept, p)
			}
			if !found {
				return fmt.Errorf("user %q has no declared permission on %q", login, path)
			}

			doc.Permissions = kept
			if err := st.UpsertUser(ctx, doc); err != nil {
				return fmt.Errorf("failed to update user: %w", err)
			}

			fmt.Printf("Revoked permission on %q from user %q\n", path, login)
			return nil
		})
	},
}

// formatPermissions renders a declared permission list for the user table.
// Implicit grants (home read-write, root read-only) are not shown.
func formatPermissions(perms []metadata.PermissionDoc) string {
	if len(perms) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(perms))
	for _, p := range perms {
		mode := "read"
		if p.Writable {
			mode = "read-write"
		}
		if !p.Readable && !p.Writable {
			mode = "none"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", p.Path, mode))
	}
	return strings.Join(parts, ", ")
}
