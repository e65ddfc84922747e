package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stellara-labs/stellara/internal/database"
	"github.com/stellara-labs/stellara/pkg/stellara"
	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stellara",
		Short:         "Stellara backend: auth, Stellar monitoring and webhook delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stellara.Start(nil)
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newUserCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the workflow engine and the background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return stellara.Start(nil)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(database.Up), string(database.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return stellara.Migrate(database.Direction(args[0]))
		},
	}
}

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage password users",
	}

	var username, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a password user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := domain.Role(role)
			if !r.Valid() {
				return fmt.Errorf("invalid role %q: must be %s or %s", role, domain.RoleUser, domain.RoleAdmin)
			}
			user, err := stellara.CreateUser(cmd.Context(), username, password, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d, role %s)\n", user.Username, user.ID, user.Role)
			return nil
		},
	}
	create.Flags().StringVar(&username, "username", "", "login name")
	create.Flags().StringVar(&password, "password", "", "login password")
	create.Flags().StringVar(&role, "role", string(domain.RoleUser), "user or admin")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")

	userCmd.AddCommand(create)
	return userCmd
}
