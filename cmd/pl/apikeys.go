package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"priorityline/internal/app"
	"priorityline/internal/domain"
	"priorityline/internal/repo"
)

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apiKeyCreateCmd())
	cmd.AddCommand(apiKeyListCmd())
	cmd.AddCommand(apiKeyDeleteCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var role, name string
	var saveEnv bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key bound to a configured role",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, ok := a.Config.Auth.Roles[role]; !ok {
					return fmt.Errorf("unknown role %q", role)
				}
				secret := "pl_" + strings.ReplaceAll(uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:      uuid.NewString(),
					Name:    name,
					Role:    role,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := a.Repo().InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if saveEnv {
					if err := setEnvValue(filepath.Join(a.Workspace, ".env"), "PRIORITYLINE_API_KEY", secret); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "name": key.Name, "role": key.Role, "key": secret})
				}
				fmt.Printf("api key %s (role %s)\n%s\nstore it now; it is not shown again\n", key.ID, key.Role, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "viewer", "role from config auth.roles")
	cmd.Flags().StringVar(&name, "name", "", "label")
	cmd.Flags().BoolVar(&saveEnv, "save-env", false, "write the key to .env as PRIORITYLINE_API_KEY")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Repo().ListAPIKeys(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.Role, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Repo().DeleteAPIKey(ctx, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "api key id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
