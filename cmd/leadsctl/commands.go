package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leadsradar/server/internal/app"
	"github.com/leadsradar/server/internal/config"
	"github.com/leadsradar/server/internal/handlers"
	"github.com/leadsradar/server/internal/repository"
	"github.com/leadsradar/server/internal/services"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	app.SetupLogger(cfg)
	return cfg, nil
}

// withStore opens storage for the duration of fn
func withStore(ctx context.Context, fn func(cfg *config.Config, store repository.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(cfg, store)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// OpenStore migrates on connect
			return withStore(cmd.Context(), func(cfg *config.Config, store repository.Store) error {
				fmt.Println("Schema is up to date")
				return nil
			})
		},
	}
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage webhook API keys",
	}
	cmd.PersistentFlags().String("user", "", "owner user id (required)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(keysIssueCmd())
	cmd.AddCommand(keysListCmd())
	cmd.AddCommand(keysRevokeCmd())
	return cmd
}

func userFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("user")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --user: %w", err)
	}
	return id, nil
}

func keysIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFlag(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")

			var expires *int
			if cmd.Flags().Changed("expires-in-days") {
				days, _ := cmd.Flags().GetInt("expires-in-days")
				expires = &days
			}

			return withStore(cmd.Context(), func(cfg *config.Config, store repository.Store) error {
				keys := services.NewKeyStore(store, cfg.Environment)
				issued, err := keys.Issue(cmd.Context(), userID, name, expires)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(issued)
			})
		},
	}
	cmd.Flags().String("name", "", "display name (1-50 characters)")
	cmd.Flags().Int("expires-in-days", 0, "expire the key after this many days")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List a user's keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFlag(cmd)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(cfg *config.Config, store repository.Store) error {
				list, err := services.NewKeyStore(store, cfg.Environment).List(cmd.Context(), userID)
				if err != nil {
					return err
				}

				now := time.Now()
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tPREFIX\tNAME\tSTATUS\tCREATED")
				for _, k := range list {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Prefix, k.Name, k.Status(now), k.CreatedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}
}

func keysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a key",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFlag(cmd)
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetString("id")
			keyID, err := uuid.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			return withStore(cmd.Context(), func(cfg *config.Config, store repository.Store) error {
				if err := services.NewKeyStore(store, cfg.Environment).Revoke(cmd.Context(), userID, keyID); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", keyID)
				return nil
			})
		},
	}
	cmd.Flags().String("id", "", "key id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a dashboard session token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := userFlag(cmd)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			now := time.Now()
			token, err := handlers.NewAuthenticator(cfg.JWTSecret).Sign(userID, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "user id to put in the subject claim")
	cmd.Flags().Duration("ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
