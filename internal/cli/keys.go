package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/physique/internal/apikey"
	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/kiranshivaraju/physique/internal/store"
	"github.com/kiranshivaraju/physique/pkg/models"
	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "API key administration",
	}
	cmd.AddCommand(newKeysCreateCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var (
		databaseURL string
		user        string
		displayName string
		name        string
		scopes      []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key directly in the database",
		Long: `Create an API key by writing to Postgres directly. Use it to bootstrap the
first admin key; later keys can be minted through POST /api/v1/admin/keys.

The raw key is printed once and cannot be recovered.`,
		Example: `  # New user with default scopes
  physique keys create --name phone

  # Admin key for an existing user
  physique keys create --user 6f1c... --name ops --scopes analyze,read,admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			userID := uuid.New()
			if user != "" {
				id, err := uuid.Parse(user)
				if err != nil {
					return fmt.Errorf("--user must be a UUID: %w", err)
				}
				userID = id
			}
			return runKeysCreate(cmd, databaseURL, userID, displayName, name, scopes)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	cmd.Flags().StringVar(&user, "user", "", "User ID to bind the key to (default: a new user)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name for a new user")
	cmd.Flags().StringVar(&name, "name", "cli", "Key name, unique per user")
	cmd.Flags().StringSliceVar(&scopes, "scopes", apikey.DefaultScopes, "Key scopes")

	return cmd
}

func runKeysCreate(cmd *cobra.Command, databaseURL string, userID uuid.UUID, displayName, name string, scopes []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(databaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return createKey(ctx, store.NewPostgresStore(pool), cmd, userID, displayName, name, scopes)
}

// keyCreator is the subset of store.Store key bootstrap needs.
type keyCreator interface {
	EnsureUser(ctx context.Context, id uuid.UUID, displayName string) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

func createKey(ctx context.Context, s keyCreator, cmd *cobra.Command, userID uuid.UUID, displayName, name string, scopes []string) error {
	if err := s.EnsureUser(ctx, userID, displayName); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	key, raw, err := apikey.New(userID, name, scopes)
	if err != nil {
		return err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "User:    %s\n", userID)
	fmt.Fprintf(out, "Key ID:  %s\n", key.ID)
	fmt.Fprintf(out, "Scopes:  %v\n", key.Scopes)
	fmt.Fprintf(out, "API key: %s\n", raw)
	fmt.Fprintln(cmd.ErrOrStderr(), "Store this key now; it will not be shown again.")
	return nil
}
