package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"model_registry/internal/auth"
	"model_registry/internal/config"
	"model_registry/internal/logging"
	"model_registry/internal/storage"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fmt.Println("Model Registry - User Initialization")
	fmt.Println(strings.Repeat("=", 40))

	email := pflag.String("email", os.Getenv("REGISTRY_USER_EMAIL"), "email of the new user (env REGISTRY_USER_EMAIL)")
	username := pflag.String("username", os.Getenv("REGISTRY_USER_NAME"), "login name; defaults to the email (env REGISTRY_USER_NAME)")
	password := pflag.String("password", os.Getenv("REGISTRY_USER_PASSWORD"), "password (env REGISTRY_USER_PASSWORD)")
	migrate := pflag.Bool("migrate", true, "apply database migrations first")
	pflag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "ERROR: --email and --password (or REGISTRY_USER_EMAIL and REGISTRY_USER_PASSWORD) must be set")
		pflag.Usage()
		os.Exit(1)
	}
	if *username == "" {
		*username = *email
	}
	if len(*password) < 8 {
		fmt.Fprintln(os.Stderr, "ERROR: Password must be at least 8 characters long")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Metadata.Backend != config.BackendPostgres {
		fmt.Fprintln(os.Stderr, "ERROR: init-user needs METADATA_BACKEND=postgres")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println("Connecting to database...")
	dbCfg := storage.DefaultDBConfig(cfg.Database.URL)
	dbCfg.ModelCacheSize = 10
	db, err := storage.NewDB(dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if *migrate {
		if err := storage.Migrate(db, logger); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to migrate database: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := storage.NewPostgresStore(db)
	svc := auth.NewService(store.Users(), auth.NewTokenIssuer([]byte(cfg.JWT.Secret), cfg.JWT.TTL))

	u, err := svc.CreateUser(ctx, *email, *username, *password)
	if errors.Is(err, auth.ErrUserExists) {
		fmt.Printf("INFO: User %s already exists\n", *username)
		fmt.Println("Exiting successfully (no action taken)")
		return
	}
	if err != nil {
		logger.Error("failed to create user", zap.String("username", *username), zap.Error(err))
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("User created")
	fmt.Printf("  ID:       %s\n", u.ID)
	fmt.Printf("  Email:    %s\n", u.Email)
	fmt.Printf("  Username: %s\n", u.Username)
}
