package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anicolao/morpheum/internal/config"
	"github.com/anicolao/morpheum/internal/matrix"
)

// register creates the configured account on server and points cfg at
// it. An account that already exists is not an error.
func register(ctx context.Context, cfg *config.Config, server string, getenv func(string) string, logger *slog.Logger) error {
	if !cfg.Matrix.HasPassword() {
		return errors.New("Error: --register requires MATRIX_USERNAME and MATRIX_PASSWORD environment variables\n" +
			"These will be used to register the new user account")
	}
	env := matrix.RegistrationTokenEnv(server)
	token := getenv(env)
	if token == "" {
		return fmt.Errorf("Error: Registration token not found in environment variable %s\n"+
			"Please set %s with your registration token", env, env)
	}

	hs := "https://" + server
	log := logger.With("server", server)
	log.Info("registering account", "username", cfg.Matrix.Username, "token_env", env)

	creds, err := matrix.NewAuth(hs, logger).Register(ctx, cfg.Matrix.Username, cfg.Matrix.Password, token)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if creds == nil {
		log.Info("account already exists, proceeding with login", "username", cfg.Matrix.Username)
	} else {
		log.Info("account registered", "user_id", creds.UserID)
	}

	cfg.Matrix.HomeserverURL = hs
	return nil
}
