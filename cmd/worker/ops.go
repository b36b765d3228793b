package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fulfillment/internal/bootstrap"
	"fulfillment/internal/config"
	"fulfillment/internal/database"
	"fulfillment/internal/model"
	"fulfillment/internal/service/reconcile"
	"fulfillment/internal/utils"
	"fulfillment/pkg/log"
)

func reconcileCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Republish stored follow-up jobs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := bootstrap.Logging(cfg, "reconcile"); err != nil {
				return err
			}

			infra, err := bootstrap.Connect(cfg, "reconcile")
			if err != nil {
				return err
			}
			defer infra.Close()

			broker, err := bootstrap.Broker(cfg)
			if err != nil {
				return fmt.Errorf("connect broker: %w", err)
			}
			defer broker.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := reconcile.NewSweeper(broker, infra.Stores.Pending, cfg.Reconcile, infra.Metrics).Sweep(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d, failed %d, skipped %d\n", res.Published, res.Failed, res.Skipped)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "abort the sweep after this long")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := bootstrap.Logging(cfg, "migrate"); err != nil {
				return err
			}

			db, err := database.Open(cfg)
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.AutoMigrate(db); err != nil {
				return err
			}
			log.Info("Database migration completed")
			return nil
		},
	}
}

// tokenCmd issues access tokens for local testing; the API never issues them
func tokenCmd() *cobra.Command {
	var (
		userID uint64
		email  string
		role   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case model.RoleUser, model.RoleAdmin, model.RoleSalesManager:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if userID == 0 {
				return fmt.Errorf("--user is required")
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			jwt := cfg.Security.JWT
			token, err := utils.NewJWTManager(jwt.Secret, jwt.Issuer, jwt.Expire).GenerateToken(userID, email, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&userID, "user", 0, "user id")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", model.RoleUser, "USER, ADMIN or SALES_MANAGER")
	return cmd
}
