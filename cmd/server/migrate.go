package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aiwuxian/project-syndicate/internal/logging"
)

// NewMigrateCmd 只初始化/迁移数据库结构
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the storage schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			logger := logging.SetDefault(serviceName, version, config.Log.Format)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			_, closeStore, err := openStore(ctx, config.Database, config.Game.MaxRetries)
			if err != nil {
				return err
			}
			closeStore()
			logger.Info("schema up to date", slog.String("driver", config.Database.Driver))
			return nil
		},
	}
}
