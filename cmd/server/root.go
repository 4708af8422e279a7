package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "syndicate"

// 全局参数
var configFile string

// NewRootCmd 根命令
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "syndicate",
		Short:        "Syndicate character action and progression server",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "config.yml", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
