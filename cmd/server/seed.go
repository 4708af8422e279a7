package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/aiwuxian/project-syndicate/internal/logging"
	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

// 演示角色
const (
	demoOwner  = "demo"
	demoName   = "Demo"
	demoCash   = 10000
	demoEnergy = 80
	demoNerve  = 40
)

// NewSeedCmd 创建演示角色（可重复执行）
func NewSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the demo character",
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
			store, closeStore, err := openStore(ctx, config.Database, config.Game.MaxRetries)
			if err != nil {
				return err
			}
			defer closeStore()

			char, created, err := seedDemo(ctx, store, config.Game)
			if err != nil {
				return err
			}
			logger.Info("demo character ready", "character_id", char.ID, "owner_id", demoOwner, "created", created)
			return nil
		},
	}
}

// seedDemo 已存在时直接返回
func seedDemo(ctx context.Context, store services.CharacterStore, game models.GameConfig) (*models.Character, bool, error) {
	characters := services.NewCharacterService(store, game)
	if existing, err := characters.GetByOwner(ctx, demoOwner); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, services.ErrCharacterNotFound) {
		return nil, false, err
	}

	char, err := characters.Create(ctx, demoOwner, demoName)
	if err != nil {
		return nil, false, err
	}
	char, err = store.UpdateCharacter(ctx, char.ID, func(c *models.Character) error {
		c.Cash = demoCash
		c.Energy = min(demoEnergy, c.MaxEnergy)
		c.Nerve = min(demoNerve, c.MaxNerve)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return char, true, nil
}
