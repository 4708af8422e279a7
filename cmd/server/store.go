package main

import (
	"context"

	"github.com/samber/oops"

	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
	"github.com/aiwuxian/project-syndicate/internal/storage"
	"github.com/aiwuxian/project-syndicate/internal/storage/postgres"
)

// characterStore 服务与健康检查共用的存储
type characterStore interface {
	services.CharacterStore
	Ping(ctx context.Context) error
}

// openStore 按配置打开存储；postgres 会先执行迁移
func openStore(ctx context.Context, cfg models.DatabaseConfig, maxRetries uint64) (characterStore, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := storage.New(cfg.Path, maxRetries)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		if err := runMigrations(cfg.URL); err != nil {
			return nil, nil, err
		}
		s, err := postgres.Open(ctx, cfg.URL, maxRetries)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, oops.Code("CONFIG_INVALID").With("driver", cfg.Driver).Errorf("unknown database driver")
}

func runMigrations(url string) error {
	m, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
