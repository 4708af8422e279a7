package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

// loadConfig 默认值 < 配置文件 < 环境变量；文件不存在时只用默认值
func loadConfig(path string) (*models.Config, error) {
	config := models.DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}

	if err := env.Parse(config); err != nil {
		return nil, oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}
	if err := config.Validate(); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	return config, nil
}
