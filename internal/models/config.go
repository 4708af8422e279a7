package models

import (
	"net/url"
	"time"

	"github.com/samber/oops"
)

// Config 配置
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Game      GameConfig      `yaml:"game"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host      string `yaml:"host" env:"SYNDICATE_HOST"`
	Port      string `yaml:"port" env:"SYNDICATE_PORT"`
	ClientURL string `yaml:"client_url" env:"CLIENT_URL"` // 浏览器客户端来源，CORS 与 websocket 握手共用
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"SYNDICATE_DB_DRIVER"` // sqlite 或 postgres
	Path   string `yaml:"path" env:"SYNDICATE_DB_PATH"`
	URL    string `yaml:"url" env:"DATABASE_URL"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// GameConfig 新角色初始值与结算参数
type GameConfig struct {
	CatalogPath    string `yaml:"catalog_path" env:"SYNDICATE_CATALOG_PATH"`
	StartingEnergy int    `yaml:"starting_energy"`
	StartingNerve  int    `yaml:"starting_nerve"`
	StartingHappy  int    `yaml:"starting_happy"`
	StartingHP     int    `yaml:"starting_hp"`
	StartingStat   int    `yaml:"starting_stat"`
	StartingCash   int64  `yaml:"starting_cash"`
	MaxRetries     uint64 `yaml:"max_retries" env:"SYNDICATE_MAX_RETRIES"`
}

// SchedulerConfig 定时任务节奏
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled" env:"SYNDICATE_SCHEDULER_ENABLED"`
	RegenInterval   time.Duration `yaml:"regen_interval" env:"SYNDICATE_REGEN_INTERVAL"`
	RegenAmount     int           `yaml:"regen_amount"`
	ReleaseInterval time.Duration `yaml:"release_interval" env:"SYNDICATE_RELEASE_INTERVAL"`
	TickTimeout     time.Duration `yaml:"tick_timeout"`
}

type LogConfig struct {
	Format string `yaml:"format" env:"SYNDICATE_LOG_FORMAT"` // json 或 text
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: "3001", ClientURL: "http://localhost:5173"},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/syndicate.db",
		},
		Game: GameConfig{
			StartingEnergy: 100,
			StartingNerve:  50,
			StartingHappy:  100,
			StartingHP:     100,
			StartingStat:   10,
			StartingCash:   0,
			MaxRetries:     16,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			RegenInterval:   5 * time.Minute,
			RegenAmount:     1,
			ReleaseInterval: time.Minute,
			TickTimeout:     30 * time.Second,
		},
		Log: LogConfig{Format: "json"},
	}
}

// Validate 启动前检查配置
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return invalid("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return invalid("database.url (or DATABASE_URL) is required for postgres")
		}
	default:
		return invalid("unknown database driver %q", c.Database.Driver)
	}
	if u, err := url.Parse(c.Server.ClientURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("server.client_url must be an absolute origin, got %q", c.Server.ClientURL)
	}
	if c.Auth.JWTSecret == "" {
		return invalid("auth.jwt_secret (or JWT_SECRET) is required")
	}
	if c.Scheduler.RegenInterval <= 0 || c.Scheduler.ReleaseInterval <= 0 {
		return invalid("scheduler intervals must be positive")
	}
	if c.Scheduler.RegenAmount <= 0 {
		return invalid("scheduler.regen_amount must be positive")
	}
	if c.Game.StartingEnergy <= 0 || c.Game.StartingNerve <= 0 || c.Game.StartingHappy <= 0 || c.Game.StartingHP <= 0 {
		return invalid("starting resources must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").Errorf(format, args...)
}
