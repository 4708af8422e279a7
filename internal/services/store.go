package services

import (
	"context"
	"time"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

// MutateFunc 在事务内针对最新快照执行校验与修改，返回错误则放弃写入
type MutateFunc func(c *models.Character) error

// CharacterStore 角色记录存储，写入以角色为原子边界
type CharacterStore interface {
	CreateCharacter(ctx context.Context, c *models.Character) error
	GetCharacter(ctx context.Context, id string) (*models.Character, error)
	GetCharacterByOwner(ctx context.Context, ownerID string) (*models.Character, error)

	// UpdateCharacter 读取最新状态，调用 mutate，并原子写回
	UpdateCharacter(ctx context.Context, id string, mutate MutateFunc) (*models.Character, error)

	// RegenerateResources 为所有正常状态角色恢复 energy/nerve，截断到上限
	RegenerateResources(ctx context.Context, amount int, now time.Time) (int64, error)
	// ReleaseExpired 解除已到期的监禁/住院
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)

	AppendCrimeLog(ctx context.Context, entry *models.CrimeLog) error
	ListCrimeLogs(ctx context.Context, characterID string, limit int) ([]models.CrimeLog, error)
}

// Notifier 结果通知（尽力而为）
type Notifier interface {
	Notify(ctx context.Context, ownerID string, n models.Notification) error
}

// Clock 可注入时钟
type Clock func() time.Time
