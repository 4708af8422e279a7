package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

const maxNameLength = 32

// CharacterService 角色创建与查询
type CharacterService struct {
	store  CharacterStore
	config models.GameConfig
	now    Clock
}

func NewCharacterService(store CharacterStore, config models.GameConfig) *CharacterService {
	return &CharacterService{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// NewCharacter 按配置生成初始角色（未持久化）
func NewCharacter(ownerID, name string, cfg models.GameConfig, now time.Time) *models.Character {
	return &models.Character{
		ID:           uuid.New().String(),
		OwnerID:      ownerID,
		Name:         name,
		Level:        1,
		XP:           0,
		Energy:       cfg.StartingEnergy,
		MaxEnergy:    cfg.StartingEnergy,
		Nerve:        cfg.StartingNerve,
		MaxNerve:     cfg.StartingNerve,
		Happy:        cfg.StartingHappy,
		MaxHappy:     cfg.StartingHappy,
		HP:           cfg.StartingHP,
		MaxHP:        cfg.StartingHP,
		Cash:         cfg.StartingCash,
		Strength:     cfg.StartingStat,
		Defense:      cfg.StartingStat,
		Speed:        cfg.StartingStat,
		Dexterity:    cfg.StartingStat,
		Intelligence: cfg.StartingStat,
		Status:       models.StatusNormal,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Create 为 owner 创建角色，每个 owner 仅一个
func (cs *CharacterService) Create(ctx context.Context, ownerID, name string) (*models.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return nil, oops.Code("INVALID_NAME").
			With("name", name).
			Public("Name must be 1-32 characters").
			Errorf("invalid character name")
	}

	if existing, err := cs.store.GetCharacterByOwner(ctx, ownerID); err == nil {
		return nil, characterExists(ownerID, existing.ID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, storeFailure("get_character_by_owner", err)
	}

	char := NewCharacter(ownerID, name, cs.config, cs.now())
	if err := cs.store.CreateCharacter(ctx, char); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, characterExists(ownerID, "")
		}
		return nil, storeFailure("create_character", err)
	}
	return char, nil
}

// Get 获取角色
func (cs *CharacterService) Get(ctx context.Context, characterID string) (*models.Character, error) {
	char, err := cs.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, classifyStoreError("get_character", characterID, err)
	}
	return char, nil
}

// GetByOwner 按所有者获取角色
func (cs *CharacterService) GetByOwner(ctx context.Context, ownerID string) (*models.Character, error) {
	char, err := cs.store.GetCharacterByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, oops.Code(CodeCharacterNotFound).
				With("owner_id", ownerID).
				Public("Character not found").
				Wrap(errors.Join(ErrCharacterNotFound, err))
		}
		return nil, storeFailure("get_character_by_owner", err)
	}
	return char, nil
}

// Profile 完整档案，附带 xpForNext
func (cs *CharacterService) Profile(ctx context.Context, characterID string) (*models.Profile, error) {
	char, err := cs.Get(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return &models.Profile{Character: char, XPForNext: ThresholdFor(char.Level)}, nil
}
