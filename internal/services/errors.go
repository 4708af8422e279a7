package services

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

// 错误分类，调用方用 errors.Is 判断
var (
	ErrCrimeNotFound        = errors.New("crime not found")
	ErrCharacterNotFound    = errors.New("character not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrRequirementNotMet    = errors.New("requirement not met")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// oops 错误码
const (
	CodeCrimeNotFound     = "CRIME_NOT_FOUND"
	CodeCharacterNotFound = "CHARACTER_NOT_FOUND"
	CodeCharacterExists   = "CHARACTER_EXISTS"
	CodeInvalidState      = "CHARACTER_RESTRICTED"
	CodeInsufficientNerve = "INSUFFICIENT_NERVE"
	CodeLevelTooLow       = "LEVEL_TOO_LOW"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
)

func crimeNotFound(crimeID string) error {
	return oops.Code(CodeCrimeNotFound).
		With("crime_id", crimeID).
		Public("Crime not found").
		Wrap(ErrCrimeNotFound)
}

func characterNotFound(characterID string, cause error) error {
	return oops.Code(CodeCharacterNotFound).
		With("character_id", characterID).
		Public("Character not found").
		Wrap(errors.Join(ErrCharacterNotFound, cause))
}

func restricted(c *models.Character) error {
	return oops.Code(CodeInvalidState).
		With("character_id", c.ID).
		With("status", string(c.Status)).
		Public(fmt.Sprintf("You cannot commit crimes while %s", c.Status)).
		Wrap(ErrInvalidState)
}

func insufficientNerve(c *models.Character, crime *models.Crime) error {
	return oops.Code(CodeInsufficientNerve).
		With("character_id", c.ID).
		With("required", crime.NerveCost).
		With("available", c.Nerve).
		Public(fmt.Sprintf("Need %d nerve (you have %d)", crime.NerveCost, c.Nerve)).
		Wrap(ErrInsufficientResource)
}

func levelTooLow(c *models.Character, required int) error {
	return oops.Code(CodeLevelTooLow).
		With("character_id", c.ID).
		With("required", required).
		With("level", c.Level).
		Public(fmt.Sprintf("Requires level %d", required)).
		Wrap(ErrRequirementNotMet)
}

// storeFailure 持久层失败，对客户端隐藏细节
func storeFailure(operation string, err error) error {
	return oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		Public("Temporarily unavailable, please retry").
		Wrap(errors.Join(ErrStoreUnavailable, err))
}

// classifyStoreError 把存储层错误映射到业务错误
func classifyStoreError(operation, characterID string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return characterNotFound(characterID, err)
	}
	return storeFailure(operation, err)
}

// PublicMessage 返回可展示给客户端的信息
func PublicMessage(err error, fallback string) string {
	return oops.GetPublic(err, fallback)
}

func characterExists(ownerID, characterID string) error {
	return oops.Code(CodeCharacterExists).
		With("owner_id", ownerID).
		With("character_id", characterID).
		Public("You already have a character").
		Wrap(ErrInvalidState)
}
