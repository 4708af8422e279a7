package models

import (
	"time"
)

// CharacterStatus 角色当前所处的状态，互斥
type CharacterStatus string

const (
	StatusNormal       CharacterStatus = "normal"
	StatusJailed       CharacterStatus = "jailed"
	StatusHospitalized CharacterStatus = "hospitalized"
	StatusTraveling    CharacterStatus = "traveling"
)

// Restricted 受限状态：禁止犯罪，暂停恢复
func (s CharacterStatus) Restricted() bool {
	return s != StatusNormal
}

// Character 玩家角色（聚合根）
type Character struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`

	Level int   `json:"level"`
	XP    int64 `json:"xp"`

	Energy    int `json:"energy"`
	MaxEnergy int `json:"maxEnergy"`
	Nerve     int `json:"nerve"`
	MaxNerve  int `json:"maxNerve"`
	Happy     int `json:"happy"`
	MaxHappy  int `json:"maxHappy"`
	HP        int `json:"hp"`
	MaxHP     int `json:"maxHp"`

	Cash int64 `json:"cash"`
	Bank int64 `json:"bank"`

	// 战斗属性，本模块只读
	Strength     int `json:"strength"`
	Defense      int `json:"defense"`
	Speed        int `json:"speed"`
	Dexterity    int `json:"dexterity"`
	Intelligence int `json:"intelligence"`

	Status        CharacterStatus `json:"status"`
	JailedUntil   *time.Time      `json:"jailedUntil"`
	HospitalUntil *time.Time      `json:"hospitalUntil"`

	CrimesCommitted  int `json:"crimesCommitted"`
	CrimesSuccessful int `json:"crimesSuccess"`

	// 每次写入递增，用于乐观并发控制
	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Profile 角色完整快照，附带下一级所需经验
type Profile struct {
	*Character
	XPForNext int64 `json:"xpForNext"`
}

// Crime 罪行定义（目录条目，运行期只读）
type Crime struct {
	ID            string  `yaml:"id" json:"id"`
	Name          string  `yaml:"name" json:"name"`
	Description   string  `yaml:"description" json:"description"`
	Tier          int     `yaml:"tier" json:"tier"`
	NerveCost     int     `yaml:"nerve_cost" json:"nerveCost"`
	SuccessChance float64 `yaml:"success_chance" json:"successChance"`
	MinReward     int64   `yaml:"min_reward" json:"minReward"`
	MaxReward     int64   `yaml:"max_reward" json:"maxReward"`
	BaseXP        int64   `yaml:"base_xp" json:"xp"`
	JailMinutes   int     `yaml:"jail_minutes" json:"jailMinutes"`
	MinLevel      int     `yaml:"min_level" json:"minLevel"`
}

// JailDuration 失败后的监禁时长
func (c *Crime) JailDuration() time.Duration {
	return time.Duration(c.JailMinutes) * time.Minute
}

// CrimeOutcome 一次犯罪尝试的结果
type CrimeOutcome struct {
	Success     bool          `json:"success"`
	Cash        int64         `json:"cash"`
	XP          int64         `json:"xp"`
	Jailed      bool          `json:"jailed"`
	JailMinutes int           `json:"jailMinutes"`
	LeveledUp   bool          `json:"leveledUp"`
	Character   OutcomeFields `json:"character"`
}

// OutcomeFields 结果中返回的角色字段（非完整档案）
type OutcomeFields struct {
	Nerve       int             `json:"nerve"`
	Cash        int64           `json:"cash"`
	XP          int64           `json:"xp"`
	Level       int             `json:"level"`
	Status      CharacterStatus `json:"status"`
	JailedUntil *time.Time      `json:"jailedUntil"`
}

// CrimeLog 犯罪审计日志（只追加）
type CrimeLog struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"characterId"`
	CrimeID     string    `json:"crimeId"`
	Success     bool      `json:"success"`
	CashEarned  int64     `json:"cashEarned"`
	XPEarned    int64     `json:"xpEarned"`
	Jailed      bool      `json:"jailed"`
	CreatedAt   time.Time `json:"timestamp"`
}

// 通知类型
const (
	NotificationCrimeSuccess = "crime_success"
	NotificationCrimeFail    = "crime_fail"
)

// Notification 推送给角色所有者的事件
type Notification struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}
