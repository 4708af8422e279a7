package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aiwuxian/project-syndicate/internal/errutil"
	"github.com/aiwuxian/project-syndicate/internal/models"
)

var tracer = otel.Tracer("syndicate/services")

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	xpBonusRange        = 9
)

// CrimeService 犯罪结算：校验、掷骰、原子写回、通知
type CrimeService struct {
	store    CharacterStore
	catalog  *Catalog
	roller   Roller
	notifier Notifier
	logger   *slog.Logger
	now      Clock
}

func NewCrimeService(store CharacterStore, catalog *Catalog, roller Roller,
	notifier Notifier, logger *slog.Logger) *CrimeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrimeService{
		store:    store,
		catalog:  catalog,
		roller:   roller,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Catalog 返回罪行目录
func (cs *CrimeService) Catalog() *Catalog {
	return cs.catalog
}

// roll 一次尝试的随机结果
type roll struct {
	success bool
	cash    int64
	xp      int64
}

func (cs *CrimeService) roll(crime *models.Crime) roll {
	if cs.roller.Float64() >= crime.SuccessChance {
		return roll{}
	}
	return roll{
		success: true,
		cash:    cs.roller.IntRange(crime.MinReward, crime.MaxReward),
		xp:      crime.BaseXP + cs.roller.IntRange(0, xpBonusRange),
	}
}

// Attempt 为角色结算一次犯罪
func (cs *CrimeService) Attempt(ctx context.Context, characterID, crimeID string) (*models.CrimeOutcome, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "crime.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("character_id", characterID),
		attribute.String("crime_id", crimeID),
	)

	label := crimeID
	if !cs.catalog.Has(crimeID) {
		label = UnknownCrimeLabel
	}

	outcome, err := cs.attempt(ctx, characterID, crimeID)
	switch {
	case err == nil && outcome.Success:
		recordCrimeAttempt(label, ResultSuccess, time.Since(start))
	case err == nil:
		recordCrimeAttempt(label, ResultCaught, time.Since(start))
	case isRejection(err):
		recordCrimeAttempt(label, ResultRejected, time.Since(start))
	default:
		recordCrimeAttempt(label, ResultError, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "crime attempt failed")
	}
	return outcome, err
}

func (cs *CrimeService) attempt(ctx context.Context, characterID, crimeID string) (*models.CrimeOutcome, error) {
	crime, err := cs.catalog.Get(crimeID)
	if err != nil {
		return nil, err
	}

	// 先对快照校验，失败时不掷骰
	snapshot, err := cs.store.GetCharacter(ctx, characterID)
	if err != nil {
		return nil, classifyStoreError("get_character", characterID, err)
	}
	if err := validateAttempt(snapshot, crime); err != nil {
		return nil, err
	}

	r := cs.roll(crime)
	now := cs.now()

	var leveledUp bool
	updated, err := cs.store.UpdateCharacter(ctx, characterID, func(c *models.Character) error {
		// 事务内基于最新状态重新校验
		if err := validateAttempt(c, crime); err != nil {
			return err
		}
		leveledUp = applyAttempt(c, crime, r, now)
		return nil
	})
	if err != nil {
		if isRejection(err) {
			return nil, err
		}
		return nil, classifyStoreError("update_character", characterID, err)
	}

	outcome := &models.CrimeOutcome{
		Success:   r.success,
		Cash:      r.cash,
		XP:        r.xp,
		Jailed:    !r.success,
		LeveledUp: leveledUp,
		Character: models.OutcomeFields{
			Nerve:       updated.Nerve,
			Cash:        updated.Cash,
			XP:          updated.XP,
			Level:       updated.Level,
			Status:      updated.Status,
			JailedUntil: updated.JailedUntil,
		},
	}
	if !r.success {
		outcome.JailMinutes = crime.JailMinutes
	}

	cs.afterCommit(ctx, updated, crime, outcome, now)
	return outcome, nil
}

// validateAttempt 按顺序检查：状态、nerve、等级
func validateAttempt(c *models.Character, crime *models.Crime) error {
	if c.Status.Restricted() {
		return restricted(c)
	}
	if c.Nerve < crime.NerveCost {
		return insufficientNerve(c, crime)
	}
	minLevel := crime.MinLevel
	if minLevel < 1 {
		minLevel = 1
	}
	if c.Level < minLevel {
		return levelTooLow(c, minLevel)
	}
	return nil
}

// applyAttempt 写入扣费、奖励、计数、监禁与升级，返回是否升级
func applyAttempt(c *models.Character, crime *models.Crime, r roll, now time.Time) bool {
	c.Nerve = max(0, c.Nerve-crime.NerveCost)
	c.Cash += r.cash
	c.CrimesCommitted++
	if r.success {
		c.CrimesSuccessful++
	} else {
		until := now.Add(crime.JailDuration())
		c.Status = models.StatusJailed
		c.JailedUntil = &until
	}

	if r.xp <= 0 {
		return false
	}
	before := c.Level
	c.Level, c.XP = ApplyExperience(c.Level, c.XP, r.xp)
	return c.Level > before
}

// afterCommit 审计日志与通知，失败只记录不回滚
func (cs *CrimeService) afterCommit(ctx context.Context, c *models.Character, crime *models.Crime,
	outcome *models.CrimeOutcome, now time.Time) {
	entry := &models.CrimeLog{
		ID:          ulid.Make().String(),
		CharacterID: c.ID,
		CrimeID:     crime.ID,
		Success:     outcome.Success,
		CashEarned:  outcome.Cash,
		XPEarned:    outcome.XP,
		Jailed:      outcome.Jailed,
		CreatedAt:   now,
	}
	if err := cs.store.AppendCrimeLog(ctx, entry); err != nil {
		errutil.LogError(ctx, cs.logger, "crime log append failed", err,
			"character_id", c.ID, "crime_id", crime.ID)
	}

	if cs.notifier == nil {
		return
	}
	if err := cs.notifier.Notify(ctx, c.OwnerID, OutcomeNotification(outcome)); err != nil {
		NotificationsDropped.Inc()
		cs.logger.WarnContext(ctx, "outcome notification dropped",
			"owner_id", c.OwnerID, "character_id", c.ID, "error", err)
	}
}

// OutcomeNotification 把结果格式化为推送事件
func OutcomeNotification(outcome *models.CrimeOutcome) models.Notification {
	p := message.NewPrinter(language.English)
	n := models.Notification{ID: ulid.Make().String()}
	if outcome.Success {
		n.Type = models.NotificationCrimeSuccess
		n.Title = "Crime successful"
		n.Content = p.Sprintf("+$%d · +%d XP", outcome.Cash, outcome.XP)
		return n
	}
	n.Type = models.NotificationCrimeFail
	n.Title = "Caught"
	if outcome.JailMinutes == 1 {
		n.Content = "Jailed for 1 minute"
	} else {
		n.Content = p.Sprintf("Jailed for %d minutes", outcome.JailMinutes)
	}
	return n
}

// History 最近的犯罪记录，新的在前
func (cs *CrimeService) History(ctx context.Context, characterID string, limit int) ([]models.CrimeLog, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	logs, err := cs.store.ListCrimeLogs(ctx, characterID, limit)
	if err != nil {
		return nil, storeFailure("list_crime_logs", err)
	}
	if logs == nil {
		logs = []models.CrimeLog{}
	}
	return logs, nil
}

// isRejection 客户端可见的业务拒绝
func isRejection(err error) bool {
	return errors.Is(err, ErrCrimeNotFound) ||
		errors.Is(err, ErrCharacterNotFound) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientResource) ||
		errors.Is(err, ErrRequirementNotMet)
}
