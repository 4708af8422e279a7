// Package postgres 基于 PostgreSQL 行锁的角色存储
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

// regenLockKey 恢复任务的 advisory lock，集群内同一时刻只跑一次
const regenLockKey int64 = 0x5359_4e44_0001

// poolIface *pgxpool.Pool 与 pgxmock.PgxPoolIface 都满足
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store PostgreSQL 版 services.CharacterStore
type Store struct {
	pool       poolIface
	maxRetries uint64
	now        func() time.Time
}

var _ services.CharacterStore = (*Store)(nil)

// Open 连接 databaseURL 并 ping
func Open(ctx context.Context, databaseURL string, maxRetries uint64) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("STORAGE_INIT_FAILED").Wrapf(err, "connect to database")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORAGE_INIT_FAILED").Wrapf(err, "ping database")
	}
	return New(pool, maxRetries), nil
}

// New 包装已有连接池
func New(pool poolIface, maxRetries uint64) *Store {
	if maxRetries == 0 {
		maxRetries = 16
	}
	return &Store{pool: pool, maxRetries: maxRetries, now: time.Now}
}

// Close 关闭连接池
func (s *Store) Close() {
	s.pool.Close()
}

// Ping 连通性检查
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const characterColumns = `id, owner_id, name, level, xp, energy, max_energy, nerve, max_nerve,
	happy, max_happy, hp, max_hp, cash, bank, strength, defense, speed, dexterity, intelligence,
	status, jailed_until, hospital_until, crimes_committed, crimes_successful, version, created_at, updated_at`

func scanCharacter(row pgx.Row) (*models.Character, error) {
	var char models.Character
	var status string
	err := row.Scan(&char.ID, &char.OwnerID, &char.Name, &char.Level, &char.XP,
		&char.Energy, &char.MaxEnergy, &char.Nerve, &char.MaxNerve,
		&char.Happy, &char.MaxHappy, &char.HP, &char.MaxHP, &char.Cash, &char.Bank,
		&char.Strength, &char.Defense, &char.Speed, &char.Dexterity, &char.Intelligence,
		&status, &char.JailedUntil, &char.HospitalUntil, &char.CrimesCommitted, &char.CrimesSuccessful,
		&char.Version, &char.CreatedAt, &char.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	char.Status = models.CharacterStatus(status)
	return &char, nil
}

// CreateCharacter 插入角色；同一所有者重复创建返回 ErrDuplicate
func (s *Store) CreateCharacter(ctx context.Context, char *models.Character) error {
	if char.Version == 0 {
		char.Version = 1
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO characters (`+characterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28)`,
		char.ID, char.OwnerID, char.Name, char.Level, char.XP,
		char.Energy, char.MaxEnergy, char.Nerve, char.MaxNerve,
		char.Happy, char.MaxHappy, char.HP, char.MaxHP, char.Cash, char.Bank,
		char.Strength, char.Defense, char.Speed, char.Dexterity, char.Intelligence,
		string(char.Status), char.JailedUntil, char.HospitalUntil,
		char.CrimesCommitted, char.CrimesSuccessful, char.Version, char.CreatedAt, char.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return models.ErrDuplicate
		}
		return oops.With("operation", "create character").With("character_id", char.ID).Wrap(err)
	}
	return nil
}

func (s *Store) GetCharacter(ctx context.Context, id string) (*models.Character, error) {
	return scanCharacter(s.pool.QueryRow(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = $1`, id))
}

func (s *Store) GetCharacterByOwner(ctx context.Context, ownerID string) (*models.Character, error) {
	return scanCharacter(s.pool.QueryRow(ctx, `SELECT `+characterColumns+` FROM characters WHERE owner_id = $1`, ownerID))
}

// UpdateCharacter 锁行后对最新状态执行 mutate 再提交；序列化失败与死锁从头重读重试
func (s *Store) UpdateCharacter(ctx context.Context, id string, mutate services.MutateFunc) (*models.Character, error) {
	var result *models.Character
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return retryable(err)
		}

		current, err := scanCharacter(tx.QueryRow(ctx,
			`SELECT `+characterColumns+` FROM characters WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			_ = tx.Rollback(ctx)
			return retryable(err)
		}

		if err := mutate(current); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		current.Version++
		current.UpdatedAt = s.now().UTC()

		_, err = tx.Exec(ctx, `UPDATE characters
			SET name = $2, level = $3, xp = $4, energy = $5, max_energy = $6, nerve = $7, max_nerve = $8,
				happy = $9, max_happy = $10, hp = $11, max_hp = $12, cash = $13, bank = $14,
				status = $15, jailed_until = $16, hospital_until = $17,
				crimes_committed = $18, crimes_successful = $19, version = $20, updated_at = $21
			WHERE id = $1`,
			id, current.Name, current.Level, current.XP, current.Energy, current.MaxEnergy,
			current.Nerve, current.MaxNerve, current.Happy, current.MaxHappy, current.HP, current.MaxHP,
			current.Cash, current.Bank, string(current.Status), current.JailedUntil, current.HospitalUntil,
			current.CrimesCommitted, current.CrimesSuccessful, current.Version, current.UpdatedAt)
		if err != nil {
			_ = tx.Rollback(ctx)
			return retryable(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return retryable(err)
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retryable 序列化失败与死锁标记为可重试
func retryable(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return retry.RetryableError(err)
		}
	}
	return err
}

func (s *Store) backoff() retry.Backoff {
	b := retry.NewExponential(2 * time.Millisecond)
	b = retry.WithCappedDuration(100*time.Millisecond, b)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(s.maxRetries, b)
}

// RegenerateResources 批量恢复一次；锁被其他进程持有时跳过并返回 0
func (s *Store) RegenerateResources(ctx context.Context, amount int, now time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, oops.With("operation", "regenerate").Wrap(err)
	}

	var locked bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, regenLockKey).Scan(&locked); err != nil {
		_ = tx.Rollback(ctx)
		return 0, oops.With("operation", "regenerate").Wrap(err)
	}
	if !locked {
		_ = tx.Rollback(ctx)
		return 0, nil
	}

	tag, err := tx.Exec(ctx, `UPDATE characters
		SET energy = LEAST(max_energy, energy + $1),
			nerve = LEAST(max_nerve, nerve + $1),
			version = version + 1,
			updated_at = $2
		WHERE status = 'normal' AND (energy < max_energy OR nerve < max_nerve)`, amount, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, oops.With("operation", "regenerate").Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, oops.With("operation", "regenerate").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// ReleaseExpired 释放到期（<= now）的监禁与住院；条件在行锁下求值，新判的刑期不会被清掉
func (s *Store) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, oops.With("operation", "release").Wrap(err)
	}

	jailed, err := tx.Exec(ctx, `UPDATE characters
		SET status = 'normal', jailed_until = NULL, version = version + 1, updated_at = $1
		WHERE status = 'jailed' AND jailed_until IS NOT NULL AND jailed_until <= $1`, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, oops.With("operation", "release").With("status", "jailed").Wrap(err)
	}
	hospital, err := tx.Exec(ctx, `UPDATE characters
		SET status = 'normal', hospital_until = NULL, version = version + 1, updated_at = $1
		WHERE status = 'hospitalized' AND hospital_until IS NOT NULL AND hospital_until <= $1`, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, oops.With("operation", "release").With("status", "hospitalized").Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, oops.With("operation", "release").Wrap(err)
	}
	return jailed.RowsAffected() + hospital.RowsAffected(), nil
}

// AppendCrimeLog 记录一次尝试
func (s *Store) AppendCrimeLog(ctx context.Context, entry *models.CrimeLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO crime_logs
		(id, character_id, crime_id, success, cash_earned, xp_earned, jailed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.CharacterID, entry.CrimeID, entry.Success,
		entry.CashEarned, entry.XPEarned, entry.Jailed, entry.CreatedAt)
	if err != nil {
		return oops.With("operation", "append crime log").With("character_id", entry.CharacterID).Wrap(err)
	}
	return nil
}

// ListCrimeLogs 最新的在前
func (s *Store) ListCrimeLogs(ctx context.Context, characterID string, limit int) ([]models.CrimeLog, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, character_id, crime_id, success, cash_earned, xp_earned, jailed, created_at
		FROM crime_logs WHERE character_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, characterID, limit)
	if err != nil {
		return nil, oops.With("operation", "list crime logs").Wrap(err)
	}
	defer rows.Close()

	logs := []models.CrimeLog{}
	for rows.Next() {
		var entry models.CrimeLog
		if err := rows.Scan(&entry.ID, &entry.CharacterID, &entry.CrimeID, &entry.Success,
			&entry.CashEarned, &entry.XPEarned, &entry.Jailed, &entry.CreatedAt); err != nil {
			return nil, oops.With("operation", "scan crime log").Wrap(err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "list crime logs").Wrap(err)
	}
	return logs, nil
}
