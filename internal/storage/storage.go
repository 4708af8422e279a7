package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

// DefaultMaxRetries 乐观写入冲突时的默认重试次数
const DefaultMaxRetries = 16

// Storage SQLite 角色存储，写入使用 version 列做乐观并发控制
type Storage struct {
	db         *sql.DB
	maxRetries uint64
}

var _ services.CharacterStore = (*Storage)(nil)

func New(dbPath string, maxRetries uint64) (*Storage, error) {
	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, oops.Code("STORAGE_INIT_FAILED").With("path", dir).Wrapf(err, "create data dir")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, oops.Code("STORAGE_INIT_FAILED").With("path", dbPath).Wrapf(err, "open database")
	}
	// 单连接串行化写入
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, oops.Code("STORAGE_INIT_FAILED").With("pragma", pragma).Wrap(err)
		}
	}

	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	s := &Storage{db: db, maxRetries: maxRetries}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, oops.Code("STORAGE_INIT_FAILED").Wrapf(err, "init schema")
	}

	return s, nil
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		level INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
		xp INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
		energy INTEGER NOT NULL,
		max_energy INTEGER NOT NULL,
		nerve INTEGER NOT NULL,
		max_nerve INTEGER NOT NULL,
		happy INTEGER NOT NULL,
		max_happy INTEGER NOT NULL,
		hp INTEGER NOT NULL,
		max_hp INTEGER NOT NULL,
		cash INTEGER NOT NULL DEFAULT 0 CHECK (cash >= 0),
		bank INTEGER NOT NULL DEFAULT 0,
		strength INTEGER NOT NULL,
		defense INTEGER NOT NULL,
		speed INTEGER NOT NULL,
		dexterity INTEGER NOT NULL,
		intelligence INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'normal',
		jailed_until INTEGER, -- unix millis
		hospital_until INTEGER, -- unix millis
		crimes_committed INTEGER NOT NULL DEFAULT 0,
		crimes_successful INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS crime_logs (
		id TEXT PRIMARY KEY,
		character_id TEXT NOT NULL,
		crime_id TEXT NOT NULL,
		success INTEGER NOT NULL,
		cash_earned INTEGER NOT NULL,
		xp_earned INTEGER NOT NULL,
		jailed INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (character_id) REFERENCES characters(id)
	);

	CREATE INDEX IF NOT EXISTS idx_characters_status ON characters(status);
	CREATE INDEX IF NOT EXISTS idx_crime_logs_character ON crime_logs(character_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping 健康检查
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const characterColumns = `id, owner_id, name, level, xp, energy, max_energy, nerve, max_nerve,
	happy, max_happy, hp, max_hp, cash, bank, strength, defense, speed, dexterity, intelligence,
	status, jailed_until, hospital_until, crimes_committed, crimes_successful, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (*models.Character, error) {
	var char models.Character
	var status string
	var jailedUntil, hospitalUntil sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&char.ID, &char.OwnerID, &char.Name, &char.Level, &char.XP,
		&char.Energy, &char.MaxEnergy, &char.Nerve, &char.MaxNerve,
		&char.Happy, &char.MaxHappy, &char.HP, &char.MaxHP, &char.Cash, &char.Bank,
		&char.Strength, &char.Defense, &char.Speed, &char.Dexterity, &char.Intelligence,
		&status, &jailedUntil, &hospitalUntil, &char.CrimesCommitted, &char.CrimesSuccessful,
		&char.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	char.Status = models.CharacterStatus(status)
	char.JailedUntil = fromMillis(jailedUntil)
	char.HospitalUntil = fromMillis(hospitalUntil)
	char.CreatedAt = time.UnixMilli(createdAt).UTC()
	char.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &char, nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// 角色相关操作
func (s *Storage) CreateCharacter(ctx context.Context, char *models.Character) error {
	if char.Version == 0 {
		char.Version = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO characters (`+characterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, char.ID, char.OwnerID, char.Name, char.Level, char.XP,
		char.Energy, char.MaxEnergy, char.Nerve, char.MaxNerve,
		char.Happy, char.MaxHappy, char.HP, char.MaxHP, char.Cash, char.Bank,
		char.Strength, char.Defense, char.Speed, char.Dexterity, char.Intelligence,
		string(char.Status), toMillis(char.JailedUntil), toMillis(char.HospitalUntil),
		char.CrimesCommitted, char.CrimesSuccessful, char.Version,
		char.CreatedAt.UnixMilli(), char.UpdatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

func (s *Storage) GetCharacter(ctx context.Context, id string) (*models.Character, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, id)
	return scanCharacter(row)
}

func (s *Storage) GetCharacterByOwner(ctx context.Context, ownerID string) (*models.Character, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE owner_id = ?`, ownerID)
	return scanCharacter(row)
}

// UpdateCharacter 读取-修改-条件写入；version 不匹配时重新读取并重试
func (s *Storage) UpdateCharacter(ctx context.Context, id string, mutate services.MutateFunc) (*models.Character, error) {
	var result *models.Character
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		current, err := s.GetCharacter(ctx, id)
		if err != nil {
			return err
		}
		expected := current.Version
		if err := mutate(current); err != nil {
			return err
		}
		current.Version = expected + 1
		current.UpdatedAt = time.Now().UTC()

		res, err := s.db.ExecContext(ctx, `
			UPDATE characters
			SET name=?, level=?, xp=?, energy=?, max_energy=?, nerve=?, max_nerve=?,
				happy=?, max_happy=?, hp=?, max_hp=?, cash=?, bank=?,
				status=?, jailed_until=?, hospital_until=?,
				crimes_committed=?, crimes_successful=?, version=?, updated_at=?
			WHERE id=? AND version=?
		`, current.Name, current.Level, current.XP, current.Energy, current.MaxEnergy,
			current.Nerve, current.MaxNerve, current.Happy, current.MaxHappy, current.HP, current.MaxHP,
			current.Cash, current.Bank, string(current.Status),
			toMillis(current.JailedUntil), toMillis(current.HospitalUntil),
			current.CrimesCommitted, current.CrimesSuccessful, current.Version,
			current.UpdatedAt.UnixMilli(), id, expected)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return retry.RetryableError(models.ErrVersionConflict)
		}
		result = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Storage) backoff() retry.Backoff {
	b := retry.NewExponential(time.Millisecond)
	b = retry.WithCappedDuration(50*time.Millisecond, b)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(s.maxRetries, b)
}

// RegenerateResources 单条批量更新，条件保证只影响正常状态且未满的角色
func (s *Storage) RegenerateResources(ctx context.Context, amount int, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE characters
		SET energy = MIN(max_energy, energy + ?),
			nerve = MIN(max_nerve, nerve + ?),
			version = version + 1,
			updated_at = ?
		WHERE status = 'normal' AND (energy < max_energy OR nerve < max_nerve)
	`, amount, amount, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReleaseExpired 到期判断在语句执行时求值，新设置的未来期限不会被清除
func (s *Storage) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	nowMs := now.UnixMilli()
	jailed, err := tx.ExecContext(ctx, `
		UPDATE characters
		SET status = 'normal', jailed_until = NULL, version = version + 1, updated_at = ?
		WHERE status = 'jailed' AND jailed_until IS NOT NULL AND jailed_until <= ?
	`, nowMs, nowMs)
	if err != nil {
		return 0, err
	}
	hospital, err := tx.ExecContext(ctx, `
		UPDATE characters
		SET status = 'normal', hospital_until = NULL, version = version + 1, updated_at = ?
		WHERE status = 'hospitalized' AND hospital_until IS NOT NULL AND hospital_until <= ?
	`, nowMs, nowMs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	a, _ := jailed.RowsAffected()
	b, _ := hospital.RowsAffected()
	return a + b, nil
}

// 犯罪日志相关操作
func (s *Storage) AppendCrimeLog(ctx context.Context, entry *models.CrimeLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO crime_logs (id, character_id, crime_id, success, cash_earned, xp_earned, jailed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.CharacterID, entry.CrimeID, entry.Success, entry.CashEarned,
		entry.XPEarned, entry.Jailed, entry.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append crime log: %w", err)
	}
	return nil
}

func (s *Storage) ListCrimeLogs(ctx context.Context, characterID string, limit int) ([]models.CrimeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, character_id, crime_id, success, cash_earned, xp_earned, jailed, created_at
		FROM crime_logs
		WHERE character_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, characterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []models.CrimeLog{}
	for rows.Next() {
		var entry models.CrimeLog
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.CharacterID, &entry.CrimeID, &entry.Success,
			&entry.CashEarned, &entry.XPEarned, &entry.Jailed, &createdAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.UnixMilli(createdAt).UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
