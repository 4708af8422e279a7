package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createCharacter(t *testing.T, s *Storage, owner string, mutate func(c *models.Character)) *models.Character {
	t.Helper()
	c := services.NewCharacter(owner, "Vito "+owner, models.DefaultConfig().Game, testNow)
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, s.CreateCharacter(context.Background(), c))
	return c
}

func TestStorage_CreateAndGet(t *testing.T) {
	s := newTestStorage(t)
	jail := testNow.Add(time.Hour)
	c := createCharacter(t, s, "u1", func(c *models.Character) {
		c.Status = models.StatusJailed
		c.JailedUntil = &jail
		c.Cash = 1234
	})

	got, err := s.GetCharacter(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.OwnerID, got.OwnerID)
	assert.Equal(t, int64(1234), got.Cash)
	assert.Equal(t, models.StatusJailed, got.Status)
	require.NotNil(t, got.JailedUntil)
	assert.True(t, jail.Equal(*got.JailedUntil))
	assert.Nil(t, got.HospitalUntil)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, testNow.Equal(got.CreatedAt))

	byOwner, err := s.GetCharacterByOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byOwner.ID)
}

func TestStorage_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetCharacter(context.Background(), "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.GetCharacterByOwner(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.UpdateCharacter(context.Background(), "ghost", func(*models.Character) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStorage_DuplicateOwner(t *testing.T) {
	s := newTestStorage(t)
	createCharacter(t, s, "u1", nil)

	dup := services.NewCharacter("u1", "Other", models.DefaultConfig().Game, testNow)
	err := s.CreateCharacter(context.Background(), dup)
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestStorage_UpdateBumpsVersion(t *testing.T) {
	s := newTestStorage(t)
	c := createCharacter(t, s, "u1", nil)

	updated, err := s.UpdateCharacter(context.Background(), c.ID, func(c *models.Character) error {
		c.Nerve -= 5
		c.Cash += 100
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.GetCharacter(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.Nerve)
	assert.Equal(t, int64(100), got.Cash)
	assert.Equal(t, int64(2), got.Version)
}

func TestStorage_UpdateMutateErrorWritesNothing(t *testing.T) {
	s := newTestStorage(t)
	c := createCharacter(t, s, "u1", nil)
	errNope := errors.New("nope")

	calls := 0
	_, err := s.UpdateCharacter(context.Background(), c.ID, func(c *models.Character) error {
		calls++
		c.Nerve = 0
		return errNope
	})
	require.ErrorIs(t, err, errNope)
	assert.Equal(t, 1, calls, "mutate errors are not retried")

	got, err := s.GetCharacter(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Nerve)
	assert.Equal(t, int64(1), got.Version)
}

func TestStorage_UpdateRetriesOnVersionConflict(t *testing.T) {
	s := newTestStorage(t)
	c := createCharacter(t, s, "u1", func(c *models.Character) { c.Energy = 10 })

	calls := 0
	_, err := s.UpdateCharacter(context.Background(), c.ID, func(ch *models.Character) error {
		calls++
		if calls == 1 {
			// 模拟并发写入
			_, err := s.RegenerateResources(context.Background(), 1, testNow)
			require.NoError(t, err)
		}
		ch.Cash += 10
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	got, err := s.GetCharacter(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, got.Energy, "regeneration applied exactly once")
	assert.Equal(t, int64(10), got.Cash, "update applied exactly once")
}

func TestStorage_RegenerateResources(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	low := createCharacter(t, s, "low", func(c *models.Character) { c.Energy, c.Nerve = 99, 10 })
	jail := testNow.Add(time.Hour)
	jailed := createCharacter(t, s, "jailed", func(c *models.Character) {
		c.Nerve = 10
		c.Status = models.StatusJailed
		c.JailedUntil = &jail
	})
	traveling := createCharacter(t, s, "travel", func(c *models.Character) {
		c.Nerve = 10
		c.Status = models.StatusTraveling
	})
	capped := createCharacter(t, s, "capped", nil)

	n, err := s.RegenerateResources(ctx, 5, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := s.GetCharacter(ctx, low.ID)
	assert.Equal(t, 100, got.Energy)
	assert.Equal(t, 15, got.Nerve)

	for _, id := range []string{jailed.ID, traveling.ID} {
		got, _ := s.GetCharacter(ctx, id)
		assert.Equal(t, 10, got.Nerve, "restricted characters do not regenerate")
	}

	got, _ = s.GetCharacter(ctx, capped.ID)
	assert.Equal(t, int64(1), got.Version, "capped rows are untouched")
}

func TestStorage_RegenerateFromCapIsNoop(t *testing.T) {
	s := newTestStorage(t)
	c := createCharacter(t, s, "u1", func(c *models.Character) { c.Nerve = 49 })

	_, err := s.RegenerateResources(context.Background(), 1, testNow)
	require.NoError(t, err)
	n, err := s.RegenerateResources(context.Background(), 1, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := s.GetCharacter(context.Background(), c.ID)
	assert.Equal(t, 50, got.Nerve)
	assert.Equal(t, 100, got.Energy)
}

func TestStorage_ReleaseExpired(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	past := testNow.Add(-time.Second)
	future := testNow.Add(time.Minute)

	expired := createCharacter(t, s, "a", func(c *models.Character) {
		c.Status, c.JailedUntil = models.StatusJailed, &past
	})
	exact := createCharacter(t, s, "b", func(c *models.Character) {
		c.Status, c.JailedUntil = models.StatusJailed, &testNow
	})
	pending := createCharacter(t, s, "c", func(c *models.Character) {
		c.Status, c.JailedUntil = models.StatusJailed, &future
	})
	hospital := createCharacter(t, s, "d", func(c *models.Character) {
		c.Status, c.HospitalUntil = models.StatusHospitalized, &past
	})

	n, err := s.ReleaseExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, id := range []string{expired.ID, exact.ID, hospital.ID} {
		got, _ := s.GetCharacter(ctx, id)
		assert.Equal(t, models.StatusNormal, got.Status)
		assert.Nil(t, got.JailedUntil)
		assert.Nil(t, got.HospitalUntil)
	}
	got, _ := s.GetCharacter(ctx, pending.ID)
	assert.Equal(t, models.StatusJailed, got.Status)

	n, err = s.ReleaseExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep changes nothing")
}

func TestStorage_CrimeLogs(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	c := createCharacter(t, s, "u1", nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendCrimeLog(ctx, &models.CrimeLog{
			ID:          string(rune('a' + i)),
			CharacterID: c.ID,
			CrimeID:     "1",
			Success:     i%2 == 0,
			CashEarned:  int64(i * 100),
			XPEarned:    int64(i),
			Jailed:      i%2 == 1,
			CreatedAt:   testNow.Add(time.Duration(i) * time.Minute),
		}))
	}

	logs, err := s.ListCrimeLogs(ctx, c.ID, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "e", logs[0].ID)
	assert.True(t, logs[0].Success)
	assert.Equal(t, int64(400), logs[0].CashEarned)
	assert.True(t, logs[1].Jailed)

	empty, err := s.ListCrimeLogs(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

// alwaysSucceed 每次都成功的掷骰
type alwaysSucceed struct{}

func (alwaysSucceed) Float64() float64            { return 0 }
func (alwaysSucceed) IntRange(lo, _ int64) int64 { return lo }

func TestStorage_ConcurrentCrimeAttempts(t *testing.T) {
	s := newTestStorage(t)
	c := createCharacter(t, s, "u1", func(c *models.Character) { c.Nerve = 9 })

	catalog, err := services.LoadCatalog("")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	crimes := services.NewCrimeService(s, catalog, alwaysSucceed{}, nil, logger)

	const attempts = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, insufficient int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := crimes.Attempt(context.Background(), c.ID, "1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, services.ErrInsufficientResource):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, attempts-3, insufficient)

	got, err := s.GetCharacter(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Nerve)
	assert.Equal(t, 3, got.CrimesCommitted)
	assert.Equal(t, 3, got.CrimesSuccessful)

	logs, err := s.ListCrimeLogs(context.Background(), c.ID, 100)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
}

func TestStorage_ReleaseDoesNotClearFreshSentence(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	old := testNow.Add(-time.Minute)
	c := createCharacter(t, s, "u1", func(c *models.Character) {
		c.Status, c.JailedUntil = models.StatusJailed, &old
	})

	// 新判决先于释放扫描提交
	fresh := testNow.Add(5 * time.Minute)
	_, err := s.UpdateCharacter(ctx, c.ID, func(c *models.Character) error {
		c.JailedUntil = &fresh
		return nil
	})
	require.NoError(t, err)

	n, err := s.ReleaseExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, _ := s.GetCharacter(ctx, c.ID)
	assert.Equal(t, models.StatusJailed, got.Status)
	require.NotNil(t, got.JailedUntil)
	assert.True(t, fresh.Equal(*got.JailedUntil))
}
