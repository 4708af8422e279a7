package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aiwuxian/project-syndicate/internal/models"
)

// memStore 内存版存储，互斥锁即原子边界
type memStore struct {
	mu         sync.Mutex
	chars      map[string]*models.Character
	logs       []models.CrimeLog
	updateErr  error
	appendErr  error
	regenCalls int
}

func newMemStore(chars ...*models.Character) *memStore {
	s := &memStore{chars: map[string]*models.Character{}}
	for _, c := range chars {
		s.chars[c.ID] = clone(c)
	}
	return s
}

func clone(c *models.Character) *models.Character {
	cp := *c
	if c.JailedUntil != nil {
		t := *c.JailedUntil
		cp.JailedUntil = &t
	}
	if c.HospitalUntil != nil {
		t := *c.HospitalUntil
		cp.HospitalUntil = &t
	}
	return &cp
}

func (s *memStore) get(id string) *models.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.chars[id])
}

func (s *memStore) CreateCharacter(_ context.Context, c *models.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.chars {
		if existing.OwnerID == c.OwnerID {
			return models.ErrDuplicate
		}
	}
	s.chars[c.ID] = clone(c)
	return nil
}

func (s *memStore) GetCharacter(_ context.Context, id string) (*models.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chars[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(c), nil
}

func (s *memStore) GetCharacterByOwner(_ context.Context, ownerID string) (*models.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chars {
		if c.OwnerID == ownerID {
			return clone(c), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memStore) UpdateCharacter(_ context.Context, id string, mutate MutateFunc) (*models.Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	c, ok := s.chars[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	next := clone(c)
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Version++
	s.chars[id] = next
	return clone(next), nil
}

func (s *memStore) RegenerateResources(_ context.Context, amount int, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regenCalls++
	var n int64
	for _, c := range s.chars {
		if c.Status != models.StatusNormal || (c.Energy >= c.MaxEnergy && c.Nerve >= c.MaxNerve) {
			continue
		}
		c.Energy = min(c.MaxEnergy, c.Energy+amount)
		c.Nerve = min(c.MaxNerve, c.Nerve+amount)
		n++
	}
	return n, nil
}

func (s *memStore) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.chars {
		switch {
		case c.Status == models.StatusJailed && c.JailedUntil != nil && !c.JailedUntil.After(now):
			c.Status, c.JailedUntil = models.StatusNormal, nil
			n++
		case c.Status == models.StatusHospitalized && c.HospitalUntil != nil && !c.HospitalUntil.After(now):
			c.Status, c.HospitalUntil = models.StatusNormal, nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) AppendCrimeLog(_ context.Context, entry *models.CrimeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *memStore) ListCrimeLogs(_ context.Context, characterID string, limit int) ([]models.CrimeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CrimeLog
	for _, l := range s.logs {
		if l.CharacterID == characterID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fixedRoller 固定的随机结果
type fixedRoller struct {
	float float64
	high  bool
}

func (r fixedRoller) Float64() float64 { return r.float }

func (r fixedRoller) IntRange(lo, hi int64) int64 {
	if r.high {
		return hi
	}
	return lo
}

type recordingNotifier struct {
	mu     sync.Mutex
	owners []string
	events []models.Notification
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ownerID string, event models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.owners = append(n.owners, ownerID)
	n.events = append(n.events, event)
	return nil
}

var errBoom = errors.New("boom")

func testCharacter(id string) *models.Character {
	cfg := models.DefaultConfig().Game
	c := NewCharacter("owner-"+id, "Vito", cfg, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c.ID = id
	return c
}
