package services

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// RegenJob 为非受限角色恢复 energy 与 nerve
type RegenJob struct {
	store  CharacterStore
	amount int
	now    Clock
}

func NewRegenJob(store CharacterStore, amount int) *RegenJob {
	return &RegenJob{store: store, amount: amount, now: time.Now}
}

func (j *RegenJob) Name() string { return "regen" }

func (j *RegenJob) Tick(ctx context.Context) (int64, error) {
	rows, err := j.store.RegenerateResources(ctx, j.amount, j.now())
	if err != nil {
		return 0, oops.Code("REGEN_FAILED").With("amount", j.amount).Wrap(err)
	}
	return rows, nil
}

// ReleaseJob 解除到期的监禁与住院
type ReleaseJob struct {
	store CharacterStore
	now   Clock
}

func NewReleaseJob(store CharacterStore) *ReleaseJob {
	return &ReleaseJob{store: store, now: time.Now}
}

func (j *ReleaseJob) Name() string { return "release" }

func (j *ReleaseJob) Tick(ctx context.Context) (int64, error) {
	rows, err := j.store.ReleaseExpired(ctx, j.now())
	if err != nil {
		return 0, oops.Code("RELEASE_FAILED").Wrap(err)
	}
	return rows, nil
}
