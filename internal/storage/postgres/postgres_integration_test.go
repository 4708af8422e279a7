//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aiwuxian/project-syndicate/internal/models"
	"github.com/aiwuxian/project-syndicate/internal/services"
	"github.com/aiwuxian/project-syndicate/internal/storage/postgres"
)

type alwaysSucceed struct{}

func (alwaysSucceed) Float64() float64            { return 0 }
func (alwaysSucceed) IntRange(lo, _ int64) int64 { return lo }

var _ = Describe("Postgres character store", Ordered, func() {
	var (
		ctx       context.Context
		container *tcpostgres.PostgresContainer
		store     *postgres.Store
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("syndicate_test"),
			tcpostgres.WithUsername("syndicate"),
			tcpostgres.WithPassword("syndicate"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err := postgres.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
		Expect(migrator.Close()).To(Succeed())

		store, err = postgres.Open(ctx, connStr, 16)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if store != nil {
			store.Close()
		}
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	newCharacter := func(owner string, mutate func(c *models.Character)) *models.Character {
		c := services.NewCharacter(owner, "Vito", models.DefaultConfig().Game, time.Now().UTC())
		if mutate != nil {
			mutate(c)
		}
		Expect(store.CreateCharacter(ctx, c)).To(Succeed())
		return c
	}

	It("rejects a second character for the same owner", func() {
		newCharacter("dup-owner", nil)
		dup := services.NewCharacter("dup-owner", "Other", models.DefaultConfig().Game, time.Now())
		Expect(store.CreateCharacter(ctx, dup)).To(MatchError(models.ErrDuplicate))
	})

	It("lets exactly as many concurrent attempts through as nerve allows", func() {
		c := newCharacter("race-owner", func(c *models.Character) { c.Nerve = 9 })
		catalog, err := services.LoadCatalog("")
		Expect(err).NotTo(HaveOccurred())
		crimes := services.NewCrimeService(store, catalog, alwaysSucceed{}, nil,
			slog.New(slog.NewTextHandler(io.Discard, nil)))

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded, insufficient := 0, 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := crimes.Attempt(ctx, c.ID, "1")
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					succeeded++
				} else if errors.Is(err, services.ErrInsufficientResource) {
					insufficient++
				}
			}()
		}
		wg.Wait()

		Expect(succeeded).To(Equal(3))
		Expect(insufficient).To(Equal(7))
		got, err := store.GetCharacter(ctx, c.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Nerve).To(Equal(0))
		Expect(got.CrimesCommitted).To(Equal(3))

		logs, err := store.ListCrimeLogs(ctx, c.ID, 50)
		Expect(err).NotTo(HaveOccurred())
		Expect(logs).To(HaveLen(3))
	})

	It("regenerates without exceeding caps and skips restricted characters", func() {
		low := newCharacter("regen-low", func(c *models.Character) { c.Energy, c.Nerve = 99, 1 })
		jailUntil := time.Now().Add(time.Hour)
		jailed := newCharacter("regen-jailed", func(c *models.Character) {
			c.Nerve = 1
			c.Status, c.JailedUntil = models.StatusJailed, &jailUntil
		})

		_, err := store.RegenerateResources(ctx, 2, time.Now())
		Expect(err).NotTo(HaveOccurred())

		got, err := store.GetCharacter(ctx, low.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Energy).To(Equal(100))
		Expect(got.Nerve).To(Equal(3))

		got, err = store.GetCharacter(ctx, jailed.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Nerve).To(Equal(1))
	})

	It("releases expired sentences once and keeps future ones", func() {
		past := time.Now().Add(-time.Minute)
		future := time.Now().Add(time.Hour)
		expired := newCharacter("release-expired", func(c *models.Character) {
			c.Status, c.JailedUntil = models.StatusJailed, &past
		})
		pending := newCharacter("release-pending", func(c *models.Character) {
			c.Status, c.JailedUntil = models.StatusJailed, &future
		})

		n, err := store.ReleaseExpired(ctx, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		got, err := store.GetCharacter(ctx, expired.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(models.StatusNormal))
		Expect(got.JailedUntil).To(BeNil())

		got, err = store.GetCharacter(ctx, pending.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(models.StatusJailed))

		n, err = store.ReleaseExpired(ctx, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})
})
