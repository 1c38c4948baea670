//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/oklog/ulid/v2"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/account/postgres"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/store"
	"github.com/keyward/keyward/pkg/errutil"
)

func TestAccountPostgres(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Account Postgres Suite")
}

var (
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
)

var _ = BeforeSuite(func(ctx SpecContext) {
	var err error
	container, err = tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("keyward"),
		tcpostgres.WithUsername("keyward"),
		tcpostgres.WithPassword("keyward"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	Expect(err).NotTo(HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())

	migrator, err := store.NewMigrator(connStr)
	Expect(err).NotTo(HaveOccurred())
	Expect(migrator.Up()).To(Succeed())
	Expect(migrator.Close()).To(Succeed())

	pool, err = store.Connect(ctx, connStr, store.DefaultConnectOptions)
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if pool != nil {
		pool.Close()
	}
	if container != nil {
		Expect(container.Terminate(context.Background())).To(Succeed())
	}
})

var _ = BeforeEach(func(ctx SpecContext) {
	_, err := pool.Exec(ctx, "TRUNCATE accounts")
	Expect(err).NotTo(HaveOccurred())
})

func newAccount(id identity.Identity) *account.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &account.Account{
		ID:        ulid.Make(),
		Identity:  id,
		State:     account.StatePendingActivation,
		CRMState:  account.CRMPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

var _ = Describe("AccountRepository", func() {
	var (
		repo  *postgres.AccountRepository
		alice identity.Email
	)

	BeforeEach(func() {
		repo = postgres.NewAccountRepository(pool)
		var err error
		alice, err = identity.ParseEmail("alice@example.com")
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips an account through insert and lookup", func(ctx SpecContext) {
		created, err := repo.Upsert(ctx, alice, func(existing *account.Account) (*account.Account, error) {
			Expect(existing).To(BeNil())
			a := newAccount(alice)
			a.PasswordEnvelope = []byte{1, 2, 3}
			a.Wallet = "wallet"
			a.Salt = "salt"
			a.ActivationCodeHash = account.HashCode("code")
			return a, nil
		})
		Expect(err).NotTo(HaveOccurred())

		got, err := repo.GetByIdentity(ctx, alice)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(created.ID))
		Expect(got.PasswordEnvelope).To(Equal([]byte{1, 2, 3}))
		Expect(got.Identity.Kind()).To(Equal(identity.KindEmail))

		byCode, err := repo.GetByActivationCodeHash(ctx, account.HashCode("code"))
		Expect(err).NotTo(HaveOccurred())
		Expect(byCode.ID).To(Equal(created.ID))
	})

	It("reports a missing identity as not found", func(ctx SpecContext) {
		_, err := repo.GetByIdentity(ctx, alice)
		Expect(err).To(MatchError(account.ErrNotFound))
		Expect(errutil.KindOf(err)).To(Equal(errutil.KindInternal))
	})

	It("serializes concurrent upserts of one identity", func(ctx SpecContext) {
		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				_, err := repo.Upsert(ctx, alice, func(existing *account.Account) (*account.Account, error) {
					if existing != nil {
						return nil, errutil.Client(errutil.KindConflict, "ACCOUNT_ALREADY_REGISTERED", "taken").Errorf("taken")
					}
					return newAccount(alice), nil
				})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				Expect(errutil.KindOf(err)).To(Equal(errutil.KindConflict))
			}()
		}
		wg.Wait()
		Expect(successes).To(Equal(1))
	})

	It("lists only crm-pending accounts oldest first", func(ctx SpecContext) {
		for i, raw := range []string{"a@example.com", "b@example.com", "c@example.com"} {
			email, err := identity.ParseEmail(raw)
			Expect(err).NotTo(HaveOccurred())
			_, err = repo.Upsert(ctx, email, func(*account.Account) (*account.Account, error) {
				a := newAccount(email)
				a.CreatedAt = a.CreatedAt.Add(time.Duration(i) * time.Second)
				if i == 1 {
					a.CRMState = account.CRMSynced
				}
				return a, nil
			})
			Expect(err).NotTo(HaveOccurred())
		}

		pending, err := repo.ListCRMPending(ctx, account.Cursor{}, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(2))
		Expect(pending[0].Identity.String()).To(Equal("a@example.com"))
		Expect(pending[1].Identity.String()).To(Equal("c@example.com"))

		next, err := repo.ListCRMPending(ctx, account.CursorAfter(pending[0]), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(next).To(HaveLen(1))
		Expect(next[0].Identity.String()).To(Equal("c@example.com"))
	})
})
