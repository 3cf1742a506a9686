package pgbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPG(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "lockerbox_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/lockerbox_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@h:5432/db", migrateURL("postgres://u:p@h:5432/db"))
	require.Equal(t, "pgx5://u:p@h:5432/db", migrateURL("postgresql://u:p@h:5432/db"))
	require.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestPGBox_ClaimFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	st := startPG(t)

	require.NoError(t, st.ProvisionBox(ctx, &models.Box{ID: "BOX-1", BatchName: "b1"}))
	// повторная инициализация не затирает ячейку
	require.NoError(t, st.ProvisionBox(ctx, &models.Box{ID: "BOX-1", BatchName: "other"}))

	b, err := st.GetBox(ctx, "BOX-1")
	require.NoError(t, err)
	require.Equal(t, models.BoxStatusAvailable, b.Status)
	require.Equal(t, "b1", b.BatchName)
	require.Empty(t, b.OwnerID)

	_, err = st.GetBox(ctx, "nope")
	require.True(t, errors.Is(err, models.ErrNotFound))

	now := time.Now().UTC().Truncate(time.Microsecond)
	err = st.RunInTx(ctx, func(ctx context.Context, tx storage.BoxTx) error {
		box, err := tx.GetBoxForUpdate(ctx, "BOX-1")
		if err != nil {
			return err
		}
		m, err := tx.GetMembershipForUpdate(ctx, "u1")
		if err != nil {
			return err
		}
		box.Status = models.BoxStatusRegistered
		box.OwnerID = "u1"
		box.RegisteredAt = &now
		box.Members = map[string]string{"u1": models.MemberRoleOwner}
		m.BoxAliases["BOX-1"] = "home"
		m.MainBoxID = "BOX-1"
		if err := tx.PutBox(ctx, box); err != nil {
			return err
		}
		return tx.PutMembership(ctx, m)
	})
	require.NoError(t, err)

	b, err = st.GetBox(ctx, "BOX-1")
	require.NoError(t, err)
	require.Equal(t, models.BoxStatusRegistered, b.Status)
	require.Equal(t, "u1", b.OwnerID)
	require.Equal(t, models.MemberRoleOwner, b.Members["u1"])
	require.NotNil(t, b.RegisteredAt)
	require.WithinDuration(t, now, *b.RegisteredAt, time.Millisecond)

	m, err := st.GetMembership(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"BOX-1": "home"}, m.BoxAliases)
	require.Equal(t, "BOX-1", m.MainBoxID)

	// ошибка внутри fn откатывает всё
	boom := errors.New("boom")
	err = st.RunInTx(ctx, func(ctx context.Context, tx storage.BoxTx) error {
		box, err := tx.GetBoxForUpdate(ctx, "BOX-1")
		if err != nil {
			return err
		}
		box.Status = models.BoxStatusInactive
		if err := tx.PutBox(ctx, box); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	b, err = st.GetBox(ctx, "BOX-1")
	require.NoError(t, err)
	require.Equal(t, models.BoxStatusRegistered, b.Status)
}

func TestPGBox_ConcurrentClaimsSerialize(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	st := startPG(t)
	require.NoError(t, st.ProvisionBox(ctx, &models.Box{ID: "BOX-2"}))

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for i := 0; i < n; i++ {
		user := "user-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.RunInTx(ctx, func(ctx context.Context, tx storage.BoxTx) error {
				box, err := tx.GetBoxForUpdate(ctx, "BOX-2")
				if err != nil {
					return err
				}
				if box.Status != models.BoxStatusAvailable {
					return models.ErrConflict
				}
				box.Status = models.BoxStatusRegistered
				box.OwnerID = user
				return tx.PutBox(ctx, box)
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, user)
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.ErrorIs(t, err, models.ErrConflict)
	}
	require.Len(t, winners, 1)
	b, err := st.GetBox(ctx, "BOX-2")
	require.NoError(t, err)
	require.Equal(t, winners[0], b.OwnerID)
}

func TestPGBox_Packages(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()
	st := startPG(t)
	require.NoError(t, st.ProvisionBox(ctx, &models.Box{ID: "BOX-3"}))

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &models.PackageInfo{
		ID:             "p1",
		BoxID:          "BOX-3",
		TrackingNumber: "1234567890",
		CourierCompany: "CJ대한통운",
		Status:         models.StatusRegistered,
		RegisteredAt:   now,
		LastUpdated:    now,
		Confidence:     1,
	}
	require.NoError(t, st.CreatePackage(ctx, p))

	dup := *p
	dup.ID = "p2"
	require.ErrorIs(t, st.CreatePackage(ctx, &dup), models.ErrDuplicatePackage)

	orphan := *p
	orphan.ID = "p3"
	orphan.BoxID = "missing"
	require.ErrorIs(t, st.CreatePackage(ctx, &orphan), models.ErrNotFound)

	boxes, err := st.ListBoxesWithActivePackages(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"BOX-3"}, boxes)

	loc := "서울"
	p.Status = models.StatusInTransit
	p.DeliverySteps = []models.DeliveryStep{
		{StepType: models.StatusRegistered, Description: "접수", Timestamp: now.Add(-time.Hour), IsCompleted: true},
		{StepType: models.StatusInTransit, Description: "간선하차", Location: &loc, Timestamp: now, IsCompleted: true},
	}
	p.LastUpdated = now.Add(time.Minute)
	require.NoError(t, st.SavePackage(ctx, p))

	got, err := st.GetPackage(ctx, "BOX-3", "p1")
	require.NoError(t, err)
	require.Equal(t, models.StatusInTransit, got.Status)
	require.Len(t, got.DeliverySteps, 2)
	require.Equal(t, "서울", *got.DeliverySteps[1].Location)

	active, err := st.ListActivePackages(ctx, "BOX-3")
	require.NoError(t, err)
	require.Len(t, active, 1)

	// скрытая посылка освобождает номер
	p.IsHidden = true
	require.NoError(t, st.SavePackage(ctx, p))
	require.NoError(t, st.CreatePackage(ctx, &dup))

	visible, err := st.ListPackages(ctx, "BOX-3", false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "p2", visible[0].ID)

	all, err := st.ListPackages(ctx, "BOX-3", true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	missing := *p
	missing.ID = "nope"
	require.ErrorIs(t, st.SavePackage(ctx, &missing), models.ErrNotFound)
}
