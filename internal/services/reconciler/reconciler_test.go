package reconciler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/integrations/carrier"
	"github.com/BearBump/LockerBox/internal/models"
	reconcilermocks "github.com/BearBump/LockerBox/internal/services/reconciler/mocks"
	"github.com/BearBump/LockerBox/internal/storage/memstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

type trackerFunc func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error)

func (f trackerFunc) GetTrack(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
	return f(ctx, carrierID, trackID)
}

type fakeProducer struct {
	mu    sync.Mutex
	topic string
	key   []byte
	value []byte
	calls int
	err   error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.topic, p.key, p.value = topic, key, value
	return p.err
}

// countingRepo wraps memstore and counts writes.
type countingRepo struct {
	*memstore.Store
	saves   atomic.Int64
	listErr error
}

func (r *countingRepo) SavePackage(ctx context.Context, pkg *models.PackageInfo) error {
	r.saves.Add(1)
	return r.Store.SavePackage(ctx, pkg)
}

func (r *countingRepo) ListBoxesWithActivePackages(ctx context.Context) ([]string, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.Store.ListBoxesWithActivePackages(ctx)
}

func newRepo(t *testing.T, pkgs ...*models.PackageInfo) *countingRepo {
	t.Helper()
	st := memstore.New()
	ctx := context.Background()
	for _, p := range pkgs {
		require.NoError(t, st.ProvisionBox(ctx, &models.Box{ID: p.BoxID}))
		require.NoError(t, st.CreatePackage(ctx, p))
	}
	return &countingRepo{Store: st}
}

func pkg(id string, status models.DeliveryStatus, lastUpdated time.Time) *models.PackageInfo {
	return &models.PackageInfo{
		ID:             id,
		BoxID:          "BOX-1",
		TrackingNumber: "TN-" + id,
		CourierCompany: "CJ대한통운",
		Status:         status,
		DeliverySteps:  []models.DeliveryStep{},
		RegisteredAt:   lastUpdated,
		LastUpdated:    lastUpdated,
	}
}

func newReconciler(repo Repository, tr carrier.Client, prod Producer, rl RateLimiter) *Reconciler {
	r := New(repo, tr, prod, rl, "")
	r.now = func() time.Time { return testNow }
	return r
}

func progress(ago time.Duration, text string) carrier.Progress {
	return carrier.Progress{Time: testNow.Add(-ago), StatusText: text}
}

func TestReconcileBox_SkipsFreshPackages(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusInTransit, testNow.Add(-30*time.Minute)))
	var calls atomic.Int64
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		calls.Add(1)
		return carrier.TrackResponse{}, nil
	})

	res, err := newReconciler(repo, tr, &fakeProducer{}, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, Result{BoxID: "BOX-1", Skipped: 1}, res)
	require.Zero(t, calls.Load())
	require.Zero(t, repo.saves.Load())
}

func TestReconcileBox_UnchangedStatusWritesNothing(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusInTransit, testNow.Add(-2*time.Hour)))
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{Progresses: []carrier.Progress{
			progress(5*time.Hour, "접수"),
			progress(3*time.Hour, "간선하차"),
		}}, nil
	})
	prod := &fakeProducer{}

	res, err := newReconciler(repo, tr, prod, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Zero(t, res.Updated)
	require.Zero(t, repo.saves.Load())
	require.Zero(t, prod.calls)

	got, err := repo.GetPackage(context.Background(), "BOX-1", "p1")
	require.NoError(t, err)
	require.Equal(t, testNow.Add(-2*time.Hour), got.LastUpdated)
}

func TestReconcileBox_EmptyProgressWritesNothing(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusRegistered, testNow.Add(-2*time.Hour)))
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{}, nil
	})

	res, err := newReconciler(repo, tr, &fakeProducer{}, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Checked)
	require.Zero(t, repo.saves.Load())
}

func TestReconcileBox_UpdatesFromLatestStep(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusRegistered, testNow.Add(-2*time.Hour)))
	eta := testNow.Add(24 * time.Hour)
	var gotCarrier, gotTrack string
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		gotCarrier, gotTrack = carrierID, trackID
		// out of order on purpose
		return carrier.TrackResponse{
			EstimatedDelivery: &eta,
			Progresses: []carrier.Progress{
				progress(10*time.Minute, "배송출발"),
				progress(5*time.Hour, "접수"),
				progress(3*time.Hour, "간선하차"),
			},
		}, nil
	})
	prod := &fakeProducer{}

	res, err := newReconciler(repo, tr, prod, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, Result{BoxID: "BOX-1", Checked: 1, Updated: 1}, res)
	require.Equal(t, "kr.cjlogistics", gotCarrier)
	require.Equal(t, "TN-p1", gotTrack)

	got, err := repo.GetPackage(context.Background(), "BOX-1", "p1")
	require.NoError(t, err)
	require.Equal(t, models.StatusOutForDelivery, got.Status)
	require.Len(t, got.DeliverySteps, 3)
	require.Equal(t, models.StatusRegistered, got.DeliverySteps[0].StepType)
	require.Equal(t, models.StatusOutForDelivery, got.DeliverySteps[2].StepType)
	require.Equal(t, testNow, got.LastUpdated)
	require.NotNil(t, got.EstimatedDelivery)
	require.False(t, got.IsDelivered)

	require.Equal(t, 1, prod.calls)
	require.Equal(t, messages.TopicPackageStatusChanged, prod.topic)
	require.Equal(t, []byte("BOX-1"), prod.key)
	var ev messages.PackageStatusChanged
	require.NoError(t, json.Unmarshal(prod.value, &ev))
	require.Equal(t, models.StatusRegistered, ev.PreviousStatus)
	require.Equal(t, models.StatusOutForDelivery, ev.Status)
	require.Equal(t, 75, ev.ProgressPercent)
}

func TestReconcileBox_NewlyDeliveredSetsDeliveredAt(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusOutForDelivery, testNow.Add(-2*time.Hour)))
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{Progresses: []carrier.Progress{
			progress(3*time.Hour, "배송출발"),
			progress(30*time.Minute, "배달완료"),
		}}, nil
	})

	_, err := newReconciler(repo, tr, &fakeProducer{}, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)

	got, err := repo.GetPackage(context.Background(), "BOX-1", "p1")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, got.Status)
	require.True(t, got.IsDelivered)
	require.NotNil(t, got.DeliveredAt)
	require.Equal(t, testNow.Add(-30*time.Minute), *got.DeliveredAt)
}

func TestReconcileBox_DeliveredIsNeverMovedToInBox(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusDelivered, testNow.Add(-5*time.Hour)))
	var calls atomic.Int64
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		calls.Add(1)
		return carrier.TrackResponse{Progresses: []carrier.Progress{
			{Time: testNow, StatusText: "배달완료", Description: "무인택배함 보관"},
		}}, nil
	})

	_, err := newReconciler(repo, tr, &fakeProducer{}, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Zero(t, repo.saves.Load())

	got, err := repo.GetPackage(context.Background(), "BOX-1", "p1")
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, got.Status)

	// the transition guard also holds when a delivered package is handed in directly
	r := newReconciler(repo, tr, &fakeProducer{}, nil)
	out, err := r.reconcilePackage(context.Background(), got, testNow)
	require.NoError(t, err)
	require.Equal(t, outcomeUnchanged, out)
	require.Zero(t, repo.saves.Load())
}

func TestReconcileBox_RegressionIsAccepted(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusOutForDelivery, testNow.Add(-2*time.Hour)))
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{Progresses: []carrier.Progress{progress(time.Hour, "간선하차")}}, nil
	})

	res, err := newReconciler(repo, tr, &fakeProducer{}, nil).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)

	got, err := repo.GetPackage(context.Background(), "BOX-1", "p1")
	require.NoError(t, err)
	require.Equal(t, models.StatusInTransit, got.Status)
}

func TestReconcileBox_PerPackageFailuresAreIsolated(t *testing.T) {
	repo := newRepo(t,
		pkg("slow", models.StatusRegistered, testNow.Add(-2*time.Hour)),
		pkg("missing", models.StatusRegistered, testNow.Add(-2*time.Hour)),
		pkg("ok", models.StatusRegistered, testNow.Add(-2*time.Hour)),
	)
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		switch trackID {
		case "TN-slow":
			<-ctx.Done()
			return carrier.TrackResponse{}, errors.Wrap(ctx.Err(), "get track")
		case "TN-missing":
			return carrier.TrackResponse{}, carrier.ErrTrackNotFound
		}
		return carrier.TrackResponse{Progresses: []carrier.Progress{progress(time.Hour, "집하")}}, nil
	})

	r := newReconciler(repo, tr, &fakeProducer{}, nil).WithSettings(Settings{TrackerTimeout: 20 * time.Millisecond})
	res, err := r.ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, 3, res.Checked)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, 1, res.Updated)

	got, err := repo.GetPackage(context.Background(), "BOX-1", "ok")
	require.NoError(t, err)
	require.Equal(t, models.StatusPickedUp, got.Status)
}

func TestReconcileBox_UnavailableFailsTheRun(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusRegistered, testNow.Add(-2*time.Hour)))
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{}, errors.Wrap(carrier.ErrUnavailable, "dial tcp: connection refused")
	})

	r := newReconciler(repo, tr, &fakeProducer{}, nil)
	_, err := r.ReconcileBox(context.Background(), "BOX-1")
	require.ErrorIs(t, err, carrier.ErrUnavailable)

	require.Error(t, r.RunOnce(context.Background()))
	st := r.Stats()
	require.Equal(t, int64(1), st.TotalRuns)
	require.Equal(t, int64(1), st.FailedRuns)
	require.Contains(t, st.LastError, "tracking api unavailable")
}

func TestReconcileBox_RateLimitedPackageIsSkipped(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusRegistered, testNow.Add(-2*time.Hour)))
	var calls atomic.Int64
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		calls.Add(1)
		return carrier.TrackResponse{}, nil
	})
	rl := &reconcilermocks.RateLimiter{}
	rl.On("Allow", mock.Anything, "rl:carrier:kr.cjlogistics:202604021200", int64(60), 70*time.Second).
		Return(false, int64(61), nil).Once()

	res, err := newReconciler(repo, tr, &fakeProducer{}, rl).ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, Result{BoxID: "BOX-1", Skipped: 1}, res)
	require.Zero(t, calls.Load())
	rl.AssertExpectations(t)
}

func TestReconcileBox_PublishFailureDoesNotFailPackage(t *testing.T) {
	repo := newRepo(t, pkg("p1", models.StatusRegistered, testNow.Add(-2*time.Hour)))
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{Progresses: []carrier.Progress{progress(time.Hour, "집하")}}, nil
	})
	prod := &fakeProducer{err: errors.New("kafka down")}

	r := newReconciler(repo, tr, prod, nil).WithSettings(Settings{PublishAttempts: 2})
	res, err := r.ReconcileBox(context.Background(), "BOX-1")
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 2, prod.calls)
}

func TestRunOnce_StoreFailure(t *testing.T) {
	repo := newRepo(t)
	repo.listErr = errors.New("connection reset")

	r := newReconciler(repo, trackerFunc(nil), &fakeProducer{}, nil)
	err := r.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, int64(1), r.Stats().FailedRuns)
}

func TestRunOnce_WalksAllBoxes(t *testing.T) {
	p1 := pkg("p1", models.StatusRegistered, testNow.Add(-2*time.Hour))
	p2 := pkg("p2", models.StatusRegistered, testNow.Add(-2*time.Hour))
	p2.BoxID = "BOX-2"
	repo := newRepo(t, p1, p2)
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		return carrier.TrackResponse{Progresses: []carrier.Progress{progress(time.Hour, "집하")}}, nil
	})

	r := newReconciler(repo, tr, &fakeProducer{}, nil)
	require.NoError(t, r.RunOnce(context.Background()))
	st := r.Stats()
	require.Equal(t, int64(2), st.TotalUpdated)
	require.Equal(t, int64(0), st.FailedRuns)
	require.NotNil(t, st.LastRunAt)
}

func twoBoxRepo(t *testing.T) *countingRepo {
	t.Helper()
	bad := pkg("bad", models.StatusInTransit, testNow.Add(-2*time.Hour))
	bad.BoxID = "BOX-A"
	good := pkg("good", models.StatusInTransit, testNow.Add(-2*time.Hour))
	good.BoxID = "BOX-B"
	return newRepo(t, bad, good)
}

func TestRunOnce_CarrierErrorForOnePackageDoesNotStopOtherBoxes(t *testing.T) {
	repo := twoBoxRepo(t)
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		if trackID == "TN-bad" {
			return carrier.TrackResponse{}, errors.New("tracker http 502 for kr.cjlogistics/TN-bad")
		}
		return carrier.TrackResponse{Progresses: []carrier.Progress{progress(time.Hour, "배송출발")}}, nil
	})

	r := newReconciler(repo, tr, &fakeProducer{}, nil)
	require.NoError(t, r.RunOnce(context.Background()))

	got, err := repo.GetPackage(context.Background(), "BOX-B", "good")
	require.NoError(t, err)
	require.Equal(t, models.StatusOutForDelivery, got.Status)
	require.Equal(t, int64(1), repo.saves.Load())

	st := r.Stats()
	require.Equal(t, int64(1), st.TotalFailed)
	require.Equal(t, int64(1), st.TotalUpdated)
	require.Equal(t, int64(0), st.FailedRuns)
}

func TestRunOnce_FailedBoxDoesNotStarveLaterBoxes(t *testing.T) {
	repo := twoBoxRepo(t)
	tr := trackerFunc(func(ctx context.Context, carrierID, trackID string) (carrier.TrackResponse, error) {
		if trackID == "TN-bad" {
			return carrier.TrackResponse{}, errors.Wrap(carrier.ErrUnavailable, "dial tcp: connection refused")
		}
		return carrier.TrackResponse{Progresses: []carrier.Progress{progress(time.Hour, "배송출발")}}, nil
	})

	r := newReconciler(repo, tr, &fakeProducer{}, nil)
	err := r.RunOnce(context.Background())
	require.ErrorIs(t, err, carrier.ErrUnavailable)
	require.Contains(t, err.Error(), "BOX-A")

	got, err := repo.GetPackage(context.Background(), "BOX-B", "good")
	require.NoError(t, err)
	require.Equal(t, models.StatusOutForDelivery, got.Status)
	require.Equal(t, int64(1), r.Stats().FailedRuns)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := newRepo(t)
	r := newReconciler(repo, trackerFunc(nil), &fakeProducer{}, nil).
		WithPlanner(PlannerConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, r.Stats().TotalRuns, int64(1))
}

func TestTrigger_IsNonBlocking(t *testing.T) {
	r := newReconciler(newRepo(t), trackerFunc(nil), &fakeProducer{}, nil)
	r.Trigger()
	r.Trigger()
	require.Len(t, r.triggerCh, 1)
	require.NotNil(t, r.Stats().LastTriggerAt)
}
