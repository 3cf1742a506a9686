// Package reconciler pulls carrier progress for undelivered packages and
// moves their status forward. One run walks every box with active
// packages; a single box can also be reconciled on demand.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/integrations/carrier"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type Repository interface {
	ListBoxesWithActivePackages(ctx context.Context) ([]string, error)
	ListActivePackages(ctx context.Context, boxID string) ([]*models.PackageInfo, error)
	SavePackage(ctx context.Context, pkg *models.PackageInfo) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Settings struct {
	Concurrency        int
	StaleAfter         time.Duration
	TrackerTimeout     time.Duration
	RateLimitPerMinute int64
	PublishAttempts    int
}

func DefaultSettings() Settings {
	return Settings{
		Concurrency:        4,
		StaleAfter:         time.Hour,
		TrackerTimeout:     15 * time.Second,
		RateLimitPerMinute: 60,
		PublishAttempts:    3,
	}
}

// Result counts what happened to the packages of one box.
type Result struct {
	BoxID   string `json:"boxId"`
	Checked int    `json:"checked"`
	Skipped int    `json:"skipped"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
}

type Reconciler struct {
	repo     Repository
	tracker  carrier.Client
	producer Producer
	rl       RateLimiter

	topic    string
	planner  *Planner
	settings Settings
	now      func() time.Time

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastRunUnixNano     atomic.Int64
	lastTriggerUnixNano atomic.Int64
	nextRunUnixNano     atomic.Int64
	totalRuns           atomic.Int64
	failedRuns          atomic.Int64
	totalChecked        atomic.Int64
	totalSkipped        atomic.Int64
	totalUpdated        atomic.Int64
	totalFailed         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, tracker carrier.Client, producer Producer, rl RateLimiter, topic string) *Reconciler {
	if topic == "" {
		topic = messages.TopicPackageStatusChanged
	}
	return &Reconciler{
		repo: repo, tracker: tracker, producer: producer, rl: rl, topic: topic,
		planner:           NewPlanner(DefaultPlannerConfig(), nil),
		settings:          DefaultSettings(),
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

// WithSettings overrides the non-zero fields of s.
func (r *Reconciler) WithSettings(s Settings) *Reconciler {
	if s.Concurrency > 0 {
		r.settings.Concurrency = s.Concurrency
	}
	if s.StaleAfter > 0 {
		r.settings.StaleAfter = s.StaleAfter
	}
	if s.TrackerTimeout > 0 {
		r.settings.TrackerTimeout = s.TrackerTimeout
	}
	if s.RateLimitPerMinute > 0 {
		r.settings.RateLimitPerMinute = s.RateLimitPerMinute
	}
	if s.PublishAttempts > 0 {
		r.settings.PublishAttempts = s.PublishAttempts
	}
	return r
}

func (r *Reconciler) WithPlanner(cfg PlannerConfig) *Reconciler {
	r.planner = NewPlanner(cfg, nil)
	return r
}

func (r *Reconciler) Settings() Settings {
	return r.settings
}

// Trigger forces an immediate run (best-effort, non-blocking).
func (r *Reconciler) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	FailedRuns    int64      `json:"failedRuns"`
	TotalChecked  int64      `json:"totalChecked"`
	TotalSkipped  int64      `json:"totalSkipped"`
	TotalUpdated  int64      `json:"totalUpdated"`
	TotalFailed   int64      `json:"totalFailed"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalRuns:    r.totalRuns.Load(),
		FailedRuns:   r.failedRuns.Load(),
		TotalChecked: r.totalChecked.Load(),
		TotalSkipped: r.totalSkipped.Load(),
		TotalUpdated: r.totalUpdated.Load(),
		TotalFailed:  r.totalFailed.Load(),
		InFlight:     r.inFlight.Load(),
	}
	st.LastRunAt = unixPtr(r.lastRunUnixNano.Load())
	st.LastTriggerAt = unixPtr(r.lastTriggerUnixNano.Load())
	st.NextRunAt = unixPtr(r.nextRunUnixNano.Load())
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func unixPtr(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

func (r *Reconciler) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}

// Run reconciles immediately, then again after the planned delay. A failed
// run is retried with a growing backoff; Trigger cuts any wait short.
func (r *Reconciler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	var fails int32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-r.triggerCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		var delay time.Duration
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fails++
			delay = r.planner.BackoffDelay(fails)
			slog.Error("reconcile run failed", "error", err.Error(), "fails", fails, "retry_in", delay.String())
		} else {
			fails = 0
			delay = r.planner.NextRunDelay()
		}
		r.nextRunUnixNano.Store(time.Now().UTC().Add(delay).UnixNano())
		timer.Reset(delay)
	}
}

// RunOnce reconciles every box that has active packages. A box whose
// reconciliation fails does not stop the boxes after it; the run is
// reported as failed once all of them were tried.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	r.lastRunUnixNano.Store(time.Now().UTC().UnixNano())
	r.totalRuns.Add(1)

	err := r.runOnce(ctx)
	if err != nil {
		r.failedRuns.Add(1)
		r.setLastError(err)
	}
	return err
}

func (r *Reconciler) runOnce(ctx context.Context) error {
	boxes, err := r.repo.ListBoxesWithActivePackages(ctx)
	if err != nil {
		return errors.Wrap(err, "list boxes")
	}

	var firstErr error
	failedBoxes := 0
	for _, boxID := range boxes {
		res, err := r.ReconcileBox(ctx, boxID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failedBoxes++
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "reconcile box %s", boxID)
			}
			slog.Error("box reconcile failed", "box_id", boxID, "error", err.Error())
			continue
		}
		slog.Info("box reconciled",
			"box_id", boxID,
			"checked", res.Checked,
			"skipped", res.Skipped,
			"updated", res.Updated,
			"failed", res.Failed,
		)
	}
	if firstErr != nil {
		return errors.Wrapf(firstErr, "%d of %d boxes failed", failedBoxes, len(boxes))
	}
	return nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeSkipped
	outcomeFailed
)

// ReconcileBox checks every stale active package of boxID. Failures of a
// single package are counted in Result; an error is returned only when the
// tracking API or the store is unreachable.
func (r *Reconciler) ReconcileBox(ctx context.Context, boxID string) (Result, error) {
	res := Result{BoxID: boxID}

	pkgs, err := r.repo.ListActivePackages(ctx, boxID)
	if err != nil {
		return res, errors.Wrap(err, "list active packages")
	}

	now := r.now()
	var checked, skipped, updated, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Concurrency)
	for _, pkg := range pkgs {
		if models.IsTerminal(pkg.Status) || now.Sub(pkg.LastUpdated) < r.settings.StaleAfter {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			r.inFlight.Add(1)
			defer r.inFlight.Add(-1)

			out, err := r.reconcilePackage(gctx, pkg, now)
			if err != nil {
				return err
			}
			switch out {
			case outcomeSkipped:
				skipped.Add(1)
				return nil
			case outcomeFailed:
				failed.Add(1)
			case outcomeUpdated:
				updated.Add(1)
			}
			checked.Add(1)
			return nil
		})
	}
	err = g.Wait()

	res.Checked = int(checked.Load())
	res.Skipped = int(skipped.Load())
	res.Updated = int(updated.Load())
	res.Failed = int(failed.Load())
	r.totalChecked.Add(checked.Load())
	r.totalSkipped.Add(skipped.Load())
	r.totalUpdated.Add(updated.Load())
	r.totalFailed.Add(failed.Load())
	return res, err
}

// reconcilePackage returns an error only for failures that must abort the
// whole run.
func (r *Reconciler) reconcilePackage(ctx context.Context, pkg *models.PackageInfo, now time.Time) (outcome, error) {
	carrierID := carrier.ResolveCarrierID(pkg.CourierCompany)
	log := slog.With("box_id", pkg.BoxID, "package_id", pkg.ID, "carrier", carrierID)

	if r.rl != nil && r.settings.RateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:carrier:%s:%s", carrierID, now.Format("200601021504"))
		allowed, n, err := r.rl.Allow(ctx, key, r.settings.RateLimitPerMinute, 70*time.Second)
		if err != nil {
			log.Warn("rate limiter unavailable", "error", err.Error())
			return outcomeFailed, nil
		}
		if !allowed {
			// Дойдём до посылки в следующем прогоне.
			log.Warn("carrier rate limit exceeded", "count", n)
			return outcomeSkipped, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.settings.TrackerTimeout)
	resp, err := r.tracker.GetTrack(callCtx, carrierID, pkg.TrackingNumber)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return outcomeFailed, ctx.Err()
		}
		if errors.Is(err, carrier.ErrUnavailable) {
			return outcomeFailed, errors.Wrap(err, "get track")
		}
		log.Warn("get track failed", "error", err.Error())
		return outcomeFailed, nil
	}

	steps := buildSteps(resp.Progresses)
	if len(steps) == 0 {
		return outcomeUnchanged, nil
	}
	latest := steps[len(steps)-1]
	derived := latest.StepType
	if derived == pkg.Status {
		return outcomeUnchanged, nil
	}
	if err := models.CheckTransition(pkg.Status, derived); err != nil {
		log.Warn("carrier reported a rejected transition", "from", pkg.Status, "to", derived)
		return outcomeUnchanged, nil
	}
	if models.IsRegression(pkg.Status, derived) {
		log.Warn("carrier reported a status regression", "from", pkg.Status, "to", derived)
	}

	upd := *pkg
	upd.Status = derived
	upd.DeliverySteps = steps
	upd.LastUpdated = now
	if resp.EstimatedDelivery != nil {
		est := resp.EstimatedDelivery.UTC()
		upd.EstimatedDelivery = &est
	}
	if derived == models.StatusDelivered && !pkg.IsDelivered {
		at := latest.Timestamp
		upd.IsDelivered = true
		upd.DeliveredAt = &at
	}

	if err := r.repo.SavePackage(ctx, &upd); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Warn("package vanished during reconcile")
			return outcomeFailed, nil
		}
		return outcomeFailed, errors.Wrap(err, "save package")
	}

	r.publishChange(ctx, pkg.Status, &upd)
	return outcomeUpdated, nil
}

func (r *Reconciler) publishChange(ctx context.Context, previous models.DeliveryStatus, pkg *models.PackageInfo) {
	if r.producer == nil {
		return
	}
	b, err := json.Marshal(messages.PackageStatusChanged{
		BoxID:           pkg.BoxID,
		PackageID:       pkg.ID,
		TrackingNumber:  pkg.TrackingNumber,
		CourierCompany:  pkg.CourierCompany,
		PreviousStatus:  previous,
		Status:          pkg.Status,
		ProgressPercent: pkg.ProgressPercent(),
		ChangedAt:       pkg.LastUpdated,
		Package:         pkg,
	})
	if err != nil {
		slog.Error("marshal status change", "package_id", pkg.ID, "error", err.Error())
		return
	}

	var pubErr error
	for i := 0; i < r.settings.PublishAttempts; i++ {
		if pubErr = r.producer.Publish(ctx, r.topic, []byte(pkg.BoxID), b); pubErr == nil {
			return
		}
		if i == r.settings.PublishAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	slog.Error("publish status change", "package_id", pkg.ID, "error", pubErr.Error())
}
