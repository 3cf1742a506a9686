package packages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/LockerBox/internal/broker/messages"
	"github.com/BearBump/LockerBox/internal/cache"
	"github.com/BearBump/LockerBox/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CreatePackage(ctx context.Context, pkg *models.PackageInfo) error
	GetPackage(ctx context.Context, boxID, packageID string) (*models.PackageInfo, error)
	ListPackages(ctx context.Context, boxID string, includeHidden bool) ([]*models.PackageInfo, error)
	SavePackage(ctx context.Context, pkg *models.PackageInfo) error
}

type BoxReader interface {
	GetBox(ctx context.Context, boxID string) (*models.Box, error)
}

type RegisterInput struct {
	TrackingNumber string `json:"trackingNumber"`
	CourierCompany string `json:"courierCompany"`
}

type Service struct {
	repo       Repository
	boxes      BoxReader
	cache      cache.BytesCache
	currentTTL time.Duration
	now        func() time.Time
	newID      func() string
}

func New(repo Repository, boxes BoxReader, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		boxes:      boxes,
		cache:      c,
		currentTTL: currentTTL,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
}

// Register adds a package the user typed in by hand.
func (s *Service) Register(ctx context.Context, boxID, userID string, in RegisterInput) (*models.PackageInfo, error) {
	return s.create(ctx, boxID, userID, in.TrackingNumber, in.CourierCompany, false, 1)
}

// ConfirmDetection stores a detection the user accepted.
func (s *Service) ConfirmDetection(ctx context.Context, boxID, userID string, d models.ExtractedPackageInfo) (*models.PackageInfo, error) {
	if d.Confidence < 0 || d.Confidence > 1 {
		return nil, errors.Wrap(models.ErrInvalidArgument, "confidence must be within [0,1]")
	}
	return s.create(ctx, boxID, userID, d.TrackingNumber, d.CourierCompany, true, d.Confidence)
}

func (s *Service) create(ctx context.Context, boxID, userID, tracking, courier string, auto bool, confidence float64) (*models.PackageInfo, error) {
	tracking = normalizeTracking(tracking)
	courier = strings.TrimSpace(courier)
	if tracking == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "trackingNumber is required")
	}
	if courier == "" {
		return nil, errors.Wrap(models.ErrInvalidArgument, "courierCompany is required")
	}
	if err := s.authorize(ctx, boxID, userID); err != nil {
		return nil, err
	}

	now := s.now()
	pkg := &models.PackageInfo{
		ID:             s.newID(),
		BoxID:          boxID,
		TrackingNumber: tracking,
		CourierCompany: courier,
		Status:         models.StatusRegistered,
		DeliverySteps: []models.DeliveryStep{{
			StepType:    models.StatusRegistered,
			Description: "운송장 등록",
			Timestamp:   now,
			IsCompleted: true,
		}},
		RegisteredAt:   now,
		LastUpdated:    now,
		IsAutoDetected: auto,
		Confidence:     confidence,
	}
	if err := s.repo.CreatePackage(ctx, pkg); err != nil {
		return nil, errors.Wrap(err, "create package")
	}
	return pkg, nil
}

func (s *Service) List(ctx context.Context, boxID, userID string, includeHidden bool) ([]*models.PackageInfo, error) {
	if err := s.authorize(ctx, boxID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListPackages(ctx, boxID, includeHidden)
}

// Get returns the current view of a package, from cache when possible.
func (s *Service) Get(ctx context.Context, boxID, userID, packageID string) (*models.PackageInfo, error) {
	if err := s.authorize(ctx, boxID, userID); err != nil {
		return nil, err
	}

	if s.cacheEnabled() {
		if b, ok, err := s.cache.Get(ctx, currentKey(boxID, packageID)); err == nil && ok {
			var p models.PackageInfo
			if json.Unmarshal(b, &p) == nil {
				return &p, nil
			}
		}
	}

	p, err := s.repo.GetPackage(ctx, boxID, packageID)
	if err != nil {
		return nil, err
	}
	s.storeCurrent(ctx, p)
	return p, nil
}

// MarkReceived records that the resident took the package out of the box.
// Calling it again is a no-op.
func (s *Service) MarkReceived(ctx context.Context, boxID, userID, packageID string) (*models.PackageInfo, error) {
	if err := s.authorize(ctx, boxID, userID); err != nil {
		return nil, err
	}
	p, err := s.repo.GetPackage(ctx, boxID, packageID)
	if err != nil {
		return nil, err
	}
	if p.Status == models.StatusDelivered {
		return p, nil
	}
	if err := models.CheckTransition(p.Status, models.StatusDelivered); err != nil {
		return nil, err
	}

	now := s.now()
	p.DeliverySteps = append(p.DeliverySteps, models.DeliveryStep{
		StepType:    models.StatusDelivered,
		Description: "수령 완료",
		Timestamp:   now,
		IsCompleted: true,
	})
	models.SortSteps(p.DeliverySteps)
	p.Status = models.StatusDelivered
	p.IsDelivered = true
	p.DeliveredAt = &now
	p.LastUpdated = now

	if err := s.repo.SavePackage(ctx, p); err != nil {
		return nil, errors.Wrap(err, "save package")
	}
	s.dropCurrent(ctx, boxID, packageID)
	return p, nil
}

// Hide removes a package from the default listing. Its tracking number can
// be registered again afterwards.
func (s *Service) Hide(ctx context.Context, boxID, userID, packageID string) error {
	if err := s.authorize(ctx, boxID, userID); err != nil {
		return err
	}
	p, err := s.repo.GetPackage(ctx, boxID, packageID)
	if err != nil {
		return err
	}
	if p.IsHidden {
		return nil
	}
	p.IsHidden = true
	p.LastUpdated = s.now()
	if err := s.repo.SavePackage(ctx, p); err != nil {
		return errors.Wrap(err, "save package")
	}
	s.dropCurrent(ctx, boxID, packageID)
	return nil
}

// ApplyStatusChange refreshes the cached view after the reconciler wrote a
// new status.
func (s *Service) ApplyStatusChange(ctx context.Context, msg messages.PackageStatusChanged) error {
	if msg.BoxID == "" || msg.PackageID == "" {
		return errors.Wrap(models.ErrInvalidArgument, "box_id and package_id are required")
	}
	if msg.Package != nil {
		s.storeCurrent(ctx, msg.Package)
		return nil
	}
	s.dropCurrent(ctx, msg.BoxID, msg.PackageID)
	return nil
}

func (s *Service) authorize(ctx context.Context, boxID, userID string) error {
	if boxID == "" {
		return errors.Wrap(models.ErrInvalidArgument, "boxId is required")
	}
	if userID == "" {
		return errors.Wrap(models.ErrForbidden, "user is required")
	}
	box, err := s.boxes.GetBox(ctx, boxID)
	if err != nil {
		return err
	}
	if _, ok := box.Members[userID]; !ok {
		return errors.Wrapf(models.ErrForbidden, "user %s has no access to box %s", userID, boxID)
	}
	return nil
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

func (s *Service) storeCurrent(ctx context.Context, p *models.PackageInfo) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(p.BoxID, p.ID), b, s.currentTTL)
}

func (s *Service) dropCurrent(ctx context.Context, boxID, packageID string) {
	if !s.cacheEnabled() {
		return
	}
	_ = s.cache.Delete(ctx, currentKey(boxID, packageID))
}

func currentKey(boxID, packageID string) string {
	return fmt.Sprintf("package:%s:%s:current", boxID, packageID)
}

func normalizeTracking(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
