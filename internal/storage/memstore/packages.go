package memstore

import (
	"context"
	"sort"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/pkg/errors"
)

func (s *Store) CreatePackage(ctx context.Context, pkg *models.PackageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boxes[pkg.BoxID]; !ok {
		return errors.Wrapf(models.ErrNotFound, "box %s", pkg.BoxID)
	}
	if _, ok := s.packages[pkg.ID]; ok {
		return errors.Errorf("package %s already exists", pkg.ID)
	}
	for _, p := range s.packages {
		if p.BoxID == pkg.BoxID && !p.IsHidden && p.TrackingNumber == pkg.TrackingNumber {
			return errors.Wrap(models.ErrDuplicatePackage, pkg.TrackingNumber)
		}
	}
	s.packages[pkg.ID] = clonePackage(pkg)
	return nil
}

func (s *Store) GetPackage(ctx context.Context, boxID, packageID string) (*models.PackageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[packageID]
	if !ok || p.BoxID != boxID {
		return nil, errors.Wrapf(models.ErrNotFound, "package %s", packageID)
	}
	return clonePackage(p), nil
}

func (s *Store) ListPackages(ctx context.Context, boxID string, includeHidden bool) ([]*models.PackageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.PackageInfo{}
	for _, p := range s.packages {
		if p.BoxID != boxID || (p.IsHidden && !includeHidden) {
			continue
		}
		out = append(out, clonePackage(p))
	}
	sortPackages(out)
	return out, nil
}

func (s *Store) ListActivePackages(ctx context.Context, boxID string) ([]*models.PackageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*models.PackageInfo{}
	for _, p := range s.packages {
		if p.BoxID == boxID && !p.IsHidden && !models.IsTerminal(p.Status) {
			out = append(out, clonePackage(p))
		}
	}
	sortPackages(out)
	return out, nil
}

func (s *Store) ListBoxesWithActivePackages(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for _, p := range s.packages {
		if !p.IsHidden && !models.IsTerminal(p.Status) {
			seen[p.BoxID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// SavePackage overwrites the whole document: last write wins.
func (s *Store) SavePackage(ctx context.Context, pkg *models.PackageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.packages[pkg.ID]
	if !ok || cur.BoxID != pkg.BoxID {
		return errors.Wrapf(models.ErrNotFound, "package %s", pkg.ID)
	}
	s.packages[pkg.ID] = clonePackage(pkg)
	return nil
}
