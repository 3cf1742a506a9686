package pgbox

import (
	"context"
	"time"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const packageColumns = `
  id, box_id, tracking_number, courier_company, status, delivery_steps,
  registered_at, last_updated, is_delivered, delivered_at, estimated_delivery,
  is_auto_detected, confidence, is_hidden`

func scanPackage(row pgx.Row) (*models.PackageInfo, error) {
	var p models.PackageInfo
	var deliveredAt, estimated *time.Time
	if err := row.Scan(
		&p.ID, &p.BoxID, &p.TrackingNumber, &p.CourierCompany, &p.Status, &p.DeliverySteps,
		&p.RegisteredAt, &p.LastUpdated, &p.IsDelivered, &deliveredAt, &estimated,
		&p.IsAutoDetected, &p.Confidence, &p.IsHidden,
	); err != nil {
		return nil, err
	}
	p.DeliveredAt = deliveredAt
	p.EstimatedDelivery = estimated
	if p.DeliverySteps == nil {
		p.DeliverySteps = []models.DeliveryStep{}
	}
	return &p, nil
}

func steps(p *models.PackageInfo) []models.DeliveryStep {
	if p.DeliverySteps == nil {
		return []models.DeliveryStep{}
	}
	return p.DeliverySteps
}

func (s *Storage) CreatePackage(ctx context.Context, pkg *models.PackageInfo) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO packages (`+packageColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
		pkg.ID, pkg.BoxID, pkg.TrackingNumber, pkg.CourierCompany, pkg.Status, steps(pkg),
		pkg.RegisteredAt.UTC(), pkg.LastUpdated.UTC(), pkg.IsDelivered, pkg.DeliveredAt, pkg.EstimatedDelivery,
		pkg.IsAutoDetected, pkg.Confidence, pkg.IsHidden,
	)
	switch pgCode(err) {
	case "":
	case pgUniqueViolation:
		return errors.Wrap(models.ErrDuplicatePackage, pkg.TrackingNumber)
	case pgForeignKeyViolation:
		return errors.Wrapf(models.ErrNotFound, "box %s", pkg.BoxID)
	}
	return errors.Wrap(err, "insert package")
}

func (s *Storage) GetPackage(ctx context.Context, boxID, packageID string) (*models.PackageInfo, error) {
	p, err := scanPackage(s.db.QueryRow(ctx, `
SELECT `+packageColumns+` FROM packages WHERE box_id = $1 AND id = $2
`, boxID, packageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "package %s", packageID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select package")
	}
	return p, nil
}

func (s *Storage) ListPackages(ctx context.Context, boxID string, includeHidden bool) ([]*models.PackageInfo, error) {
	return s.queryPackages(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE box_id = $1 AND ($2 OR NOT is_hidden)
ORDER BY registered_at ASC, id ASC
`, boxID, includeHidden)
}

func (s *Storage) ListActivePackages(ctx context.Context, boxID string) ([]*models.PackageInfo, error) {
	return s.queryPackages(ctx, `
SELECT `+packageColumns+`
FROM packages
WHERE box_id = $1 AND NOT is_hidden AND status <> $2
ORDER BY registered_at ASC, id ASC
`, boxID, models.StatusDelivered)
}

func (s *Storage) ListBoxesWithActivePackages(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT box_id FROM packages WHERE NOT is_hidden AND status <> $1 ORDER BY box_id
`, models.StatusDelivered)
	if err != nil {
		return nil, errors.Wrap(err, "select active boxes")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "collect active boxes")
	}
	return ids, nil
}

// SavePackage overwrites the mutable fields of the document. There is no
// version check: concurrent writers resolve as last write wins.
func (s *Storage) SavePackage(ctx context.Context, pkg *models.PackageInfo) error {
	tag, err := s.db.Exec(ctx, `
UPDATE packages
SET
  courier_company = $3,
  status = $4,
  delivery_steps = $5,
  last_updated = $6,
  is_delivered = $7,
  delivered_at = $8,
  estimated_delivery = $9,
  confidence = $10,
  is_hidden = $11
WHERE box_id = $1 AND id = $2
`,
		pkg.BoxID, pkg.ID, pkg.CourierCompany, pkg.Status, steps(pkg), pkg.LastUpdated.UTC(),
		pkg.IsDelivered, pkg.DeliveredAt, pkg.EstimatedDelivery, pkg.Confidence, pkg.IsHidden,
	)
	if pgCode(err) == pgUniqueViolation {
		return errors.Wrap(models.ErrDuplicatePackage, pkg.TrackingNumber)
	}
	if err != nil {
		return errors.Wrap(err, "update package")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "package %s", pkg.ID)
	}
	return nil
}

func (s *Storage) queryPackages(ctx context.Context, q string, args ...any) ([]*models.PackageInfo, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select packages")
	}
	defer rows.Close()

	out := []*models.PackageInfo{}
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan package")
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
