package pgbox

import (
	"context"
	"time"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const boxColumns = `id, status, COALESCE(owner_id, ''), batch_name, qr_payload, registered_at, members`

func scanBox(row pgx.Row) (*models.Box, error) {
	var b models.Box
	var registeredAt *time.Time
	if err := row.Scan(&b.ID, &b.Status, &b.OwnerID, &b.BatchName, &b.QRPayload, &registeredAt, &b.Members); err != nil {
		return nil, err
	}
	b.RegisteredAt = registeredAt
	return &b, nil
}

// ProvisionBox inserts a box (AVAILABLE unless set); existing boxes are left untouched.
func (s *Storage) ProvisionBox(ctx context.Context, box *models.Box) error {
	if box == nil || box.ID == "" {
		return errors.New("box id is required")
	}
	status := box.Status
	if status == "" {
		status = models.BoxStatusAvailable
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO boxes (id, status, batch_name, qr_payload, members)
VALUES ($1, $2, $3, $4, '{}'::jsonb)
ON CONFLICT (id) DO NOTHING
`, box.ID, status, box.BatchName, box.QRPayload)
	return errors.Wrap(err, "provision box")
}

func (s *Storage) GetBox(ctx context.Context, boxID string) (*models.Box, error) {
	b, err := scanBox(s.db.QueryRow(ctx, `SELECT `+boxColumns+` FROM boxes WHERE id = $1`, boxID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "box %s", boxID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select box")
	}
	return b, nil
}

func (s *Storage) GetMembership(ctx context.Context, userID string) (*models.UserBoxMembership, error) {
	m, err := scanMembership(s.db.QueryRow(ctx, `
SELECT user_id, box_aliases, COALESCE(main_box_id, '') FROM user_memberships WHERE user_id = $1
`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.UserBoxMembership{UserID: userID, BoxAliases: map[string]string{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select membership")
	}
	return m, nil
}

func scanMembership(row pgx.Row) (*models.UserBoxMembership, error) {
	var m models.UserBoxMembership
	if err := row.Scan(&m.UserID, &m.BoxAliases, &m.MainBoxID); err != nil {
		return nil, err
	}
	m.BoxAliases = ensureNotNil(m.BoxAliases)
	return &m, nil
}

// RunInTx runs fn in one READ COMMITTED transaction. Rows fetched through
// the *ForUpdate methods are locked with SELECT ... FOR UPDATE, so a
// concurrent transaction blocks and then reads the committed result.
func (s *Storage) RunInTx(ctx context.Context, fn storage.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &boxTx{tx: tx}); err != nil {
		if isConflict(err) {
			return errors.Wrap(models.ErrConflict, err.Error())
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isConflict(err) {
			return errors.Wrap(models.ErrConflict, err.Error())
		}
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type boxTx struct {
	tx pgx.Tx
}

func (t *boxTx) GetBoxForUpdate(ctx context.Context, boxID string) (*models.Box, error) {
	b, err := scanBox(t.tx.QueryRow(ctx, `SELECT `+boxColumns+` FROM boxes WHERE id = $1 FOR UPDATE`, boxID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(models.ErrNotFound, "box %s", boxID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select box for update")
	}
	return b, nil
}

func (t *boxTx) GetMembershipForUpdate(ctx context.Context, userID string) (*models.UserBoxMembership, error) {
	// Строка должна существовать, иначе FOR UPDATE нечего блокировать.
	if _, err := t.tx.Exec(ctx, `
INSERT INTO user_memberships (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING
`, userID); err != nil {
		return nil, errors.Wrap(err, "ensure membership")
	}
	m, err := scanMembership(t.tx.QueryRow(ctx, `
SELECT user_id, box_aliases, COALESCE(main_box_id, '') FROM user_memberships WHERE user_id = $1 FOR UPDATE
`, userID))
	if err != nil {
		return nil, errors.Wrap(err, "select membership for update")
	}
	return m, nil
}

func (t *boxTx) PutBox(ctx context.Context, box *models.Box) error {
	_, err := t.tx.Exec(ctx, `
UPDATE boxes
SET
  status = $2,
  owner_id = NULLIF($3, ''),
  registered_at = $4,
  members = $5,
  updated_at = now()
WHERE id = $1
`, box.ID, box.Status, box.OwnerID, box.RegisteredAt, ensureNotNil(box.Members))
	return errors.Wrap(err, "update box")
}

func (t *boxTx) PutMembership(ctx context.Context, m *models.UserBoxMembership) error {
	_, err := t.tx.Exec(ctx, `
UPDATE user_memberships
SET
  box_aliases = $2,
  main_box_id = NULLIF($3, ''),
  updated_at = now()
WHERE user_id = $1
`, m.UserID, ensureNotNil(m.BoxAliases), m.MainBoxID)
	return errors.Wrap(err, "update membership")
}
