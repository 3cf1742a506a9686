// Package boxclaim moves boxes between AVAILABLE, REGISTERED and INACTIVE.
// Every state change is one store transaction covering both the box and
// the requester's membership record.
package boxclaim

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/storage"
	"github.com/pkg/errors"
)

const (
	msgNotFound         = "box not found"
	msgInactive         = "box is no longer in service"
	msgAvailable        = "box is available for registration"
	msgRegisteredToYou  = "box is already registered to you"
	msgRegisteredToUser = "box is registered to another user"
)

type Store interface {
	GetBox(ctx context.Context, boxID string) (*models.Box, error)
	RunInTx(ctx context.Context, fn storage.TxFunc) error
}

type Manager struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Manager {
	return &Manager{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Validate reports whether code can be claimed by requesterID. It never writes.
func (m *Manager) Validate(ctx context.Context, code, requesterID string) (models.ValidationResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.ValidationResult{Message: msgNotFound}, nil
	}

	box, err := m.store.GetBox(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return models.ValidationResult{Message: msgNotFound}, nil
	}
	if err != nil {
		return models.ValidationResult{}, errors.Wrap(err, "get box")
	}

	switch box.Status {
	case models.BoxStatusAvailable:
		return models.ValidationResult{
			IsValid:     true,
			CanRegister: true,
			Status:      box.Status,
			Message:     msgAvailable,
		}, nil
	case models.BoxStatusRegistered:
		owner := box.OwnerID
		res := models.ValidationResult{
			IsValid: true,
			Status:  box.Status,
			OwnerID: &owner,
			Message: msgRegisteredToUser,
		}
		if owner == requesterID {
			res.Message = msgRegisteredToYou
		}
		return res, nil
	default:
		return models.ValidationResult{Status: box.Status, Message: msgInactive}, nil
	}
}

// Claim registers code to requesterID under alias. Re-claiming an own box
// only updates the alias. A box owned by someone else, an inactive box, or
// a lost race all end in models.ErrConflict.
func (m *Manager) Claim(ctx context.Context, code, alias, requesterID string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.Wrap(models.ErrInvalidArgument, "box code is required")
	}
	if requesterID == "" {
		return errors.Wrap(models.ErrForbidden, "requester is required")
	}
	alias = strings.TrimSpace(alias)
	if alias == "" {
		alias = code
	}

	err := m.store.RunInTx(ctx, func(ctx context.Context, tx storage.BoxTx) error {
		box, err := tx.GetBoxForUpdate(ctx, code)
		if err != nil {
			return err
		}
		membership, err := tx.GetMembershipForUpdate(ctx, requesterID)
		if err != nil {
			return err
		}

		ownedByRequester := box.Status == models.BoxStatusRegistered && box.OwnerID == requesterID
		if box.Status != models.BoxStatusAvailable && !ownedByRequester {
			return errors.Wrapf(models.ErrConflict, "box %s is %s", code, box.Status)
		}

		if !ownedByRequester {
			now := m.now()
			box.Status = models.BoxStatusRegistered
			box.OwnerID = requesterID
			box.RegisteredAt = &now
			box.Members = map[string]string{requesterID: models.MemberRoleOwner}
			if err := tx.PutBox(ctx, box); err != nil {
				return err
			}
		}

		hadBoxes := membership.HasBoxes()
		if membership.BoxAliases == nil {
			membership.BoxAliases = map[string]string{}
		}
		membership.BoxAliases[code] = alias
		if !hadBoxes {
			membership.MainBoxID = code
		}
		return tx.PutMembership(ctx, membership)
	})
	if err != nil {
		return errors.Wrap(err, "claim box")
	}

	slog.Info("box claimed", "box_id", code, "user_id", requesterID)
	return nil
}

// Release returns an owned box to AVAILABLE.
func (m *Manager) Release(ctx context.Context, code, requesterID string) error {
	err := m.retire(ctx, code, requesterID, models.BoxStatusAvailable)
	if err != nil {
		return errors.Wrap(err, "release box")
	}
	slog.Info("box released", "box_id", code, "user_id", requesterID)
	return nil
}

// Deactivate takes an owned box out of service. The owner stays recorded.
func (m *Manager) Deactivate(ctx context.Context, code, requesterID string) error {
	err := m.retire(ctx, code, requesterID, models.BoxStatusInactive)
	if err != nil {
		return errors.Wrap(err, "deactivate box")
	}
	slog.Info("box deactivated", "box_id", code, "user_id", requesterID)
	return nil
}

func (m *Manager) retire(ctx context.Context, code, requesterID string, target models.BoxStatus) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.Wrap(models.ErrInvalidArgument, "box code is required")
	}

	return m.store.RunInTx(ctx, func(ctx context.Context, tx storage.BoxTx) error {
		box, err := tx.GetBoxForUpdate(ctx, code)
		if err != nil {
			return err
		}
		if box.Status != models.BoxStatusRegistered {
			return errors.Wrapf(models.ErrConflict, "box %s is %s", code, box.Status)
		}
		if requesterID == "" || box.OwnerID != requesterID {
			return errors.Wrapf(models.ErrForbidden, "box %s is not owned by requester", code)
		}
		membership, err := tx.GetMembershipForUpdate(ctx, requesterID)
		if err != nil {
			return err
		}

		box.Status = target
		if target == models.BoxStatusAvailable {
			box.OwnerID = ""
			box.RegisteredAt = nil
			box.Members = map[string]string{}
		}
		if err := tx.PutBox(ctx, box); err != nil {
			return err
		}

		delete(membership.BoxAliases, code)
		if membership.MainBoxID == code {
			membership.MainBoxID = nextMainBox(membership.BoxAliases)
		}
		return tx.PutMembership(ctx, membership)
	})
}

// nextMainBox picks the smallest remaining box id so the choice is stable.
func nextMainBox(aliases map[string]string) string {
	if len(aliases) == 0 {
		return ""
	}
	ids := make([]string, 0, len(aliases))
	for id := range aliases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0]
}
