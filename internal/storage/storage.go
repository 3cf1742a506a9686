// Package storage holds the contract shared by the store implementations
// and the services that run transactions against them.
package storage

import (
	"context"

	"github.com/BearBump/LockerBox/internal/models"
)

// BoxTx is the view of the store inside one all-or-nothing transaction.
// Two transactions touching the same records either run one after the
// other or one of them fails with models.ErrConflict.
type BoxTx interface {
	// GetBoxForUpdate returns models.ErrNotFound for unknown ids.
	GetBoxForUpdate(ctx context.Context, boxID string) (*models.Box, error)
	// GetMembershipForUpdate returns an empty membership for users without boxes.
	GetMembershipForUpdate(ctx context.Context, userID string) (*models.UserBoxMembership, error)
	PutBox(ctx context.Context, box *models.Box) error
	PutMembership(ctx context.Context, m *models.UserBoxMembership) error
}

type TxFunc func(ctx context.Context, tx BoxTx) error
