package packages

import (
	"context"
	"testing"

	"github.com/BearBump/LockerBox/internal/models"
	"github.com/BearBump/LockerBox/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTracking(t *testing.T) {
	require.Equal(t, "123456789012", normalizeTracking(" 1234-5678 9012\t"))
	require.Equal(t, "", normalizeTracking("  "))
}

func TestCurrentKey(t *testing.T) {
	require.Equal(t, "package:BOX-1:p:current", currentKey("BOX-1", "p"))
}

func TestService_DuplicateUntilHidden(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	require.NoError(t, st.ProvisionBox(ctx, &models.Box{
		ID: "BOX-1", Status: models.BoxStatusRegistered, OwnerID: "u1",
		Members: map[string]string{"u1": models.MemberRoleOwner},
	}))
	svc := New(st, st, nil, 0)

	first, err := svc.Register(ctx, "BOX-1", "u1", RegisterInput{TrackingNumber: "1234567890", CourierCompany: "CJ대한통운"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, "BOX-1", "u1", RegisterInput{TrackingNumber: "1234-567890", CourierCompany: "CJ대한통운"})
	require.ErrorIs(t, err, models.ErrDuplicatePackage)

	require.NoError(t, svc.Hide(ctx, "BOX-1", "u1", first.ID))

	_, err = svc.Register(ctx, "BOX-1", "u1", RegisterInput{TrackingNumber: "1234567890", CourierCompany: "CJ대한통운"})
	require.NoError(t, err)

	visible, err := svc.List(ctx, "BOX-1", "u1", false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	all, err := svc.List(ctx, "BOX-1", "u1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = svc.List(ctx, "BOX-1", "u2", false)
	require.ErrorIs(t, err, models.ErrForbidden)
}
