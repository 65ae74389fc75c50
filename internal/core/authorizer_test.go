package core

//go:generate mockgen -source=authorizer.go -destination=mocks/mocks.go -package=mocks Authorizer

import (
	"context"
	"testing"
	"time"

	"casecore/internal/core/mocks"
	"casecore/pkg/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type authFixture struct {
	svc   *Service
	authz *mocks.MockAuthorizer
	actor domain.Actor
	staff domain.User
	other domain.User
	child domain.Child
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	authz := mocks.NewMockAuthorizer(ctrl)
	svc := NewInMemoryService(WithAuthorizer(authz), WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	staff, _, err := svc.CreateUser(ctx, domain.SystemActor(), domain.User{Username: "sam", FirstName: "Sam", Role: domain.RoleStaff})
	require.NoError(t, err)
	other, _, err := svc.CreateUser(ctx, domain.SystemActor(), domain.User{Username: "olive", FirstName: "Olive", Role: domain.RoleStaff})
	require.NoError(t, err)
	child, _, err := svc.CreateChild(ctx, domain.SystemActor(), domain.Child{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)
	return authFixture{svc: svc, authz: authz, actor: domain.ActorFromUser(staff), staff: staff, other: other, child: child}
}

func TestDischargeForbidden(t *testing.T) {
	f := newAuthFixture(t)
	f.authz.EXPECT().
		CanDischarge(gomock.Any(), f.actor, gomock.AssignableToTypeOf(domain.Child{})).
		DoAndReturn(func(_ context.Context, _ domain.Actor, c domain.Child) bool {
			require.Equal(t, f.child.ID, c.ID)
			return false
		})

	_, _, err := f.svc.Discharge(context.Background(), f.actor, f.child.ID, "moved", fixedNow)
	require.ErrorIs(t, err, domain.ErrForbidden)

	child, err := f.svc.GetChild(context.Background(), f.child.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, child.OverallStatus)
}

func TestDischargeAllowed(t *testing.T) {
	f := newAuthFixture(t)
	f.authz.EXPECT().CanDischarge(gomock.Any(), f.actor, gomock.Any()).Return(true)

	child, _, err := f.svc.Discharge(context.Background(), f.actor, f.child.ID, "moved", fixedNow)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDischarged, child.OverallStatus)
}

func TestLedgerMutationsRequireSupervisor(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.authz.EXPECT().IsSupervisorOrAdmin(gomock.Any(), f.actor).Return(false).Times(4)

	_, _, err := f.svc.AssignStaff(ctx, f.actor, f.child.ID, f.staff.ID, true)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = f.svc.CreateAssignment(ctx, f.actor, domain.CaseloadAssignment{ChildID: f.child.ID, StaffID: f.staff.ID})
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = f.svc.BulkReassign(ctx, f.actor, f.staff.ID, f.other.ID, nil)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = f.svc.MarkNonCaseload(ctx, f.actor, f.child.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	active, err := f.svc.ActiveAssignmentsFor(ctx, f.child.ID)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestBulkReassignValidatesBeforeAuthorizing(t *testing.T) {
	f := newAuthFixture(t)
	_, _, err := f.svc.BulkReassign(context.Background(), f.actor, f.staff.ID, f.staff.ID, nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}
