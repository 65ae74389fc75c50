package authz_test

import (
	"context"
	"errors"
	"testing"

	"casecore/internal/authz"
	"casecore/internal/core"
	"casecore/internal/infra/persistence/memory"
	"casecore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ core.Authorizer = (*authz.RoleAuthorizer)(nil)

func seedUser(t *testing.T, store domain.PersistentStore, u domain.User) domain.Actor {
	t.Helper()
	var created domain.User
	_, err := store.RunInTransaction(context.Background(), domain.SystemActor(), func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateUser(u)
		return err
	})
	require.NoError(t, err)
	return domain.ActorFromUser(created)
}

func TestRoleAuthorizer(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	a := authz.NewRoleAuthorizer(store, nil)

	cases := []struct {
		name string
		user domain.User
		want bool
	}{
		{"supervisor", domain.User{Username: "sup", Role: domain.RoleSupervisor, IsActive: true}, true},
		{"admin", domain.User{Username: "adm", Role: domain.RoleAdmin, IsActive: true}, true},
		{"superuser staff", domain.User{Username: "root", Role: domain.RoleStaff, IsActive: true, IsSuperuser: true}, true},
		{"staff", domain.User{Username: "staff", Role: domain.RoleStaff, IsActive: true}, false},
		{"auditor", domain.User{Username: "aud", Role: domain.RoleAuditor, IsActive: true}, false},
		{"inactive supervisor", domain.User{Username: "gone", Role: domain.RoleSupervisor}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actor := seedUser(t, store, tc.user)
			assert.Equal(t, tc.want, a.IsSupervisorOrAdmin(ctx, actor))
			assert.Equal(t, tc.want, a.CanDischarge(ctx, actor, domain.Child{}))
		})
	}

	assert.True(t, a.IsSupervisorOrAdmin(ctx, domain.SystemActor()))
	assert.False(t, a.CanDischarge(ctx, domain.Actor{ID: "unknown"}, domain.Child{}))
}

type failingView struct{ domain.PersistentStore }

func (failingView) View(context.Context, func(domain.TransactionView) error) error {
	return errors.New("store offline")
}

func TestRoleAuthorizerDeniesOnLookupFailure(t *testing.T) {
	a := authz.NewRoleAuthorizer(failingView{}, nil)
	assert.False(t, a.IsSupervisorOrAdmin(context.Background(), domain.Actor{ID: "u1"}))
}

func TestServiceWithRoleAuthorizer(t *testing.T) {
	ctx := context.Background()
	svc := core.NewInMemoryService()
	svc = core.NewService(svc.Store(), core.WithAuthorizer(authz.NewRoleAuthorizer(svc.Store(), nil)))

	sup, _, err := svc.CreateUser(ctx, domain.SystemActor(), domain.User{Username: "sup", Role: domain.RoleSupervisor, IsActive: true})
	require.NoError(t, err)
	staff, _, err := svc.CreateUser(ctx, domain.SystemActor(), domain.User{Username: "staff", Role: domain.RoleStaff, IsActive: true})
	require.NoError(t, err)
	child, _, err := svc.CreateChild(ctx, domain.SystemActor(), domain.Child{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)

	_, _, err = svc.AssignStaff(ctx, domain.ActorFromUser(staff), child.ID, staff.ID, true)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, _, err = svc.AssignStaff(ctx, domain.ActorFromUser(sup), child.ID, staff.ID, true)
	require.NoError(t, err)
	_, _, err = svc.Discharge(ctx, domain.ActorFromUser(staff), child.ID, "moved", child.StartDate)
	require.ErrorIs(t, err, domain.ErrForbidden)
	discharged, _, err := svc.Discharge(ctx, domain.ActorFromUser(sup), child.ID, "moved", child.StartDate)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDischarged, discharged.OverallStatus)
}
