// Package authz provides the role-based permission oracle consulted by the
// casecore service.
package authz

import (
	"context"

	"casecore/pkg/domain"

	"go.uber.org/zap"
)

// RoleAuthorizer grants caseload and discharge permissions to active
// supervisors, admins and superusers. The system actor is always allowed.
type RoleAuthorizer struct {
	store  domain.PersistentStore
	logger *zap.Logger
}

// NewRoleAuthorizer reads user roles from store. A nil logger discards output.
func NewRoleAuthorizer(store domain.PersistentStore, logger *zap.Logger) *RoleAuthorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleAuthorizer{store: store, logger: logger}
}

// IsSupervisorOrAdmin reports whether actor may mutate the assignment ledger.
func (a *RoleAuthorizer) IsSupervisorOrAdmin(ctx context.Context, actor domain.Actor) bool {
	return a.allowed(ctx, actor, "manage_caseload")
}

// CanDischarge reports whether actor may discharge child. The rule does not
// depend on the child.
func (a *RoleAuthorizer) CanDischarge(ctx context.Context, actor domain.Actor, _ domain.Child) bool {
	return a.allowed(ctx, actor, "discharge")
}

func (a *RoleAuthorizer) allowed(ctx context.Context, actor domain.Actor, permission string) bool {
	if actor.IsSystem() {
		return true
	}
	var user domain.User
	var found bool
	if err := a.store.View(ctx, func(v domain.TransactionView) error {
		user, found = v.FindUser(actor.ID)
		return nil
	}); err != nil {
		a.logger.Warn("permission lookup failed", zap.String("actor", actor.ID), zap.String("permission", permission), zap.Error(err))
		return false
	}
	ok := found && user.IsActive && (user.IsSuperuser || user.Role == domain.RoleSupervisor || user.Role == domain.RoleAdmin)
	if !ok {
		a.logger.Debug("permission denied", zap.String("actor", actor.ID), zap.String("permission", permission))
	}
	return ok
}
