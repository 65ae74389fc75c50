package core

import (
	"context"

	"casecore/pkg/domain"
)

// Authorizer answers the permission questions the service asks before
// discharging a child and before mutating the assignment ledger. It is
// consulted outside the unit of work, so implementations may read the store.
type Authorizer interface {
	CanDischarge(ctx context.Context, actor domain.Actor, child domain.Child) bool
	IsSupervisorOrAdmin(ctx context.Context, actor domain.Actor) bool
}

type allowAll struct{}

func (allowAll) CanDischarge(context.Context, domain.Actor, domain.Child) bool { return true }

func (allowAll) IsSupervisorOrAdmin(context.Context, domain.Actor) bool { return true }

// AllowAll returns an Authorizer that permits every request.
func AllowAll() Authorizer { return allowAll{} }

func (s *Service) requireSupervisor(ctx context.Context, op string, actor domain.Actor) error {
	if !s.authz.IsSupervisorOrAdmin(ctx, actor) {
		return domain.ForbiddenError{Operation: op, ActorID: actor.ID}
	}
	return nil
}
