package core

import "casecore/pkg/domain"

// NewDefaultEventBus returns a bus with the casecore listeners in dispatch
// order. Derivation precedes the audit trail so a derived status flip and the
// ledger change that caused it are both audited in the same unit of work.
func NewDefaultEventBus() *domain.EventBus {
	bus := domain.NewEventBus()
	bus.RegisterBefore(RecordStamping())
	bus.RegisterBefore(ChildStateGuard())
	bus.Register(StatusDerivation())
	bus.Register(AgeProgression())
	bus.Register(AuditTrail())
	return bus
}
