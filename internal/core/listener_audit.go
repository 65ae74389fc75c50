package core

import (
	"context"
	"fmt"

	"casecore/pkg/domain"
)

// AuditTrail writes audit rows for changes to watched entities: one summary
// row per create and delete and one row per changed field on update. Changes
// recorded under a bulk operation are skipped; the operation writes its own
// summary row.
func AuditTrail() domain.Listener {
	return auditTrail{descriptors: auditDescriptors()}
}

type auditTrail struct {
	descriptors map[domain.EntityType]auditDescriptor
}

// auditDescriptor turns one change into audit rows without actor stamping.
type auditDescriptor interface {
	entries(view domain.TransactionView, actor domain.Actor, change domain.Change) []domain.AuditLogEntry
}

func (auditTrail) Name() string { return "audit_trail" }

func (a auditTrail) AfterPersist(_ context.Context, tx domain.Transaction, change domain.Change) (domain.Result, error) {
	if change.Bulk != "" {
		return domain.Result{}, nil
	}
	descriptor, ok := a.descriptors[change.Entity]
	if !ok {
		return domain.Result{}, nil
	}
	actor := tx.Actor()
	for _, entry := range descriptor.entries(tx, actor, change) {
		entry.ActorID = actor.Ref()
		entry.ActorLabel = actor.Label()
		if _, err := tx.AppendAuditEntry(entry); err != nil {
			return domain.Result{}, fmt.Errorf("append audit entry: %w", err)
		}
	}
	return domain.Result{}, nil
}

// fieldSpec renders one watched field. Values are compared by their rendered
// identity; label, when set, turns a reference id into its display text.
type fieldSpec[T any] struct {
	name  string
	value func(T) *string
	label func(domain.TransactionView, string) string
}

// entitySpec describes how a watched entity is audited.
type entitySpec[T any] struct {
	entity  domain.EntityType
	id      func(T) string
	fields  []fieldSpec[T]
	created func(domain.TransactionView, T) (string, map[string]any)
	deleted func(domain.TransactionView, T) (string, map[string]any)
	updated func(domain.TransactionView, T) map[string]any
	// include filters changes by actor; nil audits every change.
	include func(domain.Actor, T) bool
}

func (s entitySpec[T]) entries(view domain.TransactionView, actor domain.Actor, change domain.Change) []domain.AuditLogEntry {
	switch change.Action {
	case domain.ActionCreate:
		after, ok := change.After.(T)
		if !ok || !s.included(actor, after) || s.created == nil {
			return nil
		}
		summary, meta := s.created(view, after)
		return []domain.AuditLogEntry{{EntityType: s.entity, EntityID: s.id(after), Action: domain.AuditCreated, NewValue: &summary, Metadata: meta}}
	case domain.ActionDelete:
		before, ok := change.Before.(T)
		if !ok || !s.included(actor, before) || s.deleted == nil {
			return nil
		}
		summary, meta := s.deleted(view, before)
		return []domain.AuditLogEntry{{EntityType: s.entity, EntityID: s.id(before), Action: domain.AuditDeleted, OldValue: &summary, Metadata: meta}}
	case domain.ActionUpdate:
		before, okBefore := change.Before.(T)
		after, okAfter := change.After.(T)
		if !okBefore || !okAfter || !s.included(actor, after) {
			return nil
		}
		return s.diff(view, before, after)
	}
	return nil
}

func (s entitySpec[T]) included(actor domain.Actor, v T) bool {
	return s.include == nil || s.include(actor, v)
}

func (s entitySpec[T]) diff(view domain.TransactionView, before, after T) []domain.AuditLogEntry {
	var out []domain.AuditLogEntry
	for _, f := range s.fields {
		oldValue, newValue := f.value(before), f.value(after)
		if equalValues(oldValue, newValue) {
			continue
		}
		var meta map[string]any
		if s.updated != nil {
			meta = s.updated(view, after)
		}
		out = append(out, domain.AuditLogEntry{
			EntityType: s.entity,
			EntityID:   s.id(after),
			Action:     domain.AuditUpdated,
			FieldName:  f.name,
			OldValue:   f.render(view, oldValue),
			NewValue:   f.render(view, newValue),
			Metadata:   meta,
		})
	}
	return out
}

func (f fieldSpec[T]) render(view domain.TransactionView, v *string) *string {
	if v == nil || f.label == nil {
		return v
	}
	label := f.label(view, *v)
	return &label
}

func equalValues(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
