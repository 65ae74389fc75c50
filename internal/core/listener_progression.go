package core

import (
	"context"

	"casecore/pkg/domain"
)

// AgeProgression records an upward age-category transition when a child is
// saved. Tracking starts from the first event written by the backfill; a child
// with no history, no date of birth, or an event already dated today is left
// alone.
func AgeProgression() domain.Listener {
	return ageProgression{}
}

type ageProgression struct{}

func (ageProgression) Name() string { return "age_progression" }

func (ageProgression) AfterPersist(_ context.Context, tx domain.Transaction, change domain.Change) (domain.Result, error) {
	if change.Entity != domain.EntityChild || change.Action == domain.ActionDelete {
		return domain.Result{}, nil
	}
	child, ok := change.After.(domain.Child)
	if !ok {
		return domain.Result{}, nil
	}
	today := domain.DateOf(tx.Now())
	category, months, known := domain.AgeCategoryAt(child, today)
	if !known {
		return domain.Result{}, nil
	}
	events := tx.ProgressionEventsFor(child.ID)
	var last *domain.AgeProgressionEvent
	for i := range events {
		if domain.SameDate(events[i].TransitionDate, today) {
			return domain.Result{}, nil
		}
		if last == nil || events[i].TransitionDate.After(last.TransitionDate) {
			last = &events[i]
		}
	}
	if last == nil || !category.OlderThan(last.NewCategory) {
		return domain.Result{}, nil
	}
	_, err := tx.CreateProgressionEvent(domain.AgeProgressionEvent{
		ChildID:          child.ID,
		PreviousCategory: last.NewCategory,
		NewCategory:      category,
		TransitionDate:   today,
		AgeInMonths:      months,
	})
	return domain.Result{}, err
}
