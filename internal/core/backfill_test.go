package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"casecore/internal/infra/persistence/memory"
	"casecore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanBackfill(t *testing.T) {
	today := domain.DateOf(fixedNow)

	t.Run("crossing inside window", func(t *testing.T) {
		child := domain.Child{Base: domain.Base{ID: "c1"}, DateOfBirth: dateOf(2022, 9, 15)}
		plan := planBackfill(child, nil, today, 6)
		require.Empty(t, plan.skip)
		require.Len(t, plan.events, 1)
		e := plan.events[0]
		assert.Equal(t, *dateOf(2024, 5, 1), e.TransitionDate)
		assert.Equal(t, domain.AgeInfant, e.PreviousCategory)
		assert.Equal(t, domain.AgeToddler, e.NewCategory)
		assert.Equal(t, 19, e.AgeInMonths)
	})

	t.Run("existing event on the sample date", func(t *testing.T) {
		child := domain.Child{Base: domain.Base{ID: "c1"}, DateOfBirth: dateOf(2022, 9, 15)}
		existing := []domain.AgeProgressionEvent{{ChildID: "c1", TransitionDate: *dateOf(2024, 5, 1)}}
		plan := planBackfill(child, existing, today, 6)
		assert.Empty(t, plan.events)
		assert.Equal(t, 1, plan.existing)
	})

	t.Run("no crossing", func(t *testing.T) {
		child := domain.Child{Base: domain.Base{ID: "c2"}, DateOfBirth: dateOf(2023, 12, 1)}
		plan := planBackfill(child, nil, today, 6)
		assert.Empty(t, plan.skip)
		assert.Empty(t, plan.events)
	})

	t.Run("missing date of birth", func(t *testing.T) {
		plan := planBackfill(domain.Child{}, nil, today, 6)
		assert.Equal(t, skipNoDOB, plan.skip)
	})

	t.Run("born within the last month", func(t *testing.T) {
		plan := planBackfill(domain.Child{DateOfBirth: dateOf(2024, 5, 1)}, nil, today, 6)
		assert.Equal(t, skipTooYoung, plan.skip)
	})

	t.Run("window wider than life", func(t *testing.T) {
		child := domain.Child{Base: domain.Base{ID: "c3"}, DateOfBirth: dateOf(2022, 9, 15)}
		plan := planBackfill(child, nil, today, 36)
		require.Len(t, plan.events, 1)
		assert.Equal(t, *dateOf(2024, 5, 1), plan.events[0].TransitionDate)
	})
}

func seedBackfillChildren(t *testing.T, svc *Service) domain.Child {
	t.Helper()
	ctx := context.Background()
	crossing, _, err := svc.CreateChild(ctx, domain.SystemActor(), domain.Child{FirstName: "Ada", LastName: "Lovelace", DateOfBirth: dateOf(2022, 9, 15)})
	require.NoError(t, err)
	_, _, err = svc.CreateChild(ctx, domain.SystemActor(), domain.Child{FirstName: "No", LastName: "Birthday"})
	require.NoError(t, err)
	_, _, err = svc.CreateChild(ctx, domain.SystemActor(), domain.Child{FirstName: "New", LastName: "Born", DateOfBirth: dateOf(2024, 5, 1)})
	require.NoError(t, err)
	return crossing
}

func TestBackfillProgressions(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(WithClock(func() time.Time { return fixedNow }))
	crossing := seedBackfillChildren(t, svc)

	dry, err := svc.BackfillProgressions(ctx, domain.SystemActor(), BackfillOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, 3, dry.ChildrenScanned)
	assert.Equal(t, 1, dry.SkippedNoDOB)
	assert.Equal(t, 1, dry.SkippedTooYoung)
	assert.Equal(t, 1, dry.Created)
	assert.Equal(t, map[string]int{"infant → toddler": 1}, dry.Transitions)
	events, err := svc.ProgressionEventsFor(ctx, crossing.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	run, err := svc.BackfillProgressions(ctx, domain.SystemActor(), BackfillOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Created)
	assert.Zero(t, run.Failures)
	events, err = svc.ProgressionEventsFor(ctx, crossing.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.AgeToddler, events[0].NewCategory)
	assert.Equal(t, fixedNow, events[0].RecordedAt)

	again, err := svc.BackfillProgressions(ctx, domain.SystemActor(), BackfillOptions{})
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, 1, again.ExistingSkipped)
	events, err = svc.ProgressionEventsFor(ctx, crossing.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestBackfillFeedsIncrementalTracking(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	svc := NewInMemoryService(WithClock(func() time.Time { return now }))
	crossing := seedBackfillChildren(t, svc)
	_, err := svc.BackfillProgressions(ctx, domain.SystemActor(), BackfillOptions{})
	require.NoError(t, err)

	// eleven months on the child is a preschooler
	now = time.Date(2025, 4, 20, 9, 0, 0, 0, time.UTC)
	_, _, err = svc.UpdateChild(ctx, domain.SystemActor(), crossing.ID, func(c *domain.Child) error {
		c.Notes = "annual review"
		return nil
	})
	require.NoError(t, err)

	events, err := svc.ProgressionEventsFor(ctx, crossing.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.AgeToddler, events[1].PreviousCategory)
	assert.Equal(t, domain.AgePreschooler, events[1].NewCategory)
	assert.Equal(t, *dateOf(2025, 4, 20), events[1].TransitionDate)
	assert.Equal(t, 31, events[1].AgeInMonths)
}

func TestBackfillHonoursCancellation(t *testing.T) {
	svc := NewInMemoryService(WithClock(func() time.Time { return fixedNow }))
	seedBackfillChildren(t, svc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.BackfillProgressions(ctx, domain.SystemActor(), BackfillOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

// progressionFailure rejects progression events for one child.
type progressionFailure struct {
	childID string
}

func (progressionFailure) Name() string { return "progression_failure" }

func (f progressionFailure) AfterPersist(_ context.Context, _ domain.Transaction, change domain.Change) (domain.Result, error) {
	if event, ok := change.After.(domain.AgeProgressionEvent); ok && event.ChildID == f.childID {
		return domain.Result{}, errors.New("progression store unavailable")
	}
	return domain.Result{}, nil
}

func TestBackfillCountsFailedChildAndContinues(t *testing.T) {
	ctx := context.Background()
	bus := NewDefaultEventBus()
	svc := NewService(memory.NewStore(bus), WithClock(func() time.Time { return fixedNow }))
	ada := seedBackfillChildren(t, svc)
	grace, _, err := svc.CreateChild(ctx, domain.SystemActor(), domain.Child{FirstName: "Grace", LastName: "Hopper", DateOfBirth: dateOf(2022, 9, 20)})
	require.NoError(t, err)
	bus.Register(progressionFailure{childID: ada.ID})

	summary, err := svc.BackfillProgressions(ctx, domain.SystemActor(), BackfillOptions{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.ChildrenScanned)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, map[string]int{"infant → toddler": 1}, summary.Transitions)

	failed, err := svc.ProgressionEventsFor(ctx, ada.ID)
	require.NoError(t, err)
	assert.Empty(t, failed)
	written, err := svc.ProgressionEventsFor(ctx, grace.ID)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, *dateOf(2024, 5, 1), written[0].TransitionDate)
	assert.Equal(t, domain.AgeToddler, written[0].NewCategory)
}
