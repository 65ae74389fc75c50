package core

import (
	"context"
	"errors"
	"time"

	"casecore/pkg/domain"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Backfill defaults.
const (
	DefaultBackfillMonths      = 6
	DefaultBackfillConcurrency = 4
	backfillProgressEvery      = 50
	minimumBackfillAge         = 30 * 24 * time.Hour
)

// BackfillOptions configures BackfillProgressions.
type BackfillOptions struct {
	// Months is the size of the historical window; values below one use the default.
	Months int
	// DryRun plans events without writing them.
	DryRun bool
	// Concurrency bounds the planning goroutines; values below one use the default.
	Concurrency int
}

// BackfillSummary reports a backfill run. Created counts the events written,
// or the events that would be written on a dry run.
type BackfillSummary struct {
	DryRun          bool
	ChildrenScanned int
	SkippedNoDOB    int
	SkippedTooYoung int
	Created         int
	ExistingSkipped int
	Failures        int
	Transitions     map[string]int
	Planned         []domain.AgeProgressionEvent
}

// childPlan is the set of historical events missing for one child.
type childPlan struct {
	child    domain.Child
	skip     string
	events   []domain.AgeProgressionEvent
	existing int
}

// BackfillProgressions synthesises missing age progression events over the
// last opts.Months months by sampling each child's age category on the first
// of every month. Re-running it creates nothing new. Each child is written in
// its own unit of work; a failing child is counted and logged and the run
// continues.
func (s *Service) BackfillProgressions(ctx context.Context, actor domain.Actor, opts BackfillOptions) (BackfillSummary, error) {
	if opts.Months < 1 {
		opts.Months = DefaultBackfillMonths
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultBackfillConcurrency
	}
	summary := BackfillSummary{DryRun: opts.DryRun, Transitions: make(map[string]int)}
	_, err := s.run(ctx, "backfill_progressions", actor, func(ctx context.Context) (domain.Result, error) {
		var children []domain.Child
		existing := make(map[string][]domain.AgeProgressionEvent)
		if err := s.store.View(ctx, func(v domain.TransactionView) error {
			children = v.ListChildren()
			for _, e := range v.ListProgressionEvents() {
				existing[e.ChildID] = append(existing[e.ChildID], e)
			}
			return nil
		}); err != nil {
			return domain.Result{}, err
		}

		today := domain.DateOf(s.now())
		plans := make([]childPlan, len(children))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i, child := range children {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				plans[i] = planBackfill(child, existing[child.ID], today, opts.Months)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return domain.Result{}, err
		}

		var combined domain.Result
		for i, plan := range plans {
			if (i+1)%backfillProgressEvery == 0 {
				s.logger.Info("backfill progress", zap.Int("processed", i+1), zap.Int("total", len(plans)))
			}
			summary.ChildrenScanned++
			summary.ExistingSkipped += plan.existing
			switch plan.skip {
			case skipNoDOB:
				summary.SkippedNoDOB++
				continue
			case skipTooYoung:
				summary.SkippedTooYoung++
				continue
			}
			if len(plan.events) == 0 {
				continue
			}
			if opts.DryRun {
				summary.record(plan.events)
				continue
			}
			written, skipped, res, err := s.applyPlan(ctx, actor, plan)
			combined.Merge(res)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return combined, ctxErr
				}
				summary.Failures++
				s.logger.Warn("backfill child failed", zap.String("child_id", plan.child.ID), zap.Error(err))
				continue
			}
			summary.ExistingSkipped += skipped
			summary.record(written)
		}
		return combined, nil
	}, zap.Int("months", opts.Months), zap.Bool("dry_run", opts.DryRun))
	if err != nil {
		return summary, err
	}
	s.logger.Info("backfill complete",
		zap.Bool("dry_run", summary.DryRun),
		zap.Int("children", summary.ChildrenScanned),
		zap.Int("created", summary.Created),
		zap.Int("existing_skipped", summary.ExistingSkipped),
		zap.Int("failures", summary.Failures))
	return summary, nil
}

func (b *BackfillSummary) record(events []domain.AgeProgressionEvent) {
	for _, e := range events {
		b.Created++
		b.Transitions[e.Transition()]++
		b.Planned = append(b.Planned, e)
	}
}

// applyPlan writes one child's planned events, re-checking each against the
// committed state inside the unit of work.
func (s *Service) applyPlan(ctx context.Context, actor domain.Actor, plan childPlan) ([]domain.AgeProgressionEvent, int, domain.Result, error) {
	var written []domain.AgeProgressionEvent
	skipped := 0
	res, err := s.store.RunInTransaction(ctx, actor, func(tx domain.Transaction) error {
		written, skipped = nil, 0
		if _, err := tx.LockChild(plan.child.ID); err != nil {
			return err
		}
		current := tx.ProgressionEventsFor(plan.child.ID)
		for _, e := range plan.events {
			if hasEventOn(current, e.TransitionDate) {
				skipped++
				continue
			}
			created, err := tx.CreateProgressionEvent(e)
			if err != nil {
				var conflict domain.ConflictError
				if errors.As(err, &conflict) {
					skipped++
					continue
				}
				return err
			}
			current = append(current, created)
			written = append(written, created)
		}
		return nil
	})
	return written, skipped, res, err
}

const (
	skipNoDOB    = "no_date_of_birth"
	skipTooYoung = "too_young"
)

// planBackfill samples the child's category on the first of each month from
// today back to the window bound, then walks the samples oldest first and
// plans an event at every upward crossing that is not already recorded.
func planBackfill(child domain.Child, existing []domain.AgeProgressionEvent, today time.Time, months int) childPlan {
	plan := childPlan{child: child}
	if child.DateOfBirth == nil {
		plan.skip = skipNoDOB
		return plan
	}
	dob := domain.DateOf(*child.DateOfBirth)
	if dob.After(today.Add(-minimumBackfillAge)) {
		plan.skip = skipTooYoung
		return plan
	}

	var samples []time.Time
	for offset := 0; offset <= months; offset++ {
		sample := time.Date(today.Year(), today.Month()-time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
		if sample.Before(dob) {
			break
		}
		samples = append(samples, sample)
	}

	for i := len(samples) - 1; i > 0; i-- {
		older, newer := samples[i], samples[i-1]
		previous := domain.CategoryOf(float64(domain.AgeInMonths(dob, older)))
		age := domain.AgeInMonths(dob, newer)
		next := domain.CategoryOf(float64(age))
		if !next.OlderThan(previous) {
			continue
		}
		// an exact match is the same event; a different one keeps the day
		if hasEventOn(existing, newer) {
			plan.existing++
			continue
		}
		plan.events = append(plan.events, domain.AgeProgressionEvent{
			ChildID:          child.ID,
			PreviousCategory: previous,
			NewCategory:      next,
			TransitionDate:   newer,
			AgeInMonths:      age,
		})
	}
	return plan
}

func hasEventOn(events []domain.AgeProgressionEvent, day time.Time) bool {
	for _, e := range events {
		if domain.SameDate(e.TransitionDate, day) {
			return true
		}
	}
	return false
}
