package engine

import (
	"cmp"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"priorityline/internal/domain"
	"priorityline/internal/period"
)

// Dataset holds the five disjoint row sets fetched for one period.
type Dataset struct {
	OpenCarriedOver        []domain.Priority
	OpenDueThisPeriod      []domain.Priority
	ClosedThisPeriod       []domain.Priority
	CanceledThisPeriod     []domain.Priority
	CompletedInLaterPeriod []domain.Priority
}

// Size is the total row count across all five sets.
func (d Dataset) Size() int {
	return len(d.OpenCarriedOver) + len(d.OpenDueThisPeriod) + len(d.ClosedThisPeriod) +
		len(d.CanceledThisPeriod) + len(d.CompletedInLaterPeriod)
}

// ClassifiedPriority is a priority plus its class for the evaluated period.
type ClassifiedPriority struct {
	domain.Priority
	MonthlyClass domain.MonthlyClass   `json:"monthlyClass" enum:"OPEN,OVERDUE_THIS_PERIOD,OVERDUE_CARRIED_FROM_EARLIER,CANCELED,COMPLETED_ON_TIME,COMPLETED_LATE_THIS_PERIOD,COMPLETED_CARRIED_FROM_EARLIER,COMPLETED_IN_LATER_PERIOD"`
	Compliance   domain.ComplianceFlag `json:"compliance" enum:"MET,NOT_MET,NOT_APPLICABLE"`
}

// Classification is the classifier output for one period.
type Classification struct {
	Period period.Period
	// Items are ordered by severity, then display order, due date and id.
	Items []ClassifiedPriority
	// CompletedEarly counts priorities closed this period but due in a later
	// one. They are not listed and never enter ICP.
	CompletedEarly int
	// Excluded counts malformed or duplicate rows that were skipped.
	Excluded int
}

// Classify assigns every fetched priority exactly one monthly class for p.
// today is the caller's local calendar date as UTC midnight (see period.Clock).
func Classify(ds Dataset, p period.Period, today time.Time) Classification {
	c := Classification{Period: p, Items: make([]ClassifiedPriority, 0, ds.Size())}
	start := p.Start()
	next := p.Next().Start()
	seen := make(map[string]struct{}, ds.Size())

	add := func(pr domain.Priority, class domain.MonthlyClass) {
		c.Items = append(c.Items, ClassifiedPriority{Priority: pr, MonthlyClass: class, Compliance: class.Compliance()})
	}
	// admit rejects rows without the dates their set depends on and ids
	// already classified by an earlier set.
	admit := func(pr domain.Priority, set string, needFinished, needCanceled bool) bool {
		if pr.UntilAt.IsZero() || (needFinished && pr.FinishedAt == nil) || (needCanceled && pr.CanceledAt == nil) {
			c.Excluded++
			log.Warn().Str("priority_id", pr.ID).Str("set", set).Str("period", p.String()).Msg("priority missing required dates; excluded")
			return false
		}
		if _, dup := seen[pr.ID]; dup {
			c.Excluded++
			log.Warn().Str("priority_id", pr.ID).Str("set", set).Str("period", p.String()).Msg("priority returned by more than one dataset; keeping first")
			return false
		}
		seen[pr.ID] = struct{}{}
		return true
	}

	for _, pr := range ds.OpenCarriedOver {
		if admit(pr, "open_carried_over", false, false) {
			add(pr, domain.ClassOverdueCarried)
		}
	}

	todayPeriod := period.Of(today)
	for _, pr := range ds.OpenDueThisPeriod {
		if !admit(pr, "open_due_this_period", false, false) {
			continue
		}
		add(pr, classifyOpen(pr, p, todayPeriod, today))
	}

	for _, pr := range ds.ClosedThisPeriod {
		if !admit(pr, "closed_this_period", true, false) {
			continue
		}
		until := period.DateOnly(pr.UntilAt)
		finished := period.DateOnly(*pr.FinishedAt)
		switch {
		case until.Before(start):
			add(pr, domain.ClassCompletedCarried)
		case !until.Before(next):
			c.CompletedEarly++
		case !finished.After(until):
			add(pr, domain.ClassCompletedOnTime)
		default:
			add(pr, domain.ClassCompletedLate)
		}
	}

	for _, pr := range ds.CanceledThisPeriod {
		if admit(pr, "canceled_this_period", false, true) {
			add(pr, domain.ClassCanceled)
		}
	}

	for _, pr := range ds.CompletedInLaterPeriod {
		if admit(pr, "completed_in_later_period", true, false) {
			add(pr, domain.ClassCompletedInLaterPeriod)
		}
	}

	slices.SortStableFunc(c.Items, func(a, b ClassifiedPriority) int {
		return cmp.Or(
			cmp.Compare(a.MonthlyClass.Severity(), b.MonthlyClass.Severity()),
			cmp.Compare(a.Order, b.Order),
			a.UntilAt.Compare(b.UntilAt),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return c
}

// classifyOpen decides between OPEN and OVERDUE_THIS_PERIOD for a priority
// due inside p. Future periods cannot be overdue yet; the current period is
// judged against today and past periods against the period's last instant.
func classifyOpen(pr domain.Priority, p, todayPeriod period.Period, today time.Time) domain.MonthlyClass {
	if p.After(todayPeriod) {
		return domain.ClassOpen
	}
	reference := p.End()
	if p == todayPeriod {
		reference = today
	}
	if period.DateOnly(pr.UntilAt).Before(reference) {
		return domain.ClassOverdueThisPeriod
	}
	return domain.ClassOpen
}
