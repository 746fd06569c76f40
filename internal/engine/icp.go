package engine

import (
	"github.com/shopspring/decimal"

	"priorityline/internal/domain"
)

// Buckets counts classified priorities per monthly class.
type Buckets struct {
	NotCompletedPreviousMonths int `json:"notCompletedPreviousMonths"`
	NotCompletedOverdue        int `json:"notCompletedOverdue"`
	InProgress                 int `json:"inProgress"`
	CompletedPreviousMonths    int `json:"completedPreviousMonths"`
	CompletedLate              int `json:"completedLate"`
	CompletedInOtherMonth      int `json:"completedInOtherMonth"`
	CompletedOnTime            int `json:"completedOnTime"`
	Canceled                   int `json:"canceled"`
	CompletedEarly             int `json:"completedEarly"`
}

// Aggregate reduces a classification into bucket counters.
func Aggregate(c Classification) Buckets {
	b := Buckets{CompletedEarly: c.CompletedEarly}
	for _, item := range c.Items {
		switch item.MonthlyClass {
		case domain.ClassOverdueCarried:
			b.NotCompletedPreviousMonths++
		case domain.ClassOverdueThisPeriod:
			b.NotCompletedOverdue++
		case domain.ClassOpen:
			b.InProgress++
		case domain.ClassCompletedCarried:
			b.CompletedPreviousMonths++
		case domain.ClassCompletedLate:
			b.CompletedLate++
		case domain.ClassCompletedInLaterPeriod:
			b.CompletedInOtherMonth++
		case domain.ClassCompletedOnTime:
			b.CompletedOnTime++
		case domain.ClassCanceled:
			b.Canceled++
		}
	}
	return b
}

// Summary is the ICP figure plus its numerator and denominator.
type Summary struct {
	TotalPlanned   int     `json:"totalPlanned"`
	TotalCompleted int     `json:"totalCompleted"`
	ICP            float64 `json:"icp"`
}

var hundred = decimal.NewFromInt(100)

// ComputeICP derives the compliance percentage from buckets. Canceled and
// completed-early priorities never enter either side of the ratio.
func ComputeICP(b Buckets) Summary {
	completed := b.CompletedOnTime + b.CompletedLate + b.CompletedPreviousMonths
	planned := completed + b.NotCompletedPreviousMonths + b.NotCompletedOverdue + b.InProgress + b.CompletedInOtherMonth
	s := Summary{TotalPlanned: planned, TotalCompleted: completed}
	if planned > 0 {
		// Round rounds half away from zero, which is half-up for non-negative values.
		s.ICP = decimal.NewFromInt(int64(completed)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(planned))).
			Round(2).
			InexactFloat64()
	}
	return s
}
