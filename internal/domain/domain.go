package domain

import "time"

// Priority statuses.
const (
	StatusOpen     = "OPEN"
	StatusClosed   = "CLOSED"
	StatusCanceled = "CANCELED"
)

// Priority is a time-boxed commitment owned by an organizational position.
type Priority struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Order       int        `json:"order"`
	FromAt      time.Time  `json:"fromAt" format:"date-time"`
	UntilAt     time.Time  `json:"untilAt" format:"date-time"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" format:"date-time"`
	CanceledAt  *time.Time `json:"canceledAt,omitempty" format:"date-time"`
	Month       int        `json:"month"`
	Year        int        `json:"year"`
	Status      string     `json:"status" enum:"OPEN,CLOSED,CANCELED"`
	PositionID  string     `json:"positionId"`
	ObjectiveID *string    `json:"objectiveId,omitempty"`
	IsActive    bool       `json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt" format:"date-time"`
	UpdatedAt   time.Time  `json:"updatedAt" format:"date-time"`
}

// MonthlyClass is the bucket a priority falls into for one reporting period.
type MonthlyClass string

const (
	ClassOpen                   MonthlyClass = "OPEN"
	ClassOverdueThisPeriod      MonthlyClass = "OVERDUE_THIS_PERIOD"
	ClassOverdueCarried         MonthlyClass = "OVERDUE_CARRIED_FROM_EARLIER"
	ClassCanceled               MonthlyClass = "CANCELED"
	ClassCompletedOnTime        MonthlyClass = "COMPLETED_ON_TIME"
	ClassCompletedLate          MonthlyClass = "COMPLETED_LATE_THIS_PERIOD"
	ClassCompletedCarried       MonthlyClass = "COMPLETED_CARRIED_FROM_EARLIER"
	ClassCompletedInLaterPeriod MonthlyClass = "COMPLETED_IN_LATER_PERIOD"
)

// ComplianceFlag says whether a classified priority counts as met for ICP.
type ComplianceFlag string

const (
	ComplianceMet           ComplianceFlag = "MET"
	ComplianceNotMet        ComplianceFlag = "NOT_MET"
	ComplianceNotApplicable ComplianceFlag = "NOT_APPLICABLE"
)

// Compliance maps a monthly class to its compliance flag.
func (c MonthlyClass) Compliance() ComplianceFlag {
	switch c {
	case ClassCompletedOnTime, ClassCompletedLate, ClassCompletedCarried:
		return ComplianceMet
	case ClassOverdueThisPeriod, ClassOverdueCarried:
		return ComplianceNotMet
	default:
		return ComplianceNotApplicable
	}
}

// Severity is the list-view rank of a class; lower sorts first.
func (c MonthlyClass) Severity() int {
	switch c {
	case ClassOverdueCarried:
		return 0
	case ClassOverdueThisPeriod:
		return 1
	case ClassOpen:
		return 2
	case ClassCompletedLate:
		return 3
	case ClassCompletedCarried:
		return 4
	case ClassCompletedInLaterPeriod:
		return 5
	case ClassCompletedOnTime:
		return 6
	case ClassCanceled:
		return 7
	default:
		return 8
	}
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
