package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Periodicity string

const (
	PeriodicityDaily    Periodicity = "DAILY"
	PeriodicityWeekly   Periodicity = "WEEKLY"
	PeriodicityBiweekly Periodicity = "BIWEEKLY"
	PeriodicityMonthly  Periodicity = "MONTHLY"
	PeriodicityAnnual   Periodicity = "ANNUAL"
)

func (p Periodicity) Valid() bool {
	switch p {
	case PeriodicityDaily, PeriodicityWeekly, PeriodicityBiweekly, PeriodicityMonthly, PeriodicityAnnual:
		return true
	}
	return false
}

// Advance returns the first occurrence after from.
func (p Periodicity) Advance(from time.Time) (time.Time, error) {
	return p.AdvanceN(from, 1)
}

// AdvanceN returns the n-th occurrence counted from from. Month and year steps
// keep the day of month of from and clamp it to the length of the target
// month, so Jan 31 + 1 month is the last day of February.
func (p Periodicity) AdvanceN(from time.Time, n int) (time.Time, error) {
	switch p {
	case PeriodicityDaily:
		return from.AddDate(0, 0, n), nil
	case PeriodicityWeekly:
		return from.AddDate(0, 0, 7*n), nil
	case PeriodicityBiweekly:
		return from.AddDate(0, 0, 14*n), nil
	case PeriodicityMonthly:
		return addMonthsClamped(from, n), nil
	case PeriodicityAnnual:
		return addMonthsClamped(from, 12*n), nil
	default:
		return time.Time{}, fmt.Errorf("unknown periodicity %q", p)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	if last := daysIn(target.Year(), target.Month(), t.Location()); d > last {
		d = last
	}
	return target.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

type ContractStatus string

const (
	ContractStatusActive     ContractStatus = "ACTIVE"
	ContractStatusInactive   ContractStatus = "INACTIVE"
	ContractStatusTerminated ContractStatus = "TERMINATED"
)

type ContractualCondition struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"client_id"`
	ContractType       string         `gorm:"not null" json:"contract_type"`
	StartDate          time.Time      `gorm:"not null" json:"start_date"`
	EndDate            *time.Time     `json:"end_date,omitempty"`
	Periodicity        Periodicity    `gorm:"not null" json:"periodicity"`
	RatePerToilet      float64        `json:"rate_per_toilet"`
	RatePerService     float64        `json:"rate_per_service"`
	Status             ContractStatus `gorm:"not null;default:ACTIVE" json:"status"`
	DefaultServiceType *ServiceType   `json:"default_service_type,omitempty"`
	ToiletCount        *int           `json:"toilet_count,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (ContractualCondition) TableName() string {
	return "contractual_conditions"
}

// CoversDate reports whether t falls inside the contract term.
func (c ContractualCondition) CoversDate(t time.Time) bool {
	if t.Before(c.StartDate) {
		return false
	}
	return c.EndDate == nil || !t.After(*c.EndDate)
}
