package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ServiceType string

const (
	ServiceTypeInstall     ServiceType = "INSTALL"
	ServiceTypeRemove      ServiceType = "REMOVE"
	ServiceTypeClean       ServiceType = "CLEAN"
	ServiceTypeMaintenance ServiceType = "MAINTENANCE"
	ServiceTypeRepair      ServiceType = "REPAIR"
)

func (t ServiceType) Valid() bool {
	switch t {
	case ServiceTypeInstall, ServiceTypeRemove, ServiceTypeClean, ServiceTypeMaintenance, ServiceTypeRepair:
		return true
	}
	return false
}

// MinToilets is the smallest toilet count a service of this type may request.
func (t ServiceType) MinToilets() int {
	switch t {
	case ServiceTypeMaintenance, ServiceTypeRepair:
		return 0
	default:
		return 1
	}
}

// UsesStock reports whether the service takes toilets out of the yard. Every
// other type works on units already deployed at the client.
func (t ServiceType) UsesStock() bool {
	return t == ServiceTypeInstall
}

type Service struct {
	ID                    uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	ClientID              uuid.UUID     `gorm:"type:uuid;not null;index" json:"client_id"`
	ContractID            *uuid.UUID    `gorm:"type:uuid" json:"contract_id,omitempty"`
	ScheduledDate         time.Time     `gorm:"not null;index" json:"scheduled_date"`
	StartedAt             *time.Time    `json:"started_at,omitempty"`
	FinishedAt            *time.Time    `json:"finished_at,omitempty"`
	ServiceType           ServiceType   `gorm:"not null" json:"service_type"`
	Status                ServiceStatus `gorm:"not null;index" json:"status"`
	RequiredToiletCount   int           `gorm:"not null" json:"required_toilet_count"`
	RequiredVehicleCount  int           `gorm:"not null" json:"required_vehicle_count"`
	RequiredEmployeeCount int           `gorm:"not null" json:"required_employee_count"`
	Location              string        `gorm:"not null" json:"location"`
	Notes                 string        `json:"notes"`
	AutoAssign            bool          `gorm:"not null" json:"auto_assign"`
	IncompleteReason      *string       `json:"incomplete_reason,omitempty"`
	CreatedAt             time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	Assignments []ResourceAssignment `gorm:"-" json:"assignments"`
	Client      *Client              `gorm:"-" json:"client,omitempty"`
}

func (Service) TableName() string {
	return "services"
}

func (s *Service) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// RequiredCount returns the number of resources of the kind the service needs.
func (s Service) RequiredCount(kind ResourceKind) int {
	switch kind {
	case ResourceKindToilet:
		return s.RequiredToiletCount
	case ResourceKindVehicle:
		return s.RequiredVehicleCount
	case ResourceKindEmployee:
		return s.RequiredEmployeeCount
	}
	return 0
}

// AssignedCount counts the assignments binding a resource of the kind.
func (s Service) AssignedCount(kind ResourceKind) int {
	n := 0
	for _, a := range s.Assignments {
		if a.ResourceID(kind) != nil {
			n++
		}
	}
	return n
}

type ResourceAssignment struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"service_id"`
	EmployeeID *uuid.UUID `gorm:"type:uuid;index" json:"employee_id,omitempty"`
	VehicleID  *uuid.UUID `gorm:"type:uuid;index" json:"vehicle_id,omitempty"`
	ToiletID   *uuid.UUID `gorm:"type:uuid;index" json:"toilet_id,omitempty"`
	AssignedAt time.Time  `gorm:"not null" json:"assigned_at"`
	Notes      string     `json:"notes"`
}

func (ResourceAssignment) TableName() string {
	return "resource_assignments"
}

func (a *ResourceAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (a ResourceAssignment) ResourceID(kind ResourceKind) *uuid.UUID {
	switch kind {
	case ResourceKindToilet:
		return a.ToiletID
	case ResourceKindVehicle:
		return a.VehicleID
	case ResourceKindEmployee:
		return a.EmployeeID
	}
	return nil
}

// SetResourceID binds id under the given kind.
func (a *ResourceAssignment) SetResourceID(kind ResourceKind, id uuid.UUID) {
	switch kind {
	case ResourceKindToilet:
		a.ToiletID = &id
	case ResourceKindVehicle:
		a.VehicleID = &id
	case ResourceKindEmployee:
		a.EmployeeID = &id
	}
}

// ClearResourceID unbinds the kind, leaving the other bindings in place.
func (a *ResourceAssignment) ClearResourceID(kind ResourceKind) {
	switch kind {
	case ResourceKindToilet:
		a.ToiletID = nil
	case ResourceKindVehicle:
		a.VehicleID = nil
	case ResourceKindEmployee:
		a.EmployeeID = nil
	}
}

// Empty reports whether the assignment binds no resource at all.
func (a ResourceAssignment) Empty() bool {
	return a.ToiletID == nil && a.VehicleID == nil && a.EmployeeID == nil
}

// DayWindow is a half-open interval [From, To).
type DayWindow struct {
	From time.Time
	To   time.Time
}

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return DayWindow{From: start, To: start.AddDate(0, 0, 1)}
}

func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

type ServiceFilter struct {
	From     time.Time
	To       time.Time
	ClientID *uuid.UUID
	Statuses []ServiceStatus
}
