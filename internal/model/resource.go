package model

import (
	"time"

	"github.com/google/uuid"
)

type ResourceKind string

const (
	ResourceKindToilet   ResourceKind = "TOILET"
	ResourceKindVehicle  ResourceKind = "VEHICLE"
	ResourceKindEmployee ResourceKind = "EMPLOYEE"
)

// ResourceKinds lists every kind in allocation order.
var ResourceKinds = []ResourceKind{ResourceKindToilet, ResourceKindVehicle, ResourceKindEmployee}

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceKindToilet, ResourceKindVehicle, ResourceKindEmployee:
		return true
	}
	return false
}

type ResourceState string

const (
	ResourceStateAvailable     ResourceState = "AVAILABLE"
	ResourceStateAssigned      ResourceState = "ASSIGNED"
	ResourceStateInMaintenance ResourceState = "IN_MAINTENANCE"
	ResourceStateInactive      ResourceState = "INACTIVE"
)

func (s ResourceState) Valid() bool {
	switch s {
	case ResourceStateAvailable, ResourceStateAssigned, ResourceStateInMaintenance, ResourceStateInactive:
		return true
	}
	return false
}

// SchedulableStates returns the catalog states from which a resource of the
// given kind may be committed to a new service. Toilets must be in stock;
// vehicles and crews can serve several jobs, so only out-of-service states
// exclude them.
func SchedulableStates(kind ResourceKind) []ResourceState {
	if kind == ResourceKindToilet {
		return []ResourceState{ResourceStateAvailable}
	}
	return []ResourceState{ResourceStateAvailable, ResourceStateAssigned}
}

// OutOfService reports whether the state forbids any assignment.
func (s ResourceState) OutOfService() bool {
	return s == ResourceStateInMaintenance || s == ResourceStateInactive
}

// Resource is the catalog view shared by toilets, vehicles and employees.
type Resource struct {
	ID    uuid.UUID     `json:"id"`
	Kind  ResourceKind  `json:"kind"`
	Label string        `json:"label"`
	State ResourceState `json:"state"`
}

type ChemicalToilet struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Code      string        `gorm:"not null" json:"code"`
	Model     string        `json:"model"`
	State     ResourceState `gorm:"not null;default:AVAILABLE" json:"state"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (ChemicalToilet) TableName() string {
	return "chemical_toilets"
}

type Vehicle struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Plate     string        `gorm:"not null" json:"plate"`
	Model     string        `json:"model"`
	State     ResourceState `gorm:"not null;default:AVAILABLE" json:"state"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (Vehicle) TableName() string {
	return "vehicles"
}

type Employee struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	FullName  string        `gorm:"not null" json:"full_name"`
	Role      string        `json:"role"`
	State     ResourceState `gorm:"not null;default:AVAILABLE" json:"state"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func (Employee) TableName() string {
	return "employees"
}
