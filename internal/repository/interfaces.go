package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nurpe/fieldops/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = gorm.ErrRecordNotFound

type ClientDirectory interface {
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
}

// ResourceCatalog serves the toilet, vehicle and employee catalogs by kind.
type ResourceCatalog interface {
	GetResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (*model.Resource, error)
	ListResources(ctx context.Context, kind model.ResourceKind, states []model.ResourceState) ([]model.Resource, error)
	// ListClientToilets returns toilets deployed at the client: bound to a
	// non-cancelled INSTALL service of the client and still ASSIGNED.
	ListClientToilets(ctx context.Context, clientID uuid.UUID) ([]model.Resource, error)
}

type ContractRepository interface {
	GetContract(ctx context.Context, id uuid.UUID) (*model.ContractualCondition, error)
	ListContractsByClient(ctx context.Context, clientID uuid.UUID) ([]model.ContractualCondition, error)
	ListActiveContracts(ctx context.Context) ([]model.ContractualCondition, error)
}

type ServiceRepository interface {
	// GetService loads the service with its assignments.
	GetService(ctx context.Context, id uuid.UUID) (*model.Service, error)
	ListServices(ctx context.Context, filter model.ServiceFilter) ([]model.Service, error)
	GetAssignment(ctx context.Context, id uuid.UUID) (*model.ResourceAssignment, error)
	// CommittedResources maps each resource id of the kind bound to an active
	// service scheduled inside window to that service. When ids is non-empty
	// only those resources are considered; exclude skips one service.
	CommittedResources(ctx context.Context, kind model.ResourceKind, window model.DayWindow, ids []uuid.UUID, exclude *uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
}

type MaintenanceRepository interface {
	GetMaintenance(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error)
	// LatestContractMaintenance returns the latest scheduled date recorded for
	// the contract, or nil when none exists.
	LatestContractMaintenance(ctx context.Context, contractID uuid.UUID) (*model.MaintenanceRecord, error)
}

// Tx is the unit of work handed to Store.Transaction. Reads made through it
// observe the transaction's own writes.
type Tx interface {
	ClientDirectory
	ResourceCatalog
	ContractRepository
	ServiceRepository
	MaintenanceRepository

	// LockResources takes row locks on the resources, in id order, and returns
	// their current catalog rows. Missing ids are absent from the result.
	LockResources(ctx context.Context, kind model.ResourceKind, ids []uuid.UUID) ([]model.Resource, error)
	SetResourceState(ctx context.Context, kind model.ResourceKind, ids []uuid.UUID, state model.ResourceState, onlyFrom ...model.ResourceState) error

	CreateService(ctx context.Context, svc *model.Service) error
	UpdateService(ctx context.Context, svc *model.Service) error
	DeleteService(ctx context.Context, id uuid.UUID) error
	CreateAssignments(ctx context.Context, assignments []model.ResourceAssignment) error
	UpdateAssignment(ctx context.Context, assignment *model.ResourceAssignment) error
	DeleteAssignments(ctx context.Context, ids []uuid.UUID) error

	CreateMaintenanceRecords(ctx context.Context, records []model.MaintenanceRecord) error
	UpdateMaintenanceRecord(ctx context.Context, record *model.MaintenanceRecord) error
}

type Store interface {
	Tx
	// Transaction runs fn atomically: a returned error rolls back every write.
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}
