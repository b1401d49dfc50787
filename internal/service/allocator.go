package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/metrics"
	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

const defaultVehicleToiletRatio = 5

// farFuture bounds "any later day" queries.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

type AllocatorConfig struct {
	// VehicleToiletRatio is how many toilets one vehicle carries when the
	// vehicle count is derived.
	VehicleToiletRatio int
	Location           *time.Location
}

type ManualAssignment struct {
	EmployeeID *uuid.UUID  `json:"employee_id"`
	VehicleID  *uuid.UUID  `json:"vehicle_id"`
	ToiletIDs  []uuid.UUID `json:"toilet_ids"`
	Notes      string      `json:"notes" validate:"max=1000"`
}

type CreateServiceRequest struct {
	ClientID              uuid.UUID          `json:"client_id"`
	ScheduledDate         time.Time          `json:"scheduled_date"`
	ServiceType           model.ServiceType  `json:"service_type" validate:"required,oneof=INSTALL REMOVE CLEAN MAINTENANCE REPAIR"`
	RequiredToiletCount   int                `json:"required_toilet_count" validate:"gte=0,lte=1000"`
	RequiredVehicleCount  *int               `json:"required_vehicle_count" validate:"omitempty,gte=1,lte=100"`
	RequiredEmployeeCount int                `json:"required_employee_count" validate:"gte=1,lte=100"`
	Location              string             `json:"location" validate:"required,max=255"`
	Notes                 string             `json:"notes" validate:"max=2000"`
	AutoAssign            bool               `json:"auto_assign"`
	ManualAssignments     []ManualAssignment `json:"manual_assignments" validate:"dive"`
	ContractID            *uuid.UUID         `json:"contract_id"`
}

type AssignResourceRequest struct {
	ServiceID  uuid.UUID  `json:"service_id"`
	EmployeeID *uuid.UUID `json:"employee_id"`
	VehicleID  *uuid.UUID `json:"vehicle_id"`
	ToiletID   *uuid.UUID `json:"toilet_id"`
	Notes      string     `json:"notes" validate:"max=1000"`
}

type UpdateServicePatch struct {
	ScheduledDate         *time.Time `json:"scheduled_date"`
	Location              *string    `json:"location" validate:"omitempty,min=1,max=255"`
	Notes                 *string    `json:"notes" validate:"omitempty,max=2000"`
	RequiredToiletCount   *int       `json:"required_toilet_count" validate:"omitempty,gte=0,lte=1000"`
	RequiredVehicleCount  *int       `json:"required_vehicle_count" validate:"omitempty,gte=1,lte=100"`
	RequiredEmployeeCount *int       `json:"required_employee_count" validate:"omitempty,gte=1,lte=100"`
}

// ResourceAllocator creates services and commits resources to them. Every
// write happens inside one Store transaction that re-validates the chosen
// resources under row locks before inserting, so two concurrent requests
// cannot both commit the same resource for the same day.
type ResourceAllocator struct {
	store     repository.Store
	resolver  *AvailabilityResolver
	conflicts *ConflictChecker
	validate  *validator.Validate
	cfg       AllocatorConfig
	metrics   *metrics.Metrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewResourceAllocator(
	store repository.Store,
	resolver *AvailabilityResolver,
	conflicts *ConflictChecker,
	cfg AllocatorConfig,
	m *metrics.Metrics,
	log zerolog.Logger,
) *ResourceAllocator {
	if cfg.VehicleToiletRatio <= 0 {
		cfg.VehicleToiletRatio = defaultVehicleToiletRatio
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ResourceAllocator{
		store:     store,
		resolver:  resolver,
		conflicts: conflicts,
		validate:  validator.New(),
		cfg:       cfg,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// DefaultVehicleCount derives the vehicle count from the toilet count:
// ceil(toilets / ratio), never below one.
func DefaultVehicleCount(toilets, ratio int) int {
	if ratio <= 0 {
		ratio = defaultVehicleToiletRatio
	}
	n := (toilets + ratio - 1) / ratio
	if n < 1 {
		n = 1
	}
	return n
}

// allocationPlan is the outcome of the read-only phase of CreateService.
type allocationPlan struct {
	service     model.Service
	assignments []model.ResourceAssignment
	byKind      map[model.ResourceKind][]uuid.UUID
}

func (a *ResourceAllocator) CreateService(ctx context.Context, req CreateServiceRequest) (*model.Service, error) {
	svc, err := a.buildService(req)
	if err != nil {
		a.metrics.AllocationFailed("validation")
		return nil, err
	}
	if err := a.checkReferences(ctx, a.store, svc); err != nil {
		return nil, err
	}

	plan, err := a.plan(ctx, svc, req)
	if err != nil {
		a.recordFailure(err)
		return nil, err
	}

	err = a.store.Transaction(ctx, func(tx repository.Tx) error {
		for _, kind := range model.ResourceKinds {
			if err := a.reserve(ctx, tx, &plan.service, kind, plan.byKind[kind], true); err != nil {
				return err
			}
		}
		if err := tx.CreateService(ctx, &plan.service); err != nil {
			return err
		}
		if err := tx.CreateAssignments(ctx, plan.assignments); err != nil {
			return err
		}
		for _, kind := range model.ResourceKinds {
			if err := a.markAssigned(ctx, tx, &plan.service, kind, plan.byKind[kind]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = persistence(err)
		a.recordFailure(err)
		a.log.Warn().Err(err).
			Str("client_id", svc.ClientID.String()).
			Time("scheduled_date", svc.ScheduledDate).
			Msg("service allocation rolled back")
		return nil, err
	}

	a.metrics.ServiceCreated(string(plan.service.ServiceType))
	a.log.Info().
		Str("service_id", plan.service.ID.String()).
		Str("service_type", string(plan.service.ServiceType)).
		Int("assignments", len(plan.assignments)).
		Msg("service created")
	return a.GetService(ctx, plan.service.ID)
}

func (a *ResourceAllocator) buildService(req CreateServiceRequest) (model.Service, error) {
	if err := a.validate.Struct(req); err != nil {
		return model.Service{}, invalidInput("%s", err.Error())
	}
	if req.ClientID == uuid.Nil {
		return model.Service{}, invalidInput("client_id is required")
	}
	if req.ScheduledDate.IsZero() {
		return model.Service{}, invalidInput("scheduled_date is required")
	}
	if least := req.ServiceType.MinToilets(); req.RequiredToiletCount < least {
		return model.Service{}, invalidInput("%s services require at least %d toilet(s)", req.ServiceType, least)
	}

	vehicles := DefaultVehicleCount(req.RequiredToiletCount, a.cfg.VehicleToiletRatio)
	if req.RequiredVehicleCount != nil {
		vehicles = *req.RequiredVehicleCount
	}

	now := a.now().UTC()
	svc := model.Service{
		ID:                    uuid.New(),
		ClientID:              req.ClientID,
		ContractID:            req.ContractID,
		ScheduledDate:         req.ScheduledDate,
		ServiceType:           req.ServiceType,
		Status:                model.ServiceStatusScheduled,
		RequiredToiletCount:   req.RequiredToiletCount,
		RequiredVehicleCount:  vehicles,
		RequiredEmployeeCount: req.RequiredEmployeeCount,
		Location:              strings.TrimSpace(req.Location),
		Notes:                 req.Notes,
		AutoAssign:            req.AutoAssign,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if svc.Location == "" {
		return model.Service{}, invalidInput("location is required")
	}
	return svc, nil
}

func (a *ResourceAllocator) checkReferences(ctx context.Context, r repository.Tx, svc model.Service) error {
	if _, err := r.GetClient(ctx, svc.ClientID); err != nil {
		return lookupErr(err, "client", svc.ClientID)
	}
	if svc.ContractID == nil {
		return nil
	}
	contract, err := r.GetContract(ctx, *svc.ContractID)
	if err != nil {
		return lookupErr(err, "contract", *svc.ContractID)
	}
	if contract.ClientID != svc.ClientID {
		return invalidInput("contract %s does not belong to client %s", contract.ID, svc.ClientID)
	}
	if contract.Status != model.ContractStatusActive {
		return invalidInput("contract %s is %s", contract.ID, contract.Status)
	}
	return nil
}

// plan resolves manual and automatic resources without writing anything.
// Supply is checked for every count the manual bindings leave open; only
// auto-assign services turn the resolved resources into assignments.
func (a *ResourceAllocator) plan(ctx context.Context, svc model.Service, req CreateServiceRequest) (*allocationPlan, error) {
	manual, err := a.manualAssignments(svc, req.ManualAssignments)
	if err != nil {
		return nil, err
	}

	p := &allocationPlan{
		service:     svc,
		assignments: manual,
		byKind:      map[model.ResourceKind][]uuid.UUID{},
	}
	taken := map[uuid.UUID]struct{}{}
	for _, asg := range manual {
		for _, kind := range model.ResourceKinds {
			if id := asg.ResourceID(kind); id != nil {
				if err := a.conflicts.CheckAvailable(ctx, kind, *id, svc.ScheduledDate); err != nil {
					return nil, err
				}
				p.byKind[kind] = append(p.byKind[kind], *id)
				taken[*id] = struct{}{}
			}
		}
	}

	now := a.now().UTC()
	for _, kind := range model.ResourceKinds {
		need := svc.RequiredCount(kind) - len(p.byKind[kind])
		if need <= 0 {
			continue
		}
		ids, err := a.resolve(ctx, a.resolver, svc, kind, need, taken)
		if err != nil {
			return nil, err
		}
		if len(ids) < need {
			return nil, &InsufficientResourcesError{
				Kind:      kind,
				Date:      a.resolver.Window(svc.ScheduledDate).From,
				Requested: svc.RequiredCount(kind),
				Available: len(p.byKind[kind]) + len(ids),
			}
		}
		if !svc.AutoAssign {
			continue
		}
		for _, id := range ids {
			asg := model.ResourceAssignment{
				ID:         uuid.New(),
				ServiceID:  svc.ID,
				AssignedAt: now,
			}
			asg.SetResourceID(kind, id)
			p.assignments = append(p.assignments, asg)
			p.byKind[kind] = append(p.byKind[kind], id)
			taken[id] = struct{}{}
		}
	}
	return p, nil
}

func (a *ResourceAllocator) resolve(
	ctx context.Context,
	resolver *AvailabilityResolver,
	svc model.Service,
	kind model.ResourceKind,
	need int,
	skip map[uuid.UUID]struct{},
) ([]uuid.UUID, error) {
	if kind == model.ResourceKindToilet && !svc.ServiceType.UsesStock() {
		return resolver.findAvailableForClient(ctx, svc.ClientID, svc.ScheduledDate, need, skip)
	}
	return resolver.findAvailable(ctx, kind, svc.ScheduledDate, need, skip)
}

// manualAssignments expands operator-chosen bindings into assignment rows.
// An entry with several toilets yields one row per toilet; its employee and
// vehicle ride on the first row so every resource is counted once.
func (a *ResourceAllocator) manualAssignments(svc model.Service, entries []ManualAssignment) ([]model.ResourceAssignment, error) {
	now := a.now().UTC()
	counts := map[model.ResourceKind]int{}
	seen := map[uuid.UUID]struct{}{}
	use := func(kind model.ResourceKind, id uuid.UUID) error {
		if id == uuid.Nil {
			return invalidInput("manual %s id is empty", kindLabel(kind))
		}
		if _, dup := seen[id]; dup {
			return invalidInput("resource %s listed twice", id)
		}
		seen[id] = struct{}{}
		counts[kind]++
		if counts[kind] > svc.RequiredCount(kind) {
			return invalidInput("manual %s assignments exceed the required count %d", kindLabel(kind), svc.RequiredCount(kind))
		}
		return nil
	}

	var rows []model.ResourceAssignment
	for _, entry := range entries {
		base := model.ResourceAssignment{ServiceID: svc.ID, AssignedAt: now, Notes: entry.Notes}
		if entry.EmployeeID != nil {
			if err := use(model.ResourceKindEmployee, *entry.EmployeeID); err != nil {
				return nil, err
			}
			base.SetResourceID(model.ResourceKindEmployee, *entry.EmployeeID)
		}
		if entry.VehicleID != nil {
			if err := use(model.ResourceKindVehicle, *entry.VehicleID); err != nil {
				return nil, err
			}
			base.SetResourceID(model.ResourceKindVehicle, *entry.VehicleID)
		}
		if len(entry.ToiletIDs) == 0 {
			if base.Empty() {
				return nil, invalidInput("manual assignment binds no resource")
			}
			base.ID = uuid.New()
			rows = append(rows, base)
			continue
		}
		for i, toiletID := range entry.ToiletIDs {
			if err := use(model.ResourceKindToilet, toiletID); err != nil {
				return nil, err
			}
			row := model.ResourceAssignment{ID: uuid.New(), ServiceID: svc.ID, AssignedAt: now, Notes: entry.Notes}
			if i == 0 {
				row = base
				row.ID = uuid.New()
			}
			row.SetResourceID(model.ResourceKindToilet, toiletID)
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// reserve locks the resources and re-checks, inside the transaction, that
// none of them is out of service or held by another active service on the
// day of svc. fresh marks resources that are not yet bound to svc; those
// toilets must also be in stock when svc draws from stock.
func (a *ResourceAllocator) reserve(
	ctx context.Context,
	tx repository.Tx,
	svc *model.Service,
	kind model.ResourceKind,
	ids []uuid.UUID,
	fresh bool,
) error {
	if len(ids) == 0 {
		return nil
	}
	sorted := sortedIDs(ids)
	locked, err := tx.LockResources(ctx, kind, sorted)
	if err != nil {
		return err
	}
	window := model.DayOf(svc.ScheduledDate, a.cfg.Location)

	states := make(map[uuid.UUID]model.ResourceState, len(locked))
	for _, res := range locked {
		states[res.ID] = res.State
	}
	for _, id := range sorted {
		state, ok := states[id]
		if !ok {
			return notFound(kindLabel(kind), id)
		}
		if state.OutOfService() {
			return &ConflictError{Kind: kind, ResourceID: id, Date: window.From, Reason: fmt.Sprintf("is %s", state)}
		}
		if fresh && kind == model.ResourceKindToilet && svc.ServiceType.UsesStock() && state != model.ResourceStateAvailable {
			return &ConflictError{Kind: kind, ResourceID: id, Date: window.From, Reason: fmt.Sprintf("is %s, not in stock", state)}
		}
	}

	committed, err := tx.CommittedResources(ctx, kind, window, sorted, &svc.ID)
	if err != nil {
		return err
	}
	for _, id := range sorted {
		if other, busy := committed[id]; busy {
			return &ConflictError{Kind: kind, ResourceID: id, Date: window.From, ServiceID: other}
		}
	}
	return nil
}

// markAssigned moves newly bound resources to ASSIGNED. Toilets only leave
// stock for services that draw from it.
func (a *ResourceAllocator) markAssigned(ctx context.Context, tx repository.Tx, svc *model.Service, kind model.ResourceKind, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if kind == model.ResourceKindToilet && !svc.ServiceType.UsesStock() {
		return nil
	}
	return tx.SetResourceState(ctx, kind, ids, model.ResourceStateAssigned, model.ResourceStateAvailable)
}

// release returns resources to AVAILABLE when nothing else holds them from
// the service day onwards. Toilets are released only for services that took
// them from stock or brought them back to it.
func (a *ResourceAllocator) release(ctx context.Context, tx repository.Tx, svc *model.Service, kind model.ResourceKind, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	if kind == model.ResourceKindToilet &&
		svc.ServiceType != model.ServiceTypeInstall &&
		svc.ServiceType != model.ServiceTypeRemove {
		return nil
	}
	from := model.DayOf(svc.ScheduledDate, a.cfg.Location).From
	if today := model.DayOf(a.now(), a.cfg.Location).From; today.Before(from) {
		from = today
	}
	held, err := tx.CommittedResources(ctx, kind, model.DayWindow{From: from, To: farFuture}, ids, &svc.ID)
	if err != nil {
		return err
	}
	free := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, busy := held[id]; !busy {
			free = append(free, id)
		}
	}
	return tx.SetResourceState(ctx, kind, free, model.ResourceStateAvailable, model.ResourceStateAssigned)
}

// ReleaseResources frees what a service stops holding when it reaches
// status. Cancelled services give everything back; finished ones free crews
// and vehicles, and a completed removal brings its toilets back to stock.
func (a *ResourceAllocator) ReleaseResources(ctx context.Context, tx repository.Tx, svc *model.Service) error {
	if !svc.Status.Terminal() {
		return nil
	}
	for _, kind := range model.ResourceKinds {
		if kind == model.ResourceKindToilet {
			switch {
			case svc.Status == model.ServiceStatusCancelled && svc.ServiceType == model.ServiceTypeInstall:
			case svc.Status == model.ServiceStatusCompleted && svc.ServiceType == model.ServiceTypeRemove:
			default:
				continue
			}
		}
		if err := a.release(ctx, tx, svc, kind, boundIDs(svc.Assignments, kind)); err != nil {
			return err
		}
	}
	return nil
}

// Revalidate re-checks every resource bound to svc against its scheduled day.
// Used when a service re-enters the active set or moves to another day.
func (a *ResourceAllocator) Revalidate(ctx context.Context, tx repository.Tx, svc *model.Service) error {
	for _, kind := range model.ResourceKinds {
		if err := a.reserve(ctx, tx, svc, kind, boundIDs(svc.Assignments, kind), false); err != nil {
			return err
		}
	}
	return nil
}

func (a *ResourceAllocator) AssignResource(ctx context.Context, req AssignResourceRequest) (*model.ResourceAssignment, error) {
	if err := a.validate.Struct(req); err != nil {
		return nil, invalidInput("%s", err.Error())
	}
	asg := model.ResourceAssignment{
		ID:         uuid.New(),
		ServiceID:  req.ServiceID,
		EmployeeID: req.EmployeeID,
		VehicleID:  req.VehicleID,
		ToiletID:   req.ToiletID,
		AssignedAt: a.now().UTC(),
		Notes:      req.Notes,
	}
	if asg.Empty() {
		return nil, invalidInput("at least one of employee_id, vehicle_id, toilet_id is required")
	}

	svc, err := a.store.GetService(ctx, req.ServiceID)
	if err != nil {
		return nil, lookupErr(err, "service", req.ServiceID)
	}
	if err := checkAssignable(svc, asg); err != nil {
		return nil, err
	}
	for _, kind := range model.ResourceKinds {
		if id := asg.ResourceID(kind); id != nil {
			if err := a.conflicts.CheckAvailable(ctx, kind, *id, svc.ScheduledDate); err != nil {
				return nil, err
			}
		}
	}

	err = a.store.Transaction(ctx, func(tx repository.Tx) error {
		current, err := tx.GetService(ctx, req.ServiceID)
		if err != nil {
			return lookupErr(err, "service", req.ServiceID)
		}
		if err := checkAssignable(current, asg); err != nil {
			return err
		}
		for _, kind := range model.ResourceKinds {
			if id := asg.ResourceID(kind); id != nil {
				if err := a.reserve(ctx, tx, current, kind, []uuid.UUID{*id}, true); err != nil {
					return err
				}
			}
		}
		if err := tx.CreateAssignments(ctx, []model.ResourceAssignment{asg}); err != nil {
			return err
		}
		for _, kind := range model.ResourceKinds {
			if id := asg.ResourceID(kind); id != nil {
				if err := a.markAssigned(ctx, tx, current, kind, []uuid.UUID{*id}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, persistence(err)
	}
	a.log.Info().
		Str("service_id", req.ServiceID.String()).
		Str("assignment_id", asg.ID.String()).
		Msg("resource assigned manually")
	return &asg, nil
}

func checkAssignable(svc *model.Service, asg model.ResourceAssignment) error {
	if svc.Status.Terminal() {
		return invalidInput("service %s is %s", svc.ID, svc.Status)
	}
	for _, kind := range model.ResourceKinds {
		id := asg.ResourceID(kind)
		if id == nil {
			continue
		}
		for _, existing := range boundIDs(svc.Assignments, kind) {
			if existing == *id {
				return &ConflictError{Kind: kind, ResourceID: *id, Date: svc.ScheduledDate, ServiceID: svc.ID, Reason: "is already assigned to this service"}
			}
		}
		if svc.AssignedCount(kind)+1 > svc.RequiredCount(kind) {
			return invalidInput("service %s already has %d of %d %s(s)", svc.ID, svc.AssignedCount(kind), svc.RequiredCount(kind), kindLabel(kind))
		}
	}
	return nil
}

func (a *ResourceAllocator) RemoveAssignment(ctx context.Context, id uuid.UUID) error {
	err := a.store.Transaction(ctx, func(tx repository.Tx) error {
		asg, err := tx.GetAssignment(ctx, id)
		if err != nil {
			return lookupErr(err, "assignment", id)
		}
		svc, err := tx.GetService(ctx, asg.ServiceID)
		if err != nil {
			return lookupErr(err, "service", asg.ServiceID)
		}
		if svc.Status.Terminal() {
			return invalidInput("service %s is %s", svc.ID, svc.Status)
		}
		if err := tx.DeleteAssignments(ctx, []uuid.UUID{id}); err != nil {
			return err
		}
		for _, kind := range model.ResourceKinds {
			if rid := asg.ResourceID(kind); rid != nil {
				if err := a.release(ctx, tx, svc, kind, []uuid.UUID{*rid}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return persistence(err)
	}
	a.log.Info().Str("assignment_id", id.String()).Msg("assignment removed")
	return nil
}

// UpdateService applies patch. Lowering a required count drops the oldest
// bindings of that kind first. Raising it on an auto-assign service resolves
// and commits the extra resources, failing as a whole when supply is short;
// on a manual service the count is only raised and the operator assigns the
// rest. Moving the date re-checks the bindings that survive the shrink on
// the new day.
func (a *ResourceAllocator) UpdateService(ctx context.Context, id uuid.UUID, patch UpdateServicePatch) (*model.Service, error) {
	if err := a.validate.Struct(patch); err != nil {
		return nil, invalidInput("%s", err.Error())
	}

	err := a.store.Transaction(ctx, func(tx repository.Tx) error {
		svc, err := tx.GetService(ctx, id)
		if err != nil {
			return lookupErr(err, "service", id)
		}
		if svc.Status.Terminal() {
			return invalidInput("service %s is %s", svc.ID, svc.Status)
		}

		if patch.Location != nil {
			svc.Location = strings.TrimSpace(*patch.Location)
			if svc.Location == "" {
				return invalidInput("location is required")
			}
		}
		if patch.Notes != nil {
			svc.Notes = *patch.Notes
		}
		if patch.RequiredToiletCount != nil {
			if least := svc.ServiceType.MinToilets(); *patch.RequiredToiletCount < least {
				return invalidInput("%s services require at least %d toilet(s)", svc.ServiceType, least)
			}
			svc.RequiredToiletCount = *patch.RequiredToiletCount
		}
		if patch.RequiredVehicleCount != nil {
			svc.RequiredVehicleCount = *patch.RequiredVehicleCount
		}
		if patch.RequiredEmployeeCount != nil {
			svc.RequiredEmployeeCount = *patch.RequiredEmployeeCount
		}

		moved := false
		if patch.ScheduledDate != nil && !patch.ScheduledDate.Equal(svc.ScheduledDate) {
			if patch.ScheduledDate.IsZero() {
				return invalidInput("scheduled_date is required")
			}
			svc.ScheduledDate = *patch.ScheduledDate
			moved = true
		}

		for _, kind := range model.ResourceKinds {
			if err := a.shrink(ctx, tx, svc, kind); err != nil {
				return err
			}
		}
		if moved && svc.Status.Active() {
			if err := a.Revalidate(ctx, tx, svc); err != nil {
				return err
			}
		}
		for _, kind := range model.ResourceKinds {
			if err := a.grow(ctx, tx, svc, kind); err != nil {
				return err
			}
		}
		return tx.UpdateService(ctx, svc)
	})
	if err != nil {
		err = persistence(err)
		a.recordFailure(err)
		return nil, err
	}
	a.log.Info().Str("service_id", id.String()).Msg("service updated")
	return a.GetService(ctx, id)
}

// shrink drops excess bindings of kind, oldest assignment first.
func (a *ResourceAllocator) shrink(ctx context.Context, tx repository.Tx, svc *model.Service, kind model.ResourceKind) error {
	excess := svc.AssignedCount(kind) - svc.RequiredCount(kind)
	if excess <= 0 {
		return nil
	}
	ordered := orderedAssignments(svc.Assignments)

	var deleteIDs []uuid.UUID
	var released []uuid.UUID
	for i := range ordered {
		if excess == 0 {
			break
		}
		asg := ordered[i]
		rid := asg.ResourceID(kind)
		if rid == nil {
			continue
		}
		released = append(released, *rid)
		excess--
		asg.ClearResourceID(kind)
		if asg.Empty() {
			deleteIDs = append(deleteIDs, asg.ID)
			continue
		}
		if err := tx.UpdateAssignment(ctx, &asg); err != nil {
			return err
		}
		ordered[i] = asg
	}
	if err := tx.DeleteAssignments(ctx, deleteIDs); err != nil {
		return err
	}

	deleted := make(map[uuid.UUID]struct{}, len(deleteIDs))
	for _, id := range deleteIDs {
		deleted[id] = struct{}{}
	}
	kept := ordered[:0]
	for _, asg := range ordered {
		if _, gone := deleted[asg.ID]; !gone {
			kept = append(kept, asg)
		}
	}
	svc.Assignments = kept
	return a.release(ctx, tx, svc, kind, released)
}

// grow commits additional resources of kind on auto-assign services.
func (a *ResourceAllocator) grow(ctx context.Context, tx repository.Tx, svc *model.Service, kind model.ResourceKind) error {
	need := svc.RequiredCount(kind) - svc.AssignedCount(kind)
	if need <= 0 || !svc.AutoAssign || !svc.Status.Active() {
		return nil
	}
	skip := map[uuid.UUID]struct{}{}
	for _, id := range boundIDs(svc.Assignments, kind) {
		skip[id] = struct{}{}
	}
	ids, err := a.resolve(ctx, a.resolver.on(tx), *svc, kind, need, skip)
	if err != nil {
		return err
	}
	if len(ids) < need {
		return &InsufficientResourcesError{
			Kind:      kind,
			Date:      model.DayOf(svc.ScheduledDate, a.cfg.Location).From,
			Requested: svc.RequiredCount(kind),
			Available: svc.AssignedCount(kind) + len(ids),
		}
	}
	if err := a.reserve(ctx, tx, svc, kind, ids, true); err != nil {
		return err
	}
	now := a.now().UTC()
	rows := make([]model.ResourceAssignment, 0, len(ids))
	for _, rid := range ids {
		asg := model.ResourceAssignment{ID: uuid.New(), ServiceID: svc.ID, AssignedAt: now}
		asg.SetResourceID(kind, rid)
		rows = append(rows, asg)
	}
	if err := tx.CreateAssignments(ctx, rows); err != nil {
		return err
	}
	svc.Assignments = append(svc.Assignments, rows...)
	return a.markAssigned(ctx, tx, svc, kind, ids)
}

// DeleteService removes a service that is not under way, its assignments
// first.
func (a *ResourceAllocator) DeleteService(ctx context.Context, id uuid.UUID) error {
	err := a.store.Transaction(ctx, func(tx repository.Tx) error {
		svc, err := tx.GetService(ctx, id)
		if err != nil {
			return lookupErr(err, "service", id)
		}
		if svc.Status == model.ServiceStatusEnRoute || svc.Status == model.ServiceStatusInProgress {
			return invalidInput("service %s is %s", svc.ID, svc.Status)
		}
		if err := tx.DeleteService(ctx, id); err != nil {
			return err
		}
		if !svc.Status.Terminal() {
			for _, kind := range model.ResourceKinds {
				if err := a.release(ctx, tx, svc, kind, boundIDs(svc.Assignments, kind)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return persistence(err)
	}
	a.log.Info().Str("service_id", id.String()).Msg("service deleted")
	return nil
}

// GetService returns the service with its assignments and client.
func (a *ResourceAllocator) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	svc, err := a.store.GetService(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "service", id)
	}
	client, err := a.store.GetClient(ctx, svc.ClientID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, persistence(err)
	}
	svc.Client = client
	return svc, nil
}

func (a *ResourceAllocator) ListServices(ctx context.Context, filter model.ServiceFilter) ([]model.Service, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, invalidInput("to must not be before from")
	}
	services, err := a.store.ListServices(ctx, filter)
	if err != nil {
		return nil, persistence(err)
	}
	clients := map[uuid.UUID]*model.Client{}
	for i := range services {
		id := services[i].ClientID
		client, ok := clients[id]
		if !ok {
			client, err = a.store.GetClient(ctx, id)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, persistence(err)
			}
			clients[id] = client
		}
		services[i].Client = client
	}
	return services, nil
}

func (a *ResourceAllocator) recordFailure(err error) {
	switch {
	case errors.Is(err, ErrInsufficientResources):
		a.metrics.AllocationFailed("insufficient_resources")
	case errors.Is(err, ErrConflict):
		a.metrics.AllocationFailed("conflict")
	case errors.Is(err, ErrInvalidInput):
		a.metrics.AllocationFailed("validation")
	case errors.Is(err, ErrNotFound):
		a.metrics.AllocationFailed("not_found")
	case errors.Is(err, ErrPersistence):
		a.metrics.AllocationFailed("persistence")
	}
}

func boundIDs(assignments []model.ResourceAssignment, kind model.ResourceKind) []uuid.UUID {
	var ids []uuid.UUID
	for _, asg := range assignments {
		if id := asg.ResourceID(kind); id != nil {
			ids = append(ids, *id)
		}
	}
	return ids
}

// orderedAssignments sorts a copy oldest first, ties broken by id.
func orderedAssignments(assignments []model.ResourceAssignment) []model.ResourceAssignment {
	out := make([]model.ResourceAssignment, len(assignments))
	copy(out, assignments)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
