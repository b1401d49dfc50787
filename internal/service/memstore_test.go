package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

var errInjected = errors.New("injected storage failure")

type memData struct {
	clients     map[uuid.UUID]model.Client
	resources   map[model.ResourceKind]map[uuid.UUID]model.Resource
	contracts   map[uuid.UUID]model.ContractualCondition
	services    map[uuid.UUID]model.Service
	assignments map[uuid.UUID]model.ResourceAssignment
	maintenance map[uuid.UUID]model.MaintenanceRecord
}

func newMemData() *memData {
	d := &memData{
		clients:     map[uuid.UUID]model.Client{},
		resources:   map[model.ResourceKind]map[uuid.UUID]model.Resource{},
		contracts:   map[uuid.UUID]model.ContractualCondition{},
		services:    map[uuid.UUID]model.Service{},
		assignments: map[uuid.UUID]model.ResourceAssignment{},
		maintenance: map[uuid.UUID]model.MaintenanceRecord{},
	}
	for _, kind := range model.ResourceKinds {
		d.resources[kind] = map[uuid.UUID]model.Resource{}
	}
	return d
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.clients {
		c.clients[k] = v
	}
	for kind, rows := range d.resources {
		for k, v := range rows {
			c.resources[kind][k] = v
		}
	}
	for k, v := range d.contracts {
		c.contracts[k] = v
	}
	for k, v := range d.services {
		c.services[k] = v
	}
	for k, v := range d.assignments {
		c.assignments[k] = v
	}
	for k, v := range d.maintenance {
		c.maintenance[k] = v
	}
	return c
}

// memStore is an in-memory repository.Store. Transactions are serialised
// and roll back to a snapshot when the callback fails.
type memStore struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	data   *memData
	failOn map[string]error
}

var _ repository.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{data: newMemData(), failOn: map[string]error{}}
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx repository.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) fail(op string) error {
	if err, ok := s.failOn[op]; ok {
		return err
	}
	return nil
}

// seeding helpers

func (s *memStore) addClient(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.clients[id] = model.Client{ID: id, Name: name, Email: name + "@example.com"}
	return id
}

func (s *memStore) addResource(kind model.ResourceKind, label string, state model.ResourceState) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.resources[kind][id] = model.Resource{ID: id, Kind: kind, Label: label, State: state}
	return id
}

func (s *memStore) addResources(kind model.ResourceKind, n int, state model.ResourceState) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, s.addResource(kind, fmt.Sprintf("%s-%02d", kind, i+1), state))
	}
	return ids
}

func (s *memStore) addContract(c model.ContractualCondition) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.ContractStatusActive
	}
	s.data.contracts[c.ID] = c
	return c.ID
}

// deployToilets records a completed installation at the client for n new
// toilets, leaving them ASSIGNED.
func (s *memStore) deployToilets(clientID uuid.UUID, n int, installedOn time.Time) []uuid.UUID {
	ids := s.addResources(model.ResourceKindToilet, n, model.ResourceStateAssigned)
	s.mu.Lock()
	defer s.mu.Unlock()
	svc := model.Service{
		ID:                    uuid.New(),
		ClientID:              clientID,
		ScheduledDate:         installedOn,
		ServiceType:           model.ServiceTypeInstall,
		Status:                model.ServiceStatusCompleted,
		RequiredToiletCount:   n,
		RequiredVehicleCount:  1,
		RequiredEmployeeCount: 1,
		Location:              "seed",
	}
	s.data.services[svc.ID] = svc
	for _, id := range ids {
		toilet := id
		a := model.ResourceAssignment{ID: uuid.New(), ServiceID: svc.ID, ToiletID: &toilet, AssignedAt: installedOn}
		s.data.assignments[a.ID] = a
	}
	return ids
}

func (s *memStore) resourceState(kind model.ResourceKind, id uuid.UUID) model.ResourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.resources[kind][id].State
}

func (s *memStore) serviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.services)
}

func (s *memStore) assignmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.assignments)
}

func (s *memStore) maintenanceRecords() []model.MaintenanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.MaintenanceRecord, 0, len(s.data.maintenance))
	for _, r := range s.data.maintenance {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].ResourceID.String() < out[j].ResourceID.String()
	})
	return out
}

// repository.Tx

func (s *memStore) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) GetResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.resources[kind][id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func sortResources(rows []model.Resource) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Label != rows[j].Label {
			return rows[i].Label < rows[j].Label
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}

func (s *memStore) ListResources(ctx context.Context, kind model.ResourceKind, states []model.ResourceState) ([]model.Resource, error) {
	if err := s.fail("ListResources"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []model.Resource
	for _, r := range s.data.resources[kind] {
		if len(states) > 0 && !containsState(states, r.State) {
			continue
		}
		rows = append(rows, r)
	}
	sortResources(rows)
	return rows, nil
}

func (s *memStore) ListClientToilets(ctx context.Context, clientID uuid.UUID) ([]model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := map[uuid.UUID]model.Service{}
	for _, a := range s.data.assignments {
		if a.ToiletID == nil {
			continue
		}
		svc := s.data.services[a.ServiceID]
		if svc.ServiceType != model.ServiceTypeInstall || svc.Status == model.ServiceStatusCancelled {
			continue
		}
		if prev, ok := latest[*a.ToiletID]; !ok || svc.ScheduledDate.After(prev.ScheduledDate) {
			latest[*a.ToiletID] = svc
		}
	}
	var rows []model.Resource
	for toiletID, svc := range latest {
		r := s.data.resources[model.ResourceKindToilet][toiletID]
		if svc.ClientID == clientID && r.State == model.ResourceStateAssigned {
			rows = append(rows, r)
		}
	}
	sortResources(rows)
	return rows, nil
}

func (s *memStore) GetContract(ctx context.Context, id uuid.UUID) (*model.ContractualCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.contracts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) ListContractsByClient(ctx context.Context, clientID uuid.UUID) ([]model.ContractualCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContractualCondition
	for _, c := range s.data.contracts {
		if c.ClientID == clientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) ListActiveContracts(ctx context.Context) ([]model.ContractualCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ContractualCondition
	for _, c := range s.data.contracts {
		if c.Status == model.ContractStatusActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *memStore) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.data.services[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	svc.Assignments = s.assignmentsOf(id)
	return &svc, nil
}

func (s *memStore) assignmentsOf(serviceID uuid.UUID) []model.ResourceAssignment {
	out := []model.ResourceAssignment{}
	for _, a := range s.data.assignments {
		if a.ServiceID == serviceID {
			out = append(out, a)
		}
	}
	return orderedAssignments(out)
}

func (s *memStore) ListServices(ctx context.Context, filter model.ServiceFilter) ([]model.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Service
	for _, svc := range s.data.services {
		if !filter.From.IsZero() && svc.ScheduledDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !svc.ScheduledDate.Before(filter.To) {
			continue
		}
		if filter.ClientID != nil && svc.ClientID != *filter.ClientID {
			continue
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				match = match || st == svc.Status
			}
			if !match {
				continue
			}
		}
		svc.Assignments = s.assignmentsOf(svc.ID)
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.Before(out[j].ScheduledDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *memStore) GetAssignment(ctx context.Context, id uuid.UUID) (*model.ResourceAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.assignments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (s *memStore) CommittedResources(
	ctx context.Context,
	kind model.ResourceKind,
	window model.DayWindow,
	ids []uuid.UUID,
	exclude *uuid.UUID,
) (map[uuid.UUID]uuid.UUID, error) {
	if err := s.fail("CommittedResources"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := map[uuid.UUID]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	out := map[uuid.UUID]uuid.UUID{}
	for _, a := range s.data.assignments {
		rid := a.ResourceID(kind)
		if rid == nil {
			continue
		}
		if len(ids) > 0 && !wanted[*rid] {
			continue
		}
		if exclude != nil && a.ServiceID == *exclude {
			continue
		}
		svc := s.data.services[a.ServiceID]
		if !svc.Status.Active() || !window.Contains(svc.ScheduledDate) {
			continue
		}
		out[*rid] = svc.ID
	}
	return out, nil
}

func (s *memStore) GetMaintenance(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.maintenance[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) LatestContractMaintenance(ctx context.Context, contractID uuid.UUID) (*model.MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.MaintenanceRecord
	for _, r := range s.data.maintenance {
		if r.ContractID == nil || *r.ContractID != contractID {
			continue
		}
		if latest == nil || r.ScheduledDate.After(latest.ScheduledDate) {
			rec := r
			latest = &rec
		}
	}
	return latest, nil
}

func (s *memStore) LockResources(ctx context.Context, kind model.ResourceKind, ids []uuid.UUID) ([]model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Resource
	for _, id := range ids {
		if r, ok := s.data.resources[kind][id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) SetResourceState(ctx context.Context, kind model.ResourceKind, ids []uuid.UUID, state model.ResourceState, onlyFrom ...model.ResourceState) error {
	if err := s.fail("SetResourceState"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		r, ok := s.data.resources[kind][id]
		if !ok {
			continue
		}
		if len(onlyFrom) > 0 && !containsState(onlyFrom, r.State) {
			continue
		}
		r.State = state
		s.data.resources[kind][id] = r
	}
	return nil
}

func (s *memStore) CreateService(ctx context.Context, svc *model.Service) error {
	if err := s.fail("CreateService"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := *svc
	row.Assignments = nil
	row.Client = nil
	s.data.services[svc.ID] = row
	return nil
}

func (s *memStore) UpdateService(ctx context.Context, svc *model.Service) error {
	if err := s.fail("UpdateService"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.services[svc.ID]; !ok {
		return repository.ErrNotFound
	}
	row := *svc
	row.Assignments = nil
	row.Client = nil
	s.data.services[svc.ID] = row
	return nil
}

func (s *memStore) DeleteService(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.services[id]; !ok {
		return repository.ErrNotFound
	}
	for aid, a := range s.data.assignments {
		if a.ServiceID == id {
			delete(s.data.assignments, aid)
		}
	}
	delete(s.data.services, id)
	return nil
}

func (s *memStore) CreateAssignments(ctx context.Context, assignments []model.ResourceAssignment) error {
	if err := s.fail("CreateAssignments"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range assignments {
		s.data.assignments[a.ID] = a
	}
	return nil
}

func (s *memStore) UpdateAssignment(ctx context.Context, assignment *model.ResourceAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.assignments[assignment.ID] = *assignment
	return nil
}

func (s *memStore) DeleteAssignments(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.data.assignments, id)
	}
	return nil
}

func (s *memStore) CreateMaintenanceRecords(ctx context.Context, records []model.MaintenanceRecord) error {
	if err := s.fail("CreateMaintenanceRecords"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.data.maintenance[r.ID] = r
	}
	return nil
}

func (s *memStore) UpdateMaintenanceRecord(ctx context.Context, record *model.MaintenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.maintenance[record.ID]; !ok {
		return repository.ErrNotFound
	}
	s.data.maintenance[record.ID] = *record
	return nil
}

func containsState(states []model.ResourceState, state model.ResourceState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// fixture wires the scheduling services over one memStore.
type fixture struct {
	store     *memStore
	resolver  *AvailabilityResolver
	conflicts *ConflictChecker
	allocator *ResourceAllocator
	machine   *ServiceStateMachine
	scheduler *MaintenanceScheduler
	clientID  uuid.UUID
}

var fixedNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newFixture(notifier Notifier) *fixture {
	store := newMemStore()
	log := zerolog.New(io.Discard)
	resolver := NewAvailabilityResolver(store, time.UTC)
	conflicts := NewConflictChecker(store, time.UTC)
	allocator := NewResourceAllocator(store, resolver, conflicts, AllocatorConfig{VehicleToiletRatio: 5, Location: time.UTC}, nil, log)
	allocator.now = func() time.Time { return fixedNow }
	machine := NewServiceStateMachine(store, allocator, notifier, nil, log)
	machine.now = func() time.Time { return fixedNow }
	scheduler := NewMaintenanceScheduler(store, MaintenanceDefaults{LookaheadDays: 30, Location: time.UTC}, nil, log)
	scheduler.now = func() time.Time { return fixedNow }
	return &fixture{
		store:     store,
		resolver:  resolver,
		conflicts: conflicts,
		allocator: allocator,
		machine:   machine,
		scheduler: scheduler,
		clientID:  store.addClient("acme"),
	}
}

// tickingClock returns a clock that moves one minute per reading.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Minute)
		return current
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
