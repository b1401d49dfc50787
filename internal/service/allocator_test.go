package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/nurpe/fieldops/internal/model"
)

type AllocatorTestSuite struct {
	suite.Suite
	ctx  context.Context
	f    *fixture
	date model.DayWindow
}

func (s *AllocatorTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.f = newFixture(nil)
	s.date = model.DayOf(day(2025, 6, 10), nil)
}

func TestAllocatorTestSuite(t *testing.T) {
	suite.Run(t, new(AllocatorTestSuite))
}

func (s *AllocatorTestSuite) installRequest(toilets int) CreateServiceRequest {
	return CreateServiceRequest{
		ClientID:              s.f.clientID,
		ScheduledDate:         s.date.From,
		ServiceType:           model.ServiceTypeInstall,
		RequiredToiletCount:   toilets,
		RequiredEmployeeCount: 1,
		Location:              "Av. Central 100",
		AutoAssign:            true,
	}
}

func (s *AllocatorTestSuite) TestInsufficientToiletsCreatesNothing() {
	s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	svc, err := s.f.allocator.CreateService(s.ctx, s.installRequest(3))
	s.Nil(svc)
	s.ErrorIs(err, ErrInsufficientResources)

	var short *InsufficientResourcesError
	s.Require().ErrorAs(err, &short)
	s.Equal(model.ResourceKindToilet, short.Kind)
	s.Equal(3, short.Requested)
	s.Equal(2, short.Available)
	s.Equal(s.date.From, short.Date)

	s.Zero(s.f.store.serviceCount())
	s.Zero(s.f.store.assignmentCount())
}

func (s *AllocatorTestSuite) TestManualServiceStillNeedsSupply() {
	s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	req := s.installRequest(3)
	req.AutoAssign = false
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Nil(svc)
	s.ErrorIs(err, ErrInsufficientResources)

	var short *InsufficientResourcesError
	s.Require().ErrorAs(err, &short)
	s.Equal(model.ResourceKindToilet, short.Kind)
	s.Equal(3, short.Requested)
	s.Equal(2, short.Available)
	s.Zero(s.f.store.serviceCount())

	req.RequiredToiletCount = 2
	req.RequiredVehicleCount = intPtr(3)
	_, err = s.f.allocator.CreateService(s.ctx, req)
	s.Require().ErrorAs(err, &short)
	s.Equal(model.ResourceKindVehicle, short.Kind)
	s.Zero(s.f.store.serviceCount())

	req.RequiredVehicleCount = nil
	svc, err = s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	s.Empty(svc.Assignments, "manual services are created without bindings")
}

func (s *AllocatorTestSuite) TestDefaultVehicleCount() {
	s.f.store.addResources(model.ResourceKindToilet, 5, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 3, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	svc, err := s.f.allocator.CreateService(s.ctx, s.installRequest(2))
	s.Require().NoError(err)

	s.Equal(1, svc.RequiredVehicleCount)
	s.Equal(2, svc.AssignedCount(model.ResourceKindToilet))
	s.Equal(1, svc.AssignedCount(model.ResourceKindVehicle))
	s.Equal(1, svc.AssignedCount(model.ResourceKindEmployee))
	s.Equal(model.ServiceStatusScheduled, svc.Status)
	s.Require().NotNil(svc.Client)
	s.Equal("acme", svc.Client.Name)

	for _, id := range boundIDs(svc.Assignments, model.ResourceKindToilet) {
		s.Equal(model.ResourceStateAssigned, s.f.store.resourceState(model.ResourceKindToilet, id))
	}
}

func (s *AllocatorTestSuite) TestAssignedCountsMatchRequest() {
	s.f.store.addResources(model.ResourceKindToilet, 12, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 4, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 4, model.ResourceStateAvailable)

	req := s.installRequest(11)
	req.RequiredEmployeeCount = 3
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)

	s.Equal(3, svc.RequiredVehicleCount, "ceil(11/5)")
	for _, kind := range model.ResourceKinds {
		s.Equal(svc.RequiredCount(kind), svc.AssignedCount(kind), kind)
	}
}

func (s *AllocatorTestSuite) TestFailedWriteRollsBack() {
	s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)

	for _, op := range []string{"CreateAssignments", "SetResourceState"} {
		s.f.store.failOn = map[string]error{op: errInjected}
		_, err := s.f.allocator.CreateService(s.ctx, s.installRequest(2))
		s.ErrorIs(err, ErrPersistence, op)
		s.Zero(s.f.store.serviceCount(), op)
		s.Zero(s.f.store.assignmentCount(), op)
	}

	s.f.store.failOn = map[string]error{}
	ids, err := s.f.resolver.FindAvailable(s.ctx, model.ResourceKindToilet, s.date.From, 5)
	s.Require().NoError(err)
	s.Len(ids, 2, "toilets stay in stock after rollback")
}

func (s *AllocatorTestSuite) TestRejectsInvalidRequests() {
	s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)

	cases := map[string]func(r *CreateServiceRequest){
		"missing client":     func(r *CreateServiceRequest) { r.ClientID = uuid.Nil },
		"missing date":       func(r *CreateServiceRequest) { r.ScheduledDate = time.Time{} },
		"unknown type":       func(r *CreateServiceRequest) { r.ServiceType = "PAINT" },
		"negative toilets":   func(r *CreateServiceRequest) { r.RequiredToiletCount = -1 },
		"install no toilets": func(r *CreateServiceRequest) { r.RequiredToiletCount = 0 },
		"blank location":     func(r *CreateServiceRequest) { r.Location = "   " },
		"zero vehicles":      func(r *CreateServiceRequest) { r.RequiredVehicleCount = intPtr(0) },
	}
	for name, mutate := range cases {
		req := s.installRequest(1)
		mutate(&req)
		_, err := s.f.allocator.CreateService(s.ctx, req)
		s.ErrorIs(err, ErrInvalidInput, name)
	}

	req := s.installRequest(1)
	req.ClientID = uuid.New()
	_, err := s.f.allocator.CreateService(s.ctx, req)
	s.ErrorIs(err, ErrNotFound)
	s.Zero(s.f.store.serviceCount())
}

func (s *AllocatorTestSuite) TestMaintenanceServiceNeedsNoToilets() {
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)

	req := s.installRequest(0)
	req.ServiceType = model.ServiceTypeMaintenance
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	s.Equal(0, svc.AssignedCount(model.ResourceKindToilet))
	s.Equal(1, svc.AssignedCount(model.ResourceKindVehicle))
}

func (s *AllocatorTestSuite) TestCleaningUsesDeployedToilets() {
	deployed := s.f.store.deployToilets(s.f.clientID, 3, day(2025, 5, 2))
	s.f.store.addResources(model.ResourceKindToilet, 5, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)

	req := s.installRequest(3)
	req.ServiceType = model.ServiceTypeClean
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	s.ElementsMatch(deployed, boundIDs(svc.Assignments, model.ResourceKindToilet))

	req.RequiredToiletCount = 4
	_, err = s.f.allocator.CreateService(s.ctx, req)
	s.ErrorIs(err, ErrInsufficientResources, "stock toilets are never cleaned")
}

func (s *AllocatorTestSuite) TestManualAssignments() {
	toilets := s.f.store.addResources(model.ResourceKindToilet, 3, model.ResourceStateAvailable)
	vehicles := s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	employees := s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	req := s.installRequest(2)
	req.AutoAssign = false
	req.ManualAssignments = []ManualAssignment{{
		EmployeeID: &employees[0],
		VehicleID:  &vehicles[0],
		ToiletIDs:  toilets[:2],
		Notes:      "first crew",
	}}
	first, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	s.Len(first.Assignments, 2, "one row per toilet")
	s.Equal(1, first.AssignedCount(model.ResourceKindEmployee))
	s.Equal(1, first.AssignedCount(model.ResourceKindVehicle))

	req.ManualAssignments = []ManualAssignment{{EmployeeID: &employees[1], VehicleID: &vehicles[0]}}
	req.RequiredToiletCount = 1
	_, err = s.f.allocator.CreateService(s.ctx, req)
	var conflict *ConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal(vehicles[0], conflict.ResourceID)
	s.Equal(first.ID, conflict.ServiceID)
	s.Equal(1, s.f.store.serviceCount())

	req.ManualAssignments = []ManualAssignment{{ToiletIDs: []uuid.UUID{toilets[2], toilets[2]}}}
	_, err = s.f.allocator.CreateService(s.ctx, req)
	s.ErrorIs(err, ErrInvalidInput, "duplicate ids")

	req.ManualAssignments = []ManualAssignment{{ToiletIDs: toilets}}
	_, err = s.f.allocator.CreateService(s.ctx, req)
	s.ErrorIs(err, ErrInvalidInput, "more toilets than required")
}

func (s *AllocatorTestSuite) TestManualPlusAutoFillsRemainder() {
	toilets := s.f.store.addResources(model.ResourceKindToilet, 4, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)

	req := s.installRequest(3)
	req.ManualAssignments = []ManualAssignment{{ToiletIDs: []uuid.UUID{toilets[3]}}}
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	bound := boundIDs(svc.Assignments, model.ResourceKindToilet)
	s.Len(bound, 3)
	s.Contains(bound, toilets[3])
}

func (s *AllocatorTestSuite) TestAssignAndRemove() {
	toilets := s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	employees := s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	req := s.installRequest(2)
	req.RequiredEmployeeCount = 2
	req.AutoAssign = false
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	s.Empty(svc.Assignments)

	asg, err := s.f.allocator.AssignResource(s.ctx, AssignResourceRequest{ServiceID: svc.ID, ToiletID: &toilets[0], EmployeeID: &employees[0]})
	s.Require().NoError(err)
	s.Equal(model.ResourceStateAssigned, s.f.store.resourceState(model.ResourceKindToilet, toilets[0]))

	_, err = s.f.allocator.AssignResource(s.ctx, AssignResourceRequest{ServiceID: svc.ID, EmployeeID: &employees[0]})
	s.ErrorIs(err, ErrConflict, "already on this service")

	_, err = s.f.allocator.AssignResource(s.ctx, AssignResourceRequest{ServiceID: svc.ID})
	s.ErrorIs(err, ErrInvalidInput)

	_, err = s.f.allocator.AssignResource(s.ctx, AssignResourceRequest{ServiceID: uuid.New(), ToiletID: &toilets[1]})
	s.ErrorIs(err, ErrNotFound)

	s.Require().NoError(s.f.allocator.RemoveAssignment(s.ctx, asg.ID))
	s.Equal(model.ResourceStateAvailable, s.f.store.resourceState(model.ResourceKindToilet, toilets[0]))
	s.Equal(model.ResourceStateAvailable, s.f.store.resourceState(model.ResourceKindEmployee, employees[0]))

	s.ErrorIs(s.f.allocator.RemoveAssignment(s.ctx, asg.ID), ErrNotFound)
}

func (s *AllocatorTestSuite) TestUpdateGrowsAndShrinks() {
	s.f.store.addResources(model.ResourceKindToilet, 4, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 2, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	s.f.allocator.now = tickingClock(fixedNow)
	svc, err := s.f.allocator.CreateService(s.ctx, s.installRequest(2))
	s.Require().NoError(err)
	original := boundIDs(svc.Assignments, model.ResourceKindToilet)

	svc, err = s.f.allocator.UpdateService(s.ctx, svc.ID, UpdateServicePatch{RequiredToiletCount: intPtr(4)})
	s.Require().NoError(err)
	s.Equal(4, svc.AssignedCount(model.ResourceKindToilet))

	_, err = s.f.allocator.UpdateService(s.ctx, svc.ID, UpdateServicePatch{RequiredToiletCount: intPtr(5)})
	s.ErrorIs(err, ErrInsufficientResources)
	unchanged, err := s.f.allocator.GetService(s.ctx, svc.ID)
	s.Require().NoError(err)
	s.Equal(4, unchanged.RequiredToiletCount)
	s.Equal(4, unchanged.AssignedCount(model.ResourceKindToilet))

	svc, err = s.f.allocator.UpdateService(s.ctx, svc.ID, UpdateServicePatch{RequiredToiletCount: intPtr(1)})
	s.Require().NoError(err)
	remaining := boundIDs(svc.Assignments, model.ResourceKindToilet)
	s.Require().Len(remaining, 1)
	s.NotContains(original, remaining[0], "oldest toilets go first")

	ids, err := s.f.resolver.FindAvailable(s.ctx, model.ResourceKindToilet, s.date.From, 10)
	s.Require().NoError(err)
	s.Len(ids, 3)
}

func (s *AllocatorTestSuite) TestUpdateShrinkKeepsSharedRows() {
	toilets := s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	vehicles := s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	employees := s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)

	req := s.installRequest(2)
	req.AutoAssign = false
	req.ManualAssignments = []ManualAssignment{{EmployeeID: &employees[0], VehicleID: &vehicles[0], ToiletIDs: toilets}}
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)

	svc, err = s.f.allocator.UpdateService(s.ctx, svc.ID, UpdateServicePatch{RequiredToiletCount: intPtr(1)})
	s.Require().NoError(err)
	s.Equal(1, svc.AssignedCount(model.ResourceKindToilet))
	s.Equal(1, svc.AssignedCount(model.ResourceKindEmployee))
	s.Equal(1, svc.AssignedCount(model.ResourceKindVehicle))
}

func (s *AllocatorTestSuite) TestUpdateMovesDate() {
	s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	vehicles := s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	first, err := s.f.allocator.CreateService(s.ctx, s.installRequest(1))
	s.Require().NoError(err)

	next := s.installRequest(1)
	next.ScheduledDate = s.date.From.AddDate(0, 0, 1)
	second, err := s.f.allocator.CreateService(s.ctx, next)
	s.Require().NoError(err)
	s.Equal(vehicles, boundIDs(second.Assignments, model.ResourceKindVehicle))

	moved := s.date.From.AddDate(0, 0, 1)
	_, err = s.f.allocator.UpdateService(s.ctx, first.ID, UpdateServicePatch{ScheduledDate: &moved})
	s.ErrorIs(err, ErrConflict, "the only vehicle is busy on the new day")

	moved = s.date.From.AddDate(0, 0, 2)
	updated, err := s.f.allocator.UpdateService(s.ctx, first.ID, UpdateServicePatch{ScheduledDate: &moved, Notes: strPtr("gate B")})
	s.Require().NoError(err)
	s.True(moved.Equal(updated.ScheduledDate))
	s.Equal("gate B", updated.Notes)
}

func (s *AllocatorTestSuite) TestUpdateMovesDateAfterShrinking() {
	toilets := s.f.store.addResources(model.ResourceKindToilet, 2, model.ResourceStateAvailable)
	vehicles := s.f.store.addResources(model.ResourceKindVehicle, 2, model.ResourceStateAvailable)
	employees := s.f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)
	s.f.allocator.now = tickingClock(fixedNow)

	req := s.installRequest(1)
	req.AutoAssign = false
	req.RequiredVehicleCount = intPtr(2)
	req.ManualAssignments = []ManualAssignment{{EmployeeID: &employees[0], VehicleID: &vehicles[0], ToiletIDs: toilets[:1]}}
	svc, err := s.f.allocator.CreateService(s.ctx, req)
	s.Require().NoError(err)
	_, err = s.f.allocator.AssignResource(s.ctx, AssignResourceRequest{ServiceID: svc.ID, VehicleID: &vehicles[1]})
	s.Require().NoError(err)

	moved := s.date.From.AddDate(0, 0, 1)
	other := s.installRequest(1)
	other.AutoAssign = false
	other.ScheduledDate = moved
	other.ManualAssignments = []ManualAssignment{{EmployeeID: &employees[1], VehicleID: &vehicles[0], ToiletIDs: toilets[1:]}}
	_, err = s.f.allocator.CreateService(s.ctx, other)
	s.Require().NoError(err)

	updated, err := s.f.allocator.UpdateService(s.ctx, svc.ID, UpdateServicePatch{ScheduledDate: &moved, RequiredVehicleCount: intPtr(1)})
	s.Require().NoError(err, "the clashing vehicle is the oldest binding and is dropped first")
	s.True(moved.Equal(updated.ScheduledDate))
	s.Equal([]uuid.UUID{vehicles[1]}, boundIDs(updated.Assignments, model.ResourceKindVehicle))
	s.Equal(1, updated.AssignedCount(model.ResourceKindToilet))
	s.Equal(model.ResourceStateAssigned, s.f.store.resourceState(model.ResourceKindVehicle, vehicles[0]), "still held by the other service")
}

func (s *AllocatorTestSuite) TestDeleteService() {
	toilets := s.f.store.addResources(model.ResourceKindToilet, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)

	svc, err := s.f.allocator.CreateService(s.ctx, s.installRequest(1))
	s.Require().NoError(err)

	s.Require().NoError(s.f.allocator.DeleteService(s.ctx, svc.ID))
	s.Zero(s.f.store.serviceCount())
	s.Zero(s.f.store.assignmentCount())
	s.Equal(model.ResourceStateAvailable, s.f.store.resourceState(model.ResourceKindToilet, toilets[0]))

	s.ErrorIs(s.f.allocator.DeleteService(s.ctx, svc.ID), ErrNotFound)
}

func (s *AllocatorTestSuite) TestListServices() {
	s.f.store.addResources(model.ResourceKindVehicle, 1, model.ResourceStateAvailable)
	s.f.store.addResources(model.ResourceKindEmployee, 1, model.ResourceStateAvailable)
	req := s.installRequest(0)
	req.ServiceType = model.ServiceTypeRepair
	req.AutoAssign = false
	for i := 0; i < 3; i++ {
		req.ScheduledDate = s.date.From.AddDate(0, 0, i)
		_, err := s.f.allocator.CreateService(s.ctx, req)
		s.Require().NoError(err)
	}

	services, err := s.f.allocator.ListServices(s.ctx, model.ServiceFilter{From: s.date.From, To: s.date.From.AddDate(0, 0, 2)})
	s.Require().NoError(err)
	s.Len(services, 2)
	s.Equal("acme", services[0].Client.Name)

	_, err = s.f.allocator.ListServices(s.ctx, model.ServiceFilter{From: s.date.To, To: s.date.From})
	s.ErrorIs(err, ErrInvalidInput)
}

func TestConcurrentBookingOfLastToilet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	f.store.addResources(model.ResourceKindToilet, 1, model.ResourceStateAvailable)
	f.store.addResources(model.ResourceKindVehicle, 2, model.ResourceStateAvailable)
	f.store.addResources(model.ResourceKindEmployee, 2, model.ResourceStateAvailable)

	req := CreateServiceRequest{
		ClientID:              f.clientID,
		ScheduledDate:         day(2025, 6, 10),
		ServiceType:           model.ServiceTypeInstall,
		RequiredToiletCount:   1,
		RequiredEmployeeCount: 1,
		Location:              "site",
		AutoAssign:            true,
	}

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.allocator.CreateService(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, attempts-1)
	for _, err := range failures {
		assert.True(t, isAllocationRejection(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, f.store.serviceCount())
}

func isAllocationRejection(err error) bool {
	return errors.Is(err, ErrInsufficientResources) || errors.Is(err, ErrConflict)
}

func TestDefaultVehicleCountFormula(t *testing.T) {
	cases := []struct {
		toilets, ratio, want int
	}{
		{0, 5, 1},
		{1, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{11, 5, 3},
		{4, 0, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DefaultVehicleCount(tc.toilets, tc.ratio), "%d toilets / %d", tc.toilets, tc.ratio)
	}
}
