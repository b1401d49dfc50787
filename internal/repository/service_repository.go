package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
)

func (s *GormStore) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	var services []model.Service
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&services).Error; err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, ErrNotFound
	}
	if err := s.attachAssignments(ctx, services); err != nil {
		return nil, err
	}
	return &services[0], nil
}

func (s *GormStore) ListServices(ctx context.Context, filter model.ServiceFilter) ([]model.Service, error) {
	query := s.db.WithContext(ctx).Model(&model.Service{})
	if !filter.From.IsZero() {
		query = query.Where("scheduled_date >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query = query.Where("scheduled_date < ?", filter.To.UTC())
	}
	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}

	var services []model.Service
	if err := query.Order("scheduled_date ASC, id ASC").Find(&services).Error; err != nil {
		return nil, err
	}
	if err := s.attachAssignments(ctx, services); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *GormStore) attachAssignments(ctx context.Context, services []model.Service) error {
	if len(services) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(services))
	index := make(map[uuid.UUID]int, len(services))
	for i, svc := range services {
		ids[i] = svc.ID
		index[svc.ID] = i
		services[i].Assignments = []model.ResourceAssignment{}
	}

	var assignments []model.ResourceAssignment
	if err := s.db.WithContext(ctx).
		Where("service_id IN ?", ids).
		Order("assigned_at ASC, id ASC").
		Find(&assignments).Error; err != nil {
		return err
	}
	for _, a := range assignments {
		pos := index[a.ServiceID]
		services[pos].Assignments = append(services[pos].Assignments, a)
	}
	return nil
}

func (s *GormStore) GetAssignment(ctx context.Context, id uuid.UUID) (*model.ResourceAssignment, error) {
	var assignments []model.ResourceAssignment
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&assignments).Error; err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, ErrNotFound
	}
	return &assignments[0], nil
}

func (s *GormStore) CommittedResources(
	ctx context.Context,
	kind model.ResourceKind,
	window model.DayWindow,
	ids []uuid.UUID,
	exclude *uuid.UUID,
) (map[uuid.UUID]uuid.UUID, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	baseQuery := fmt.Sprintf(`
		SELECT ra.%[1]s AS resource_id, s.id AS service_id
		FROM resource_assignments ra
		JOIN services s ON s.id = ra.service_id
		WHERE ra.%[1]s IS NOT NULL
			AND s.scheduled_date >= ?
			AND s.scheduled_date < ?
			AND s.status IN ?
	`, t.assignmentColumn)
	args := []interface{}{window.From.UTC(), window.To.UTC(), model.ActiveServiceStatuses}
	if len(ids) > 0 {
		baseQuery += fmt.Sprintf(" AND ra.%s IN ?", t.assignmentColumn)
		args = append(args, ids)
	}
	if exclude != nil {
		baseQuery += " AND s.id <> ?"
		args = append(args, *exclude)
	}

	var rows []struct {
		ResourceID uuid.UUID
		ServiceID  uuid.UUID
	}
	if err := s.db.WithContext(ctx).Raw(baseQuery, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	committed := make(map[uuid.UUID]uuid.UUID, len(rows))
	for _, row := range rows {
		committed[row.ResourceID] = row.ServiceID
	}
	return committed, nil
}

func (s *GormStore) CreateService(ctx context.Context, svc *model.Service) error {
	svc.ScheduledDate = svc.ScheduledDate.UTC()
	return s.db.WithContext(ctx).Create(svc).Error
}

func (s *GormStore) UpdateService(ctx context.Context, svc *model.Service) error {
	svc.ScheduledDate = svc.ScheduledDate.UTC()
	svc.UpdatedAt = time.Now().UTC()
	result := s.db.WithContext(ctx).Exec(`
		UPDATE services
		SET
			contract_id = ?,
			scheduled_date = ?,
			started_at = ?,
			finished_at = ?,
			service_type = ?,
			status = ?,
			required_toilet_count = ?,
			required_vehicle_count = ?,
			required_employee_count = ?,
			location = ?,
			notes = ?,
			auto_assign = ?,
			incomplete_reason = ?,
			updated_at = ?
		WHERE id = ?
	`,
		svc.ContractID,
		svc.ScheduledDate,
		svc.StartedAt,
		svc.FinishedAt,
		svc.ServiceType,
		svc.Status,
		svc.RequiredToiletCount,
		svc.RequiredVehicleCount,
		svc.RequiredEmployeeCount,
		svc.Location,
		svc.Notes,
		svc.AutoAssign,
		svc.IncompleteReason,
		svc.UpdatedAt,
		svc.ID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteService(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Exec(`DELETE FROM resource_assignments WHERE service_id = ?`, id).Error; err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Exec(`DELETE FROM services WHERE id = ?`, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateAssignments(ctx context.Context, assignments []model.ResourceAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&assignments).Error
}

func (s *GormStore) UpdateAssignment(ctx context.Context, assignment *model.ResourceAssignment) error {
	return s.db.WithContext(ctx).Exec(`
		UPDATE resource_assignments
		SET employee_id = ?, vehicle_id = ?, toilet_id = ?, notes = ?
		WHERE id = ?
	`, assignment.EmployeeID, assignment.VehicleID, assignment.ToiletID, assignment.Notes, assignment.ID).Error
}

func (s *GormStore) DeleteAssignments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Exec(`DELETE FROM resource_assignments WHERE id IN ?`, ids).Error
}
