package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
)

func (s *GormStore) GetMaintenance(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	var records []model.MaintenanceRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&records).Error; err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (s *GormStore) LatestContractMaintenance(ctx context.Context, contractID uuid.UUID) (*model.MaintenanceRecord, error) {
	var records []model.MaintenanceRecord
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", contractID).
		Order("scheduled_date DESC, id ASC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (s *GormStore) CreateMaintenanceRecords(ctx context.Context, records []model.MaintenanceRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		records[i].ScheduledDate = records[i].ScheduledDate.UTC()
	}
	return s.db.WithContext(ctx).Create(&records).Error
}

func (s *GormStore) UpdateMaintenanceRecord(ctx context.Context, record *model.MaintenanceRecord) error {
	result := s.db.WithContext(ctx).Exec(`
		UPDATE maintenance_records
		SET
			maintenance_type = ?,
			description = ?,
			technician = ?,
			cost = ?,
			completed = ?,
			completed_at = ?
		WHERE id = ?
	`,
		record.MaintenanceType,
		record.Description,
		record.Technician,
		record.Cost,
		record.Completed,
		record.CompletedAt,
		record.ID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
