package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
)

func (s *GormStore) GetContract(ctx context.Context, id uuid.UUID) (*model.ContractualCondition, error) {
	var contracts []model.ContractualCondition
	if err := s.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&contracts).Error; err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, ErrNotFound
	}
	return &contracts[0], nil
}

func (s *GormStore) ListContractsByClient(ctx context.Context, clientID uuid.UUID) ([]model.ContractualCondition, error) {
	var contracts []model.ContractualCondition
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("start_date ASC, id ASC").
		Find(&contracts).Error
	if err != nil {
		return nil, err
	}
	return contracts, nil
}

func (s *GormStore) ListActiveContracts(ctx context.Context) ([]model.ContractualCondition, error) {
	var contracts []model.ContractualCondition
	err := s.db.WithContext(ctx).
		Where("status = ?", model.ContractStatusActive).
		Order("start_date ASC, id ASC").
		Find(&contracts).Error
	if err != nil {
		return nil, err
	}
	return contracts, nil
}
