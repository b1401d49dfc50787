package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/nurpe/fieldops/internal/model"
)

func (s *GormStore) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	var client model.Client
	if err := s.db.WithContext(ctx).Raw(`
		SELECT id, name, email, phone, address
		FROM clients
		WHERE id = ?
		LIMIT 1
	`, id).Scan(&client).Error; err != nil {
		return nil, err
	}
	if client.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	return &client, nil
}

func (s *GormStore) GetResource(ctx context.Context, kind model.ResourceKind, id uuid.UUID) (*model.Resource, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var row model.Resource
	if err := s.db.WithContext(ctx).Raw(fmt.Sprintf(`
		SELECT id, %s AS label, state
		FROM %s
		WHERE id = ?
		LIMIT 1
	`, t.labelColumn, t.table), id).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, ErrNotFound
	}
	row.Kind = kind
	return &row, nil
}

func (s *GormStore) ListResources(ctx context.Context, kind model.ResourceKind, states []model.ResourceState) ([]model.Resource, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).
		Table(t.table).
		Select(fmt.Sprintf("id, %s AS label, state", t.labelColumn))
	if len(states) > 0 {
		query = query.Where("state IN ?", states)
	}
	var rows []model.Resource
	if err := query.Order("label ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return withKind(rows, kind), nil
}

func (s *GormStore) ListClientToilets(ctx context.Context, clientID uuid.UUID) ([]model.Resource, error) {
	var rows []model.Resource
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT t.id, t.code AS label, t.state
		FROM chemical_toilets t
		JOIN resource_assignments ra ON ra.toilet_id = t.id
		JOIN services s ON s.id = ra.service_id
		WHERE s.client_id = ?
			AND s.service_type = ?
			AND s.status <> ?
			AND t.state = ?
			AND NOT EXISTS (
				SELECT 1
				FROM resource_assignments ra2
				JOIN services s2 ON s2.id = ra2.service_id
				WHERE ra2.toilet_id = t.id
					AND s2.service_type = ?
					AND s2.status <> ?
					AND s2.scheduled_date > s.scheduled_date
			)
		ORDER BY label ASC, id ASC
	`,
		clientID,
		model.ServiceTypeInstall,
		model.ServiceStatusCancelled,
		model.ResourceStateAssigned,
		model.ServiceTypeInstall,
		model.ServiceStatusCancelled,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return withKind(rows, model.ResourceKindToilet), nil
}

func (s *GormStore) LockResources(ctx context.Context, kind model.ResourceKind, ids []uuid.UUID) ([]model.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	var rows []model.Resource
	err = s.db.WithContext(ctx).
		Table(t.table).
		Select(fmt.Sprintf("id, %s AS label, state", t.labelColumn)).
		Where("id IN ?", ids).
		Order("id ASC").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return withKind(rows, kind), nil
}

func (s *GormStore) SetResourceState(
	ctx context.Context,
	kind model.ResourceKind,
	ids []uuid.UUID,
	state model.ResourceState,
	onlyFrom ...model.ResourceState,
) error {
	if len(ids) == 0 {
		return nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	query := s.db.WithContext(ctx).Table(t.table).Where("id IN ?", ids)
	if len(onlyFrom) > 0 {
		query = query.Where("state IN ?", onlyFrom)
	}
	return query.Update("state", state).Error
}

func withKind(rows []model.Resource, kind model.ResourceKind) []model.Resource {
	for i := range rows {
		rows[i].Kind = kind
	}
	return rows
}
