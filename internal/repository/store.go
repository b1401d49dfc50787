package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/nurpe/fieldops/internal/model"
)

// GormStore implements Store on top of gorm. A GormStore bound to an open
// transaction is handed to Transaction callbacks.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

type kindTable struct {
	table            string
	labelColumn      string
	assignmentColumn string
}

var kindTables = map[model.ResourceKind]kindTable{
	model.ResourceKindToilet:   {table: "chemical_toilets", labelColumn: "code", assignmentColumn: "toilet_id"},
	model.ResourceKindVehicle:  {table: "vehicles", labelColumn: "plate", assignmentColumn: "vehicle_id"},
	model.ResourceKindEmployee: {table: "employees", labelColumn: "full_name", assignmentColumn: "employee_id"},
}

func tableFor(kind model.ResourceKind) (kindTable, error) {
	t, ok := kindTables[kind]
	if !ok {
		return kindTable{}, fmt.Errorf("unknown resource kind %q", kind)
	}
	return t, nil
}
