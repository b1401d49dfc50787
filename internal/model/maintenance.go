package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MaintenanceRecord struct {
	ID              uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceKind    ResourceKind `gorm:"not null" json:"resource_kind"`
	ResourceID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"resource_id"`
	ContractID      *uuid.UUID   `gorm:"type:uuid;index" json:"contract_id,omitempty"`
	ScheduledDate   time.Time    `gorm:"not null" json:"scheduled_date"`
	MaintenanceType string       `gorm:"not null" json:"maintenance_type"`
	Description     string       `json:"description"`
	Technician      string       `json:"technician"`
	Cost            float64      `json:"cost"`
	Completed       bool         `gorm:"not null" json:"completed"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	CreatedAt       time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (MaintenanceRecord) TableName() string {
	return "maintenance_records"
}

func (m *MaintenanceRecord) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
