package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/nurpe/fieldops/internal/model"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'service_status') THEN
			CREATE TYPE service_status AS ENUM ('PROGRAMADO', 'EN_RUTA', 'EN_PROCESO', 'COMPLETADO', 'CANCELADO', 'REPROGRAMADO', 'INCOMPLETO');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'service_type') THEN
			CREATE TYPE service_type AS ENUM ('INSTALL', 'REMOVE', 'CLEAN', 'MAINTENANCE', 'REPAIR');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'resource_state') THEN
			CREATE TYPE resource_state AS ENUM ('AVAILABLE', 'ASSIGNED', 'IN_MAINTENANCE', 'INACTIVE');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'periodicity') THEN
			CREATE TYPE periodicity AS ENUM ('DAILY', 'WEEKLY', 'BIWEEKLY', 'MONTHLY', 'ANNUAL');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'contract_status') THEN
			CREATE TYPE contract_status AS ENUM ('ACTIVE', 'INACTIVE', 'TERMINATED');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS clients (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS chemical_toilets (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		code VARCHAR(64) NOT NULL UNIQUE,
		model TEXT NOT NULL DEFAULT '',
		state resource_state NOT NULL DEFAULT 'AVAILABLE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		plate VARCHAR(32) NOT NULL UNIQUE,
		model TEXT NOT NULL DEFAULT '',
		state resource_state NOT NULL DEFAULT 'AVAILABLE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS employees (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		full_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		state resource_state NOT NULL DEFAULT 'AVAILABLE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS contractual_conditions (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		client_id UUID NOT NULL REFERENCES clients(id),
		contract_type TEXT NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ,
		periodicity periodicity NOT NULL,
		rate_per_toilet NUMERIC(18,2) NOT NULL DEFAULT 0,
		rate_per_service NUMERIC(18,2) NOT NULL DEFAULT 0,
		status contract_status NOT NULL DEFAULT 'ACTIVE',
		default_service_type service_type,
		toilet_count INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT contract_term CHECK (end_date IS NULL OR end_date >= start_date)
	);`,
	`CREATE TABLE IF NOT EXISTS services (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		client_id UUID NOT NULL REFERENCES clients(id),
		contract_id UUID REFERENCES contractual_conditions(id),
		scheduled_date TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		service_type service_type NOT NULL,
		status service_status NOT NULL DEFAULT 'PROGRAMADO',
		required_toilet_count INTEGER NOT NULL CHECK (required_toilet_count >= 0),
		required_vehicle_count INTEGER NOT NULL CHECK (required_vehicle_count >= 1),
		required_employee_count INTEGER NOT NULL CHECK (required_employee_count >= 1),
		location TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		auto_assign BOOLEAN NOT NULL DEFAULT FALSE,
		incomplete_reason TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE TABLE IF NOT EXISTS resource_assignments (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		service_id UUID NOT NULL REFERENCES services(id) ON DELETE CASCADE,
		employee_id UUID REFERENCES employees(id),
		vehicle_id UUID REFERENCES vehicles(id),
		toilet_id UUID REFERENCES chemical_toilets(id),
		assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		notes TEXT NOT NULL DEFAULT '',
		CONSTRAINT assignment_binds_resource CHECK (
			employee_id IS NOT NULL OR vehicle_id IS NOT NULL OR toilet_id IS NOT NULL
		)
	);`,
	`CREATE TABLE IF NOT EXISTS maintenance_records (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		resource_kind VARCHAR(16) NOT NULL CHECK (resource_kind IN ('TOILET', 'VEHICLE')),
		resource_id UUID NOT NULL,
		contract_id UUID REFERENCES contractual_conditions(id),
		scheduled_date TIMESTAMPTZ NOT NULL,
		maintenance_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		technician TEXT NOT NULL DEFAULT '',
		cost NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (cost >= 0),
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'services' AND column_name = 'incomplete_reason') THEN
			ALTER TABLE services ADD COLUMN incomplete_reason TEXT;
		END IF;
		IF NOT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'maintenance_records' AND column_name = 'completed_at') THEN
			ALTER TABLE maintenance_records ADD COLUMN completed_at TIMESTAMPTZ;
		END IF;
	END
	$$;`,
	`CREATE INDEX IF NOT EXISTS idx_services_date_status ON services (scheduled_date, status);`,
	`CREATE INDEX IF NOT EXISTS idx_services_client ON services (client_id);`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_service ON resource_assignments (service_id);`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_toilet ON resource_assignments (toilet_id) WHERE toilet_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_vehicle ON resource_assignments (vehicle_id) WHERE vehicle_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_assignments_employee ON resource_assignments (employee_id) WHERE employee_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_maintenance_contract_date ON maintenance_records (contract_id, scheduled_date);`,
	`CREATE INDEX IF NOT EXISTS idx_maintenance_resource ON maintenance_records (resource_kind, resource_id);`,
}

// migratedModels back the sqlite schema. Postgres uses the statements above.
var migratedModels = []interface{}{
	&model.Client{},
	&model.ChemicalToilet{},
	&model.Vehicle{},
	&model.Employee{},
	&model.ContractualCondition{},
	&model.Service{},
	&model.ResourceAssignment{},
	&model.MaintenanceRecord{},
}

func runMigrations(db *gorm.DB) error {
	if db.Dialector.Name() == "sqlite" {
		if err := db.AutoMigrate(migratedModels...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Migrate brings the schema of db up to date.
func Migrate(db *gorm.DB) error {
	return runMigrations(db)
}
