package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurpe/fieldops/internal/config"
)

func TestNewSQLiteMigrates(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DB: config.DBConfig{
			Driver:          "sqlite",
			DSN:             filepath.Join(t.TempDir(), "fieldops.db"),
			ConnMaxLifetime: time.Minute,
		},
	}

	database, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	for _, table := range []string{
		"clients", "chemical_toilets", "vehicles", "employees",
		"contractual_conditions", "services", "resource_assignments", "maintenance_records",
	} {
		assert.True(t, database.Migrator().HasTable(table), table)
	}

	require.NoError(t, Migrate(database), "migrations are idempotent")
}

func TestDialectorForRejectsUnknownDriver(t *testing.T) {
	_, err := dialectorFor(config.DBConfig{Driver: "oracle"})
	assert.Error(t, err)
}
