package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/metrics"
	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

const (
	DefaultMaintenanceType       = "Preventivo"
	DefaultMaintenanceTechnician = "Técnico asignado"

	// maxOccurrenceSteps bounds the walk along a contract calendar.
	maxOccurrenceSteps = 100000
)

type MaintenanceDefaults struct {
	Type          string
	Technician    string
	Cost          float64
	LookaheadDays int
	Location      *time.Location
}

type ScheduleMaintenanceRequest struct {
	ContractID      uuid.UUID `json:"contract_id"`
	MaintenanceType *string   `json:"maintenance_type" validate:"omitempty,max=100"`
	Description     *string   `json:"description" validate:"omitempty,max=2000"`
	Technician      *string   `json:"technician" validate:"omitempty,max=255"`
	Cost            *float64  `json:"cost" validate:"omitempty,gte=0"`
}

type AdHocMaintenanceRequest struct {
	ResourceKind     model.ResourceKind `json:"resource_kind" validate:"omitempty,oneof=TOILET VEHICLE"`
	ResourceID       uuid.UUID          `json:"resource_id"`
	ScheduledDate    time.Time          `json:"scheduled_date"`
	MaintenanceType  *string            `json:"maintenance_type" validate:"omitempty,max=100"`
	Description      string             `json:"description" validate:"max=2000"`
	Technician       *string            `json:"technician" validate:"omitempty,max=255"`
	Cost             *float64           `json:"cost" validate:"omitempty,gte=0"`
	TakeOutOfService bool               `json:"take_out_of_service"`
}

// MaintenanceScheduler turns contract periodicity into maintenance records
// for the toilets deployed at the client.
type MaintenanceScheduler struct {
	store    repository.Store
	defaults MaintenanceDefaults
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewMaintenanceScheduler(store repository.Store, defaults MaintenanceDefaults, m *metrics.Metrics, log zerolog.Logger) *MaintenanceScheduler {
	if strings.TrimSpace(defaults.Type) == "" {
		defaults.Type = DefaultMaintenanceType
	}
	if strings.TrimSpace(defaults.Technician) == "" {
		defaults.Technician = DefaultMaintenanceTechnician
	}
	if defaults.Location == nil {
		defaults.Location = time.UTC
	}
	return &MaintenanceScheduler{
		store:    store,
		defaults: defaults,
		validate: validator.New(),
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// ScheduleFromContract creates one record per client toilet for the next
// occurrence of the contract that has no records yet.
func (s *MaintenanceScheduler) ScheduleFromContract(ctx context.Context, req ScheduleMaintenanceRequest) ([]model.MaintenanceRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidInput("%s", err.Error())
	}

	var records []model.MaintenanceRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		contract, err := tx.GetContract(ctx, req.ContractID)
		if err != nil {
			return lookupErr(err, "contract", req.ContractID)
		}
		if contract.Status != model.ContractStatusActive {
			return invalidInput("contract %s is %s", contract.ID, contract.Status)
		}
		if !contract.Periodicity.Valid() {
			return invalidInput("contract %s has unknown periodicity %q", contract.ID, contract.Periodicity)
		}

		latest, err := tx.LatestContractMaintenance(ctx, contract.ID)
		if err != nil {
			return err
		}
		next, err := nextOccurrence(*contract, latest)
		if err != nil {
			return err
		}
		if !contract.CoversDate(next) {
			return invalidInput("contract %s ends before its next occurrence %s",
				contract.ID, next.Format("2006-01-02"))
		}

		records, err = s.materialize(ctx, tx, *contract, next, req)
		return err
	})
	if err != nil {
		return nil, persistence(err)
	}

	s.metrics.MaintenanceCreated("contract", len(records))
	s.log.Info().
		Str("contract_id", req.ContractID.String()).
		Int("records", len(records)).
		Msg("contract maintenance scheduled")
	return records, nil
}

// materialize writes the records of one occurrence.
func (s *MaintenanceScheduler) materialize(
	ctx context.Context,
	tx repository.Tx,
	contract model.ContractualCondition,
	date time.Time,
	req ScheduleMaintenanceRequest,
) ([]model.MaintenanceRecord, error) {
	toilets, err := tx.ListClientToilets(ctx, contract.ClientID)
	if err != nil {
		return nil, err
	}

	maintenanceType := pick(req.MaintenanceType, s.defaults.Type)
	technician := pick(req.Technician, s.defaults.Technician)
	var description string
	if req.Description != nil {
		description = *req.Description
	} else {
		description = fmt.Sprintf("%s maintenance, contract %s", strings.ToLower(string(contract.Periodicity)), contract.ContractType)
	}
	cost := s.defaults.Cost
	if req.Cost != nil {
		cost = *req.Cost
	}

	now := s.now().UTC()
	contractID := contract.ID
	records := make([]model.MaintenanceRecord, 0, len(toilets))
	for _, toilet := range toilets {
		records = append(records, model.MaintenanceRecord{
			ID:              uuid.New(),
			ResourceKind:    model.ResourceKindToilet,
			ResourceID:      toilet.ID,
			ContractID:      &contractID,
			ScheduledDate:   date,
			MaintenanceType: maintenanceType,
			Description:     description,
			Technician:      technician,
			Cost:            cost,
			CreatedAt:       now,
		})
	}
	if err := tx.CreateMaintenanceRecords(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// nextOccurrence returns the first calendar step of the contract strictly
// after the latest recorded one. Steps are counted from the start date so
// clamped months do not drift.
func nextOccurrence(contract model.ContractualCondition, latest *model.MaintenanceRecord) (time.Time, error) {
	next, _, err := nextStep(contract, latest)
	return next, err
}

// nextStep is nextOccurrence plus the step index of the returned date.
func nextStep(contract model.ContractualCondition, latest *model.MaintenanceRecord) (time.Time, int, error) {
	if latest == nil {
		next, err := contract.Periodicity.Advance(contract.StartDate)
		return next, 1, err
	}
	for n := 1; n <= maxOccurrenceSteps; n++ {
		next, err := contract.Periodicity.AdvanceN(contract.StartDate, n)
		if err != nil {
			return time.Time{}, 0, invalidInput("%s", err.Error())
		}
		if next.After(latest.ScheduledDate) {
			return next, n, nil
		}
	}
	return time.Time{}, 0, invalidInput("contract %s has no occurrence after %s", contract.ID, latest.ScheduledDate.Format("2006-01-02"))
}

func (s *MaintenanceScheduler) CreateAdHoc(ctx context.Context, req AdHocMaintenanceRequest) (*model.MaintenanceRecord, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, invalidInput("%s", err.Error())
	}
	if req.ResourceKind == "" {
		req.ResourceKind = model.ResourceKindToilet
	}
	if req.ResourceID == uuid.Nil {
		return nil, invalidInput("resource_id is required")
	}
	if req.ScheduledDate.IsZero() {
		req.ScheduledDate = s.now()
	}
	cost := s.defaults.Cost
	if req.Cost != nil {
		cost = *req.Cost
	}

	record := model.MaintenanceRecord{
		ID:              uuid.New(),
		ResourceKind:    req.ResourceKind,
		ResourceID:      req.ResourceID,
		ScheduledDate:   req.ScheduledDate,
		MaintenanceType: pick(req.MaintenanceType, s.defaults.Type),
		Description:     req.Description,
		Technician:      pick(req.Technician, s.defaults.Technician),
		Cost:            cost,
		CreatedAt:       s.now().UTC(),
	}

	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		res, err := tx.GetResource(ctx, req.ResourceKind, req.ResourceID)
		if err != nil {
			return lookupErr(err, kindLabel(req.ResourceKind), req.ResourceID)
		}
		if err := tx.CreateMaintenanceRecords(ctx, []model.MaintenanceRecord{record}); err != nil {
			return err
		}
		if !req.TakeOutOfService {
			return nil
		}
		if res.State != model.ResourceStateAvailable {
			return invalidInput("%s %s is %s and cannot be taken out of service",
				kindLabel(req.ResourceKind), req.ResourceID, res.State)
		}
		return tx.SetResourceState(ctx, req.ResourceKind, []uuid.UUID{req.ResourceID},
			model.ResourceStateInMaintenance, model.ResourceStateAvailable)
	})
	if err != nil {
		return nil, persistence(err)
	}

	s.metrics.MaintenanceCreated("ad_hoc", 1)
	s.log.Info().
		Str("maintenance_id", record.ID.String()).
		Str("resource_id", record.ResourceID.String()).
		Bool("out_of_service", req.TakeOutOfService).
		Msg("ad hoc maintenance created")
	return &record, nil
}

// Complete closes the record and puts a resource held in maintenance back
// in stock.
func (s *MaintenanceScheduler) Complete(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error) {
	var record *model.MaintenanceRecord
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		record, err = tx.GetMaintenance(ctx, id)
		if err != nil {
			return lookupErr(err, "maintenance record", id)
		}
		if record.Completed {
			return invalidInput("maintenance record %s is already completed", id)
		}
		now := s.now().UTC()
		record.Completed = true
		record.CompletedAt = &now
		if err := tx.UpdateMaintenanceRecord(ctx, record); err != nil {
			return err
		}
		return tx.SetResourceState(ctx, record.ResourceKind, []uuid.UUID{record.ResourceID},
			model.ResourceStateAvailable, model.ResourceStateInMaintenance)
	})
	if err != nil {
		return nil, persistence(err)
	}
	s.log.Info().Str("maintenance_id", id.String()).Msg("maintenance completed")
	return record, nil
}

// SweepDueContracts materialises, for every active contract, the occurrences
// from today up to the lookahead horizon that have no records yet. Each
// contract commits on its own; failures are collected and do not stop the
// sweep.
func (s *MaintenanceScheduler) SweepDueContracts(ctx context.Context, now time.Time) (int, error) {
	contracts, err := s.store.ListActiveContracts(ctx)
	if err != nil {
		return 0, persistence(err)
	}

	today := model.DayOf(now, s.defaults.Location).From
	horizon := today.AddDate(0, 0, s.defaults.LookaheadDays+1)

	total := 0
	var errs []error
	for _, contract := range contracts {
		if !contract.Periodicity.Valid() {
			continue
		}
		n, err := s.sweepContract(ctx, contract, today, horizon)
		if err != nil {
			s.log.Error().Err(err).Str("contract_id", contract.ID.String()).Msg("maintenance sweep failed for contract")
			errs = append(errs, fmt.Errorf("contract %s: %w", contract.ID, err))
			continue
		}
		total += n
	}

	s.metrics.MaintenanceCreated("sweep", total)
	s.log.Info().
		Int("contracts", len(contracts)).
		Int("records", total).
		Msg("maintenance sweep finished")
	return total, errors.Join(errs...)
}

func (s *MaintenanceScheduler) sweepContract(ctx context.Context, contract model.ContractualCondition, today, horizon time.Time) (int, error) {
	created := 0
	err := s.store.Transaction(ctx, func(tx repository.Tx) error {
		latest, err := tx.LatestContractMaintenance(ctx, contract.ID)
		if err != nil {
			return err
		}
		next, step, err := nextStep(contract, latest)
		if err != nil {
			return err
		}
		for next.Before(horizon) && contract.CoversDate(next) {
			if !next.Before(today) {
				records, err := s.materialize(ctx, tx, contract, next, ScheduleMaintenanceRequest{ContractID: contract.ID})
				if err != nil {
					return err
				}
				created += len(records)
			}
			step++
			if next, err = contract.Periodicity.AdvanceN(contract.StartDate, step); err != nil {
				return invalidInput("%s", err.Error())
			}
		}
		return nil
	})
	if err != nil {
		return 0, persistence(err)
	}
	return created, nil
}

func pick(value *string, fallback string) string {
	if value != nil && strings.TrimSpace(*value) != "" {
		return *value
	}
	return fallback
}
