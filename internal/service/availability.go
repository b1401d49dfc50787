package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

type availabilityReader interface {
	repository.ResourceCatalog
	repository.ServiceRepository
}

// AvailabilityResolver answers "which resources are free on this day".
// It never writes.
type AvailabilityResolver struct {
	reader availabilityReader
	loc    *time.Location
}

func NewAvailabilityResolver(reader availabilityReader, loc *time.Location) *AvailabilityResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityResolver{reader: reader, loc: loc}
}

// on returns a resolver reading through r, typically an open transaction.
func (a *AvailabilityResolver) on(r availabilityReader) *AvailabilityResolver {
	return &AvailabilityResolver{reader: r, loc: a.loc}
}

func (a *AvailabilityResolver) Window(date time.Time) model.DayWindow {
	return model.DayOf(date, a.loc)
}

// FindAvailable returns up to count ids of schedulable resources of the kind
// that no active service holds on the day of date. A shorter result means
// the supply is short; callers must not treat it as a partial success.
func (a *AvailabilityResolver) FindAvailable(ctx context.Context, kind model.ResourceKind, date time.Time, count int) ([]uuid.UUID, error) {
	return a.findAvailable(ctx, kind, date, count, nil)
}

func (a *AvailabilityResolver) findAvailable(
	ctx context.Context,
	kind model.ResourceKind,
	date time.Time,
	count int,
	skip map[uuid.UUID]struct{},
) ([]uuid.UUID, error) {
	if !kind.Valid() {
		return nil, invalidInput("unknown resource kind %q", kind)
	}
	if count < 0 {
		return nil, invalidInput("count must not be negative")
	}
	if count == 0 {
		return []uuid.UUID{}, nil
	}

	candidates, err := a.reader.ListResources(ctx, kind, model.SchedulableStates(kind))
	if err != nil {
		return nil, persistence(err)
	}
	committed, err := a.reader.CommittedResources(ctx, kind, a.Window(date), nil, nil)
	if err != nil {
		return nil, persistence(err)
	}
	return selectAvailable(candidates, committed, skip, count), nil
}

// FindAvailableForClient returns up to count toilets deployed at the client
// that are not committed to another active service on the day.
func (a *AvailabilityResolver) FindAvailableForClient(ctx context.Context, clientID uuid.UUID, date time.Time, count int) ([]uuid.UUID, error) {
	return a.findAvailableForClient(ctx, clientID, date, count, nil)
}

func (a *AvailabilityResolver) findAvailableForClient(
	ctx context.Context,
	clientID uuid.UUID,
	date time.Time,
	count int,
	skip map[uuid.UUID]struct{},
) ([]uuid.UUID, error) {
	if count < 0 {
		return nil, invalidInput("count must not be negative")
	}
	if count == 0 {
		return []uuid.UUID{}, nil
	}
	candidates, err := a.reader.ListClientToilets(ctx, clientID)
	if err != nil {
		return nil, persistence(err)
	}
	committed, err := a.reader.CommittedResources(ctx, model.ResourceKindToilet, a.Window(date), nil, nil)
	if err != nil {
		return nil, persistence(err)
	}
	return selectAvailable(candidates, committed, skip, count), nil
}

// selectAvailable keeps catalog order and returns at most count ids that are
// neither committed nor skipped.
func selectAvailable(
	candidates []model.Resource,
	committed map[uuid.UUID]uuid.UUID,
	skip map[uuid.UUID]struct{},
	count int,
) []uuid.UUID {
	result := make([]uuid.UUID, 0, count)
	for _, c := range candidates {
		if len(result) == count {
			break
		}
		if _, busy := committed[c.ID]; busy {
			continue
		}
		if _, skipped := skip[c.ID]; skipped {
			continue
		}
		if c.State.OutOfService() {
			continue
		}
		result = append(result, c.ID)
	}
	return result
}

// ConflictChecker validates one operator-chosen resource for one day.
type ConflictChecker struct {
	reader availabilityReader
	loc    *time.Location
}

func NewConflictChecker(reader availabilityReader, loc *time.Location) *ConflictChecker {
	if loc == nil {
		loc = time.UTC
	}
	return &ConflictChecker{reader: reader, loc: loc}
}

// CheckAvailable returns nil when the resource exists, is in service and no
// active service holds it on the day of date. Otherwise it returns a
// *ConflictError or an ErrNotFound.
func (c *ConflictChecker) CheckAvailable(ctx context.Context, kind model.ResourceKind, resourceID uuid.UUID, date time.Time) error {
	if !kind.Valid() {
		return invalidInput("unknown resource kind %q", kind)
	}
	res, err := c.reader.GetResource(ctx, kind, resourceID)
	if err != nil {
		return lookupErr(err, kindLabel(kind), resourceID)
	}
	window := model.DayOf(date, c.loc)
	if res.State.OutOfService() {
		return &ConflictError{
			Kind:       kind,
			ResourceID: resourceID,
			Date:       window.From,
			Reason:     fmt.Sprintf("is %s", res.State),
		}
	}
	committed, err := c.reader.CommittedResources(ctx, kind, window, []uuid.UUID{resourceID}, nil)
	if err != nil {
		return persistence(err)
	}
	if serviceID, busy := committed[resourceID]; busy {
		return &ConflictError{
			Kind:       kind,
			ResourceID: resourceID,
			Date:       window.From,
			ServiceID:  serviceID,
		}
	}
	return nil
}

func kindLabel(kind model.ResourceKind) string {
	switch kind {
	case model.ResourceKindToilet:
		return "toilet"
	case model.ResourceKindVehicle:
		return "vehicle"
	case model.ResourceKindEmployee:
		return "employee"
	}
	return string(kind)
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
