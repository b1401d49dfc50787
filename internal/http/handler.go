package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nurpe/fieldops/internal/http/middleware"
	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/service"
)

type ServiceAllocator interface {
	CreateService(ctx context.Context, req service.CreateServiceRequest) (*model.Service, error)
	GetService(ctx context.Context, id uuid.UUID) (*model.Service, error)
	ListServices(ctx context.Context, filter model.ServiceFilter) ([]model.Service, error)
	UpdateService(ctx context.Context, id uuid.UUID, patch service.UpdateServicePatch) (*model.Service, error)
	DeleteService(ctx context.Context, id uuid.UUID) error
	AssignResource(ctx context.Context, req service.AssignResourceRequest) (*model.ResourceAssignment, error)
	RemoveAssignment(ctx context.Context, id uuid.UUID) error
}

type StatusChanger interface {
	ChangeStatus(ctx context.Context, id uuid.UUID, req service.ChangeStatusRequest) (*model.Service, error)
}

type AvailabilityFinder interface {
	FindAvailable(ctx context.Context, kind model.ResourceKind, date time.Time, count int) ([]uuid.UUID, error)
	FindAvailableForClient(ctx context.Context, clientID uuid.UUID, date time.Time, count int) ([]uuid.UUID, error)
}

type ConflictChecker interface {
	CheckAvailable(ctx context.Context, kind model.ResourceKind, resourceID uuid.UUID, date time.Time) error
}

type MaintenanceScheduler interface {
	ScheduleFromContract(ctx context.Context, req service.ScheduleMaintenanceRequest) ([]model.MaintenanceRecord, error)
	CreateAdHoc(ctx context.Context, req service.AdHocMaintenanceRequest) (*model.MaintenanceRecord, error)
	Complete(ctx context.Context, id uuid.UUID) (*model.MaintenanceRecord, error)
}

type ReportExporter interface {
	ExportSchedule(ctx context.Context, input service.ExportScheduleInput) (*service.GenerateReportResult, error)
	WorkOrder(ctx context.Context, id uuid.UUID) (*service.GenerateReportResult, error)
}

type Dependencies struct {
	Services     ServiceAllocator
	Statuses     StatusChanger
	Availability AvailabilityFinder
	Conflicts    ConflictChecker
	Maintenance  MaintenanceScheduler
	Reports      ReportExporter
}

type Handler struct {
	deps Dependencies
	loc  *time.Location
	log  zerolog.Logger
}

func NewHandler(deps Dependencies, loc *time.Location, log zerolog.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{deps: deps, loc: loc, log: log}
}

func (h *Handler) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/services", h.createService)
	protected.GET("/services", h.listServices)
	protected.GET("/services/export", h.exportSchedule)
	protected.GET("/services/:id", h.getService)
	protected.PATCH("/services/:id", h.updateService)
	protected.DELETE("/services/:id", h.deleteService)
	protected.POST("/services/:id/status", h.changeStatus)
	protected.POST("/services/:id/assignments", h.assignResource)
	protected.GET("/services/:id/work-order", h.workOrder)
	protected.DELETE("/assignments/:id", h.removeAssignment)

	protected.GET("/availability", h.findAvailable)
	protected.GET("/availability/check", h.checkAvailable)

	protected.POST("/contracts/:id/maintenance", h.scheduleMaintenance)
	protected.POST("/maintenance", h.createMaintenance)
	protected.POST("/maintenance/:id/complete", h.completeMaintenance)
}

type manualAssignmentBody struct {
	EmployeeID *uuid.UUID  `json:"employee_id"`
	VehicleID  *uuid.UUID  `json:"vehicle_id"`
	ToiletIDs  []uuid.UUID `json:"toilet_ids"`
	Notes      string      `json:"notes"`
}

type createServiceBody struct {
	ClientID              uuid.UUID              `json:"client_id" binding:"required"`
	ContractID            *uuid.UUID             `json:"contract_id"`
	ScheduledDate         string                 `json:"scheduled_date" binding:"required"`
	ServiceType           string                 `json:"service_type" binding:"required"`
	RequiredToiletCount   int                    `json:"required_toilet_count"`
	RequiredVehicleCount  *int                   `json:"required_vehicle_count"`
	RequiredEmployeeCount int                    `json:"required_employee_count"`
	Location              string                 `json:"location"`
	Notes                 string                 `json:"notes"`
	AutoAssign            bool                   `json:"auto_assign"`
	ManualAssignments     []manualAssignmentBody `json:"manual_assignments"`
}

func (h *Handler) createService(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}

	var body createServiceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := h.parseDate(body.ScheduledDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_date"})
		return
	}

	req := service.CreateServiceRequest{
		ClientID:              body.ClientID,
		ContractID:            body.ContractID,
		ScheduledDate:         date,
		ServiceType:           model.ServiceType(strings.ToUpper(strings.TrimSpace(body.ServiceType))),
		RequiredToiletCount:   body.RequiredToiletCount,
		RequiredVehicleCount:  body.RequiredVehicleCount,
		RequiredEmployeeCount: body.RequiredEmployeeCount,
		Location:              body.Location,
		Notes:                 body.Notes,
		AutoAssign:            body.AutoAssign,
	}
	for _, m := range body.ManualAssignments {
		req.ManualAssignments = append(req.ManualAssignments, service.ManualAssignment{
			EmployeeID: m.EmployeeID,
			VehicleID:  m.VehicleID,
			ToiletIDs:  m.ToiletIDs,
			Notes:      m.Notes,
		})
	}

	svc, err := h.deps.Services.CreateService(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, svc)
}

func (h *Handler) listServices(c *gin.Context) {
	from, err := h.parseDate(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := h.parseDate(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}

	filter := model.ServiceFilter{From: from, To: to.AddDate(0, 0, 1)}
	if raw := c.Query("client_id"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
			return
		}
		filter.ClientID = &clientID
	}
	if raw := c.Query("status"); raw != "" {
		for _, item := range strings.Split(raw, ",") {
			status := model.ServiceStatus(strings.ToUpper(strings.TrimSpace(item)))
			if !status.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	services, err := h.deps.Services.ListServices(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": services})
}

func (h *Handler) getService(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	svc, err := h.deps.Services.GetService(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

type updateServiceBody struct {
	ScheduledDate         *string `json:"scheduled_date"`
	Location              *string `json:"location"`
	Notes                 *string `json:"notes"`
	RequiredToiletCount   *int    `json:"required_toilet_count"`
	RequiredVehicleCount  *int    `json:"required_vehicle_count"`
	RequiredEmployeeCount *int    `json:"required_employee_count"`
}

func (h *Handler) updateService(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var body updateServiceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := service.UpdateServicePatch{
		Location:              body.Location,
		Notes:                 body.Notes,
		RequiredToiletCount:   body.RequiredToiletCount,
		RequiredVehicleCount:  body.RequiredVehicleCount,
		RequiredEmployeeCount: body.RequiredEmployeeCount,
	}
	if body.ScheduledDate != nil {
		date, err := h.parseDate(*body.ScheduledDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_date"})
			return
		}
		patch.ScheduledDate = &date
	}

	svc, err := h.deps.Services.UpdateService(c.Request.Context(), id, patch)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (h *Handler) deleteService(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.Services.DeleteService(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type changeStatusBody struct {
	Status        string  `json:"status" binding:"required"`
	Reason        *string `json:"reason"`
	ScheduledDate *string `json:"scheduled_date"`
}

func (h *Handler) changeStatus(c *gin.Context) {
	if _, ok := h.principal(c); !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var body changeStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := service.ChangeStatusRequest{
		TargetStatus: model.ServiceStatus(strings.ToUpper(strings.TrimSpace(body.Status))),
		Reason:       body.Reason,
	}
	if body.ScheduledDate != nil {
		date, err := h.parseDate(*body.ScheduledDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_date"})
			return
		}
		req.ScheduledDate = &date
	}

	svc, err := h.deps.Statuses.ChangeStatus(c.Request.Context(), id, req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

type assignResourceBody struct {
	EmployeeID *uuid.UUID `json:"employee_id"`
	VehicleID  *uuid.UUID `json:"vehicle_id"`
	ToiletID   *uuid.UUID `json:"toilet_id"`
	Notes      string     `json:"notes"`
}

func (h *Handler) assignResource(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var body assignResourceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	assignment, err := h.deps.Services.AssignResource(c.Request.Context(), service.AssignResourceRequest{
		ServiceID:  id,
		EmployeeID: body.EmployeeID,
		VehicleID:  body.VehicleID,
		ToiletID:   body.ToiletID,
		Notes:      body.Notes,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

func (h *Handler) removeAssignment(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.Services.RemoveAssignment(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) findAvailable(c *gin.Context) {
	date, err := h.parseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil || count < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid count"})
		return
	}

	var ids []uuid.UUID
	if raw := c.Query("client_id"); raw != "" {
		clientID, perr := uuid.Parse(raw)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
			return
		}
		ids, err = h.deps.Availability.FindAvailableForClient(c.Request.Context(), clientID, date, count)
	} else {
		kind, ok := parseKind(c.Query("kind"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
			return
		}
		ids, err = h.deps.Availability.FindAvailable(c.Request.Context(), kind, date, count)
	}
	if err != nil {
		h.handleError(c, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, gin.H{"data": ids, "count": len(ids)})
}

func (h *Handler) checkAvailable(c *gin.Context) {
	kind, ok := parseKind(c.Query("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
		return
	}
	resourceID, err := uuid.Parse(c.Query("resource_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resource_id"})
		return
	}
	date, err := h.parseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date"})
		return
	}

	err = h.deps.Conflicts.CheckAvailable(c.Request.Context(), kind, resourceID, date)
	var conflict *service.ConflictError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"available": true})
	case errors.As(err, &conflict):
		resp := gin.H{"available": false, "reason": err.Error()}
		if conflict.ServiceID != uuid.Nil {
			resp["service_id"] = conflict.ServiceID
		}
		c.JSON(http.StatusOK, resp)
	default:
		h.handleError(c, err)
	}
}

type scheduleMaintenanceBody struct {
	MaintenanceType *string  `json:"maintenance_type"`
	Description     *string  `json:"description"`
	Technician      *string  `json:"technician"`
	Cost            *float64 `json:"cost"`
}

func (h *Handler) scheduleMaintenance(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var body scheduleMaintenanceBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	records, err := h.deps.Maintenance.ScheduleFromContract(c.Request.Context(), service.ScheduleMaintenanceRequest{
		ContractID:      id,
		MaintenanceType: body.MaintenanceType,
		Description:     body.Description,
		Technician:      body.Technician,
		Cost:            body.Cost,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	if records == nil {
		records = []model.MaintenanceRecord{}
	}
	c.JSON(http.StatusCreated, gin.H{"data": records})
}

type createMaintenanceBody struct {
	ResourceKind     string    `json:"resource_kind"`
	ResourceID       uuid.UUID `json:"resource_id" binding:"required"`
	ScheduledDate    *string   `json:"scheduled_date"`
	MaintenanceType  *string   `json:"maintenance_type"`
	Description      string    `json:"description"`
	Technician       *string   `json:"technician"`
	Cost             *float64  `json:"cost"`
	TakeOutOfService bool      `json:"take_out_of_service"`
}

func (h *Handler) createMaintenance(c *gin.Context) {
	if !h.requirePlanner(c) {
		return
	}

	var body createMaintenanceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := service.AdHocMaintenanceRequest{
		ResourceKind:     model.ResourceKind(strings.ToUpper(strings.TrimSpace(body.ResourceKind))),
		ResourceID:       body.ResourceID,
		MaintenanceType:  body.MaintenanceType,
		Description:      body.Description,
		Technician:       body.Technician,
		Cost:             body.Cost,
		TakeOutOfService: body.TakeOutOfService,
	}
	if body.ScheduledDate != nil {
		date, err := h.parseDate(*body.ScheduledDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scheduled_date"})
			return
		}
		req.ScheduledDate = date
	}

	record, err := h.deps.Maintenance.CreateAdHoc(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *Handler) completeMaintenance(c *gin.Context) {
	if _, ok := h.principal(c); !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	record, err := h.deps.Maintenance.Complete(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *Handler) exportSchedule(c *gin.Context) {
	principal, ok := h.principal(c)
	if !ok {
		return
	}

	from, err := h.parseDate(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	to, err := h.parseDate(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	input := service.ExportScheduleInput{From: from, To: to, Principal: principal}
	if raw := c.Query("client_id"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
			return
		}
		input.ClientID = &clientID
	}

	result, err := h.deps.Reports.ExportSchedule(c.Request.Context(), input)
	if err != nil {
		h.handleError(c, err)
		return
	}

	const xlsx = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, xlsx, result.Content)
}

func (h *Handler) workOrder(c *gin.Context) {
	if _, ok := h.principal(c); !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.deps.Reports.WorkOrder(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=\""+result.FileName+"\"")
	c.Data(http.StatusOK, "application/pdf", result.Content)
}

func (h *Handler) principal(c *gin.Context) (model.Principal, bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing principal"})
		return model.Principal{}, false
	}
	return principal, true
}

func (h *Handler) requirePlanner(c *gin.Context) bool {
	principal, ok := h.principal(c)
	if !ok {
		return false
	}
	if !principal.CanPlan() {
		c.JSON(http.StatusForbidden, gin.H{"error": service.ErrPermissionDenied.Error()})
		return false
	}
	return true
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var insufficient *service.InsufficientResourcesError
	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"kind":      insufficient.Kind,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func parseKind(raw string) (model.ResourceKind, bool) {
	kind := model.ResourceKind(strings.ToUpper(strings.TrimSpace(raw)))
	return kind, kind.Valid()
}

// parseDate reads a calendar date or a timestamp. Dates without a zone are
// taken in the schedule's location.
func (h *Handler) parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, service.ErrInvalidInput
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return parsed, nil
	}
	layouts := []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.ParseInLocation(layout, raw, h.loc); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, service.ErrInvalidInput
}
