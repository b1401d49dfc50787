package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nurpe/fieldops/internal/model"
	"github.com/nurpe/fieldops/internal/repository"
)

// maxExportDays caps the range of one schedule export.
const maxExportDays = 366

type ExcelGenerator interface {
	Generate(report model.ScheduleReport) ([]byte, error)
}

type PDFGenerator interface {
	Generate(order model.WorkOrder) ([]byte, error)
}

type reportReader interface {
	repository.ClientDirectory
	repository.ResourceCatalog
	repository.ServiceRepository
}

type ReportService struct {
	reader reportReader
	excel  ExcelGenerator
	pdf    PDFGenerator
	loc    *time.Location
	now    func() time.Time
}

type ExportScheduleInput struct {
	From      time.Time
	To        time.Time
	ClientID  *uuid.UUID
	Principal model.Principal
}

type GenerateReportResult struct {
	FileName string
	Content  []byte
}

func NewReportService(reader reportReader, excel ExcelGenerator, pdf PDFGenerator, loc *time.Location) *ReportService {
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{
		reader: reader,
		excel:  excel,
		pdf:    pdf,
		loc:    loc,
		now:    time.Now,
	}
}

// ExportSchedule renders every service scheduled between From and To, both
// days inclusive, as a spreadsheet.
func (s *ReportService) ExportSchedule(ctx context.Context, input ExportScheduleInput) (*GenerateReportResult, error) {
	if !input.Principal.CanPlan() {
		return nil, ErrPermissionDenied
	}
	if input.From.IsZero() || input.To.IsZero() {
		return nil, invalidInput("from and to are required")
	}

	from := model.DayOf(input.From, s.loc).From
	to := model.DayOf(input.To, s.loc).From
	if from.After(to) {
		return nil, invalidInput("from must be before or equal to to")
	}
	if to.Sub(from) > maxExportDays*24*time.Hour {
		return nil, invalidInput("export range is limited to %d days", maxExportDays)
	}

	services, err := s.reader.ListServices(ctx, model.ServiceFilter{
		From:     from,
		To:       to.AddDate(0, 0, 1),
		ClientID: input.ClientID,
	})
	if err != nil {
		return nil, persistence(err)
	}
	clients := map[uuid.UUID]*model.Client{}
	for i := range services {
		id := services[i].ClientID
		if _, ok := clients[id]; !ok {
			client, err := s.reader.GetClient(ctx, id)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, persistence(err)
			}
			clients[id] = client
		}
		services[i].Client = clients[id]
	}

	content, err := s.excel.Generate(model.ScheduleReport{From: from, To: to, Services: services})
	if err != nil {
		return nil, err
	}
	return &GenerateReportResult{
		FileName: fmt.Sprintf("schedule-%s-%s.xlsx", from.Format("20060102"), to.Format("20060102")),
		Content:  content,
	}, nil
}

// WorkOrder renders the sheet a crew takes to the site of one service.
func (s *ReportService) WorkOrder(ctx context.Context, id uuid.UUID) (*GenerateReportResult, error) {
	svc, err := s.reader.GetService(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "service", id)
	}
	client, err := s.reader.GetClient(ctx, svc.ClientID)
	if err != nil {
		return nil, lookupErr(err, "client", svc.ClientID)
	}

	order := model.WorkOrder{
		Service:  *svc,
		Client:   *client,
		IssuedAt: s.now().In(s.loc),
	}
	for _, kind := range model.ResourceKinds {
		for _, rid := range boundIDs(svc.Assignments, kind) {
			res, err := s.reader.GetResource(ctx, kind, rid)
			if err != nil {
				return nil, lookupErr(err, kindLabel(kind), rid)
			}
			switch kind {
			case model.ResourceKindToilet:
				order.Toilets = append(order.Toilets, *res)
			case model.ResourceKindVehicle:
				order.Vehicles = append(order.Vehicles, *res)
			case model.ResourceKindEmployee:
				order.Employees = append(order.Employees, *res)
			}
		}
	}

	content, err := s.pdf.Generate(order)
	if err != nil {
		return nil, err
	}
	return &GenerateReportResult{
		FileName: fmt.Sprintf("work-order-%s-%s.pdf",
			sanitizeFileName(client.Name), svc.ScheduledDate.In(s.loc).Format("20060102")),
		Content: content,
	}, nil
}

func sanitizeFileName(input string) string {
	result := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result = append(result, r)
		case r == '-', r == '_':
			result = append(result, r)
		default:
			result = append(result, '-')
		}
	}
	return strings.Trim(string(result), "-")
}
