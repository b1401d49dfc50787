package excel

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nurpe/fieldops/internal/model"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate writes a summary sheet followed by one sheet per scheduled day.
func (g *Generator) Generate(report model.ScheduleReport) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	summarySheet := "Resumen"
	if err := file.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if err := g.writeSummary(file, summarySheet, report); err != nil {
		return nil, err
	}

	usedNames := map[string]struct{}{summarySheet: {}}
	for _, group := range groupByDay(report.Services) {
		sheetName := buildSheetName(group.day, usedNames)
		usedNames[sheetName] = struct{}{}

		if _, err := file.NewSheet(sheetName); err != nil {
			return nil, err
		}
		if err := g.writeDay(file, sheetName, group); err != nil {
			return nil, err
		}
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, report model.ScheduleReport) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Desde")
	set("B1", formatDate(report.From))
	set("A2", "Hasta")
	set("B2", formatDate(report.To))
	set("A3", "Servicios")
	set("B3", len(report.Services))
	set("A4", "Baños asignados")
	set("B4", countAssigned(report.Services, model.ResourceKindToilet))

	tableRow := 6
	set(fmt.Sprintf("A%d", tableRow), "Estado")
	set(fmt.Sprintf("B%d", tableRow), "Servicios")

	for i, status := range statusOrder {
		row := tableRow + 1 + i
		set(fmt.Sprintf("A%d", row), string(status))
		set(fmt.Sprintf("B%d", row), countStatus(report.Services, status))
	}

	_ = file.SetColWidth(sheet, "A", "A", 24)
	_ = file.SetColWidth(sheet, "B", "B", 16)
	return nil
}

func (g *Generator) writeDay(file *excelize.File, sheet string, group dayGroup) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Fecha")
	set("B1", formatDate(group.day))
	set("A2", "Servicios")
	set("B2", len(group.services))

	tableRow := 4
	headers := []string{
		"Cliente",
		"Tipo",
		"Estado",
		"Ubicación",
		"Baños",
		"Vehículos",
		"Personal",
		"Notas",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, tableRow)
		set(cell, header)
	}

	for i, svc := range group.services {
		row := tableRow + 1 + i
		set(fmt.Sprintf("A%d", row), clientName(svc))
		set(fmt.Sprintf("B%d", row), string(svc.ServiceType))
		set(fmt.Sprintf("C%d", row), string(svc.Status))
		set(fmt.Sprintf("D%d", row), svc.Location)
		set(fmt.Sprintf("E%d", row), formatCount(svc, model.ResourceKindToilet))
		set(fmt.Sprintf("F%d", row), formatCount(svc, model.ResourceKindVehicle))
		set(fmt.Sprintf("G%d", row), formatCount(svc, model.ResourceKindEmployee))
		set(fmt.Sprintf("H%d", row), notes(svc))
	}

	_ = file.SetColWidth(sheet, "A", "A", 32)
	_ = file.SetColWidth(sheet, "B", "C", 14)
	_ = file.SetColWidth(sheet, "D", "D", 40)
	_ = file.SetColWidth(sheet, "E", "G", 10)
	_ = file.SetColWidth(sheet, "H", "H", 40)
	return nil
}

var statusOrder = []model.ServiceStatus{
	model.ServiceStatusScheduled,
	model.ServiceStatusEnRoute,
	model.ServiceStatusInProgress,
	model.ServiceStatusCompleted,
	model.ServiceStatusRescheduled,
	model.ServiceStatusIncomplete,
	model.ServiceStatusCancelled,
}

type dayGroup struct {
	day      time.Time
	services []model.Service
}

// groupByDay keeps the input order, which is already sorted by date.
func groupByDay(services []model.Service) []dayGroup {
	var groups []dayGroup
	for _, svc := range services {
		y, m, d := svc.ScheduledDate.Date()
		key := time.Date(y, m, d, 0, 0, 0, 0, svc.ScheduledDate.Location())
		if n := len(groups); n > 0 && groups[n-1].day.Equal(key) {
			groups[n-1].services = append(groups[n-1].services, svc)
			continue
		}
		groups = append(groups, dayGroup{day: key, services: []model.Service{svc}})
	}
	return groups
}

func buildSheetName(day time.Time, used map[string]struct{}) string {
	base := sanitizeSheetName(day.Format("2006-01-02"))

	nameCandidate := base
	counter := 2
	for {
		if _, exists := used[nameCandidate]; !exists {
			return nameCandidate
		}
		nameCandidate = fmt.Sprintf("%s-%d", base, counter)
		counter++
	}
}

func sanitizeSheetName(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "Hoja"
	}

	replacer := strings.NewReplacer(
		"[", "-",
		"]", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"/", "-",
		"\\", "-",
	)
	value = strings.TrimSpace(replacer.Replace(value))
	if value == "" {
		return "Hoja"
	}
	if len(value) > 31 {
		value = value[:31]
	}
	return value
}

func clientName(svc model.Service) string {
	if svc.Client == nil || strings.TrimSpace(svc.Client.Name) == "" {
		return svc.ClientID.String()
	}
	return svc.Client.Name
}

func notes(svc model.Service) string {
	if svc.IncompleteReason != nil && *svc.IncompleteReason != "" {
		if svc.Notes == "" {
			return *svc.IncompleteReason
		}
		return svc.Notes + " / " + *svc.IncompleteReason
	}
	return svc.Notes
}

func formatCount(svc model.Service, kind model.ResourceKind) string {
	return fmt.Sprintf("%d/%d", svc.AssignedCount(kind), svc.RequiredCount(kind))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func countStatus(services []model.Service, status model.ServiceStatus) int {
	total := 0
	for _, svc := range services {
		if svc.Status == status {
			total++
		}
	}
	return total
}

func countAssigned(services []model.Service, kind model.ResourceKind) int {
	total := 0
	for _, svc := range services {
		total += svc.AssignedCount(kind)
	}
	return total
}
