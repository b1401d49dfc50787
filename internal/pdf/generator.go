package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/nurpe/fieldops/internal/model"
)

type Generator struct {
	fontName string
}

func NewGenerator() *Generator {
	return &Generator{fontName: "Helvetica"}
}

func (g *Generator) Generate(order model.WorkOrder) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	// Core fonts are cp1252; the translator keeps Spanish accents intact.
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	svc := order.Service

	pdf.SetFont(g.fontName, "B", 14)
	pdf.CellFormat(0, 10, tr("Orden de trabajo"), "", 1, "C", false, 0, "")

	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Servicio %s", svc.ID)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Fecha programada: %s", formatDate(svc.ScheduledDate))), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	addClientBlock(pdf, g.fontName, tr, order.Client)
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, tr("Detalle del servicio"), "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 10)
	lines := []string{
		fmt.Sprintf("Tipo: %s", svc.ServiceType),
		fmt.Sprintf("Estado: %s", svc.Status),
		fmt.Sprintf("Ubicación: %s", safeValue(svc.Location)),
		fmt.Sprintf("Baños: %d  Vehículos: %d  Personal: %d",
			svc.RequiredToiletCount, svc.RequiredVehicleCount, svc.RequiredEmployeeCount),
	}
	if strings.TrimSpace(svc.Notes) != "" {
		lines = append(lines, fmt.Sprintf("Notas: %s", svc.Notes))
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, tr("Recursos asignados"), "", 1, "L", false, 0, "")

	colWidths := []float64{40, 90, 50}
	drawTableRow(pdf, g.fontName, tr, []string{"Tipo", "Identificación", "Estado"}, colWidths, true)
	groups := []struct {
		label     string
		resources []model.Resource
	}{
		{"Baño", order.Toilets},
		{"Vehículo", order.Vehicles},
		{"Empleado", order.Employees},
	}
	rows := 0
	for _, group := range groups {
		for _, r := range group.resources {
			drawTableRow(pdf, g.fontName, tr, []string{group.label, r.Label, string(r.State)}, colWidths, false)
			rows++
		}
	}
	if rows == 0 {
		pdf.SetFont(g.fontName, "", 10)
		pdf.CellFormat(0, 8, tr("Sin recursos asignados"), "", 1, "L", false, 0, "")
	}

	pdf.Ln(6)
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, tr("Conformidad"), "", 1, "L", false, 0, "")
	signatureBlock(pdf, g.fontName, tr, "Cliente", order.Client.Name)
	signatureBlock(pdf, g.fontName, tr, "Responsable", "")

	pdf.Ln(2)
	pdf.SetFont(g.fontName, "", 8)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("Emitida el %s", formatDateTime(order.IssuedAt))), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func addClientBlock(pdf *gofpdf.Fpdf, fontName string, tr func(string) string, client model.Client) {
	pdf.SetFont(fontName, "B", 11)
	pdf.CellFormat(0, 6, tr("Cliente"), "", 1, "L", false, 0, "")
	pdf.SetFont(fontName, "", 10)
	lines := []string{
		safeValue(client.Name),
		fmt.Sprintf("Dirección: %s", safeValue(client.Address)),
		fmt.Sprintf("Teléfono: %s", safeValue(client.Phone)),
		fmt.Sprintf("Correo: %s", safeValue(client.Email)),
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}
}

func drawTableRow(pdf *gofpdf.Fpdf, fontName string, tr func(string) string, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(fontName, style, 10)
	for i, col := range cols {
		pdf.CellFormat(widths[i], 8, tr(col), "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
}

func signatureBlock(pdf *gofpdf.Fpdf, fontName string, tr func(string) string, label, name string) {
	pdf.SetFont(fontName, "", 11)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("%s: ______________________ /%s/", label, safeValue(name))), "", 1, "L", false, 0, "")
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02/01/2006")
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02/01/2006 15:04")
}
