package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

const (
	measurementsSheet = "Measurements"
	summarySheet      = "Summary"
	photosSheet       = "Photos"
)

// Build renders a subject's survey as an xlsx workbook.
func Build(subject survey.Subject, record survey.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(measurementsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(photosSheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeSummary(f, bold, subject, record); err != nil {
		return nil, err
	}
	if err := writeMeasurements(f, bold, record); err != nil {
		return nil, err
	}
	if err := writePhotos(f, bold, record); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, bold int, subject survey.Subject, record survey.Record) error {
	s := record.Summary()
	rows := [][]any{
		{"Subject", record.SubjectID},
		{"Name", subject.Name},
		{"Facility", record.FacilityID},
		{"Surveyor", record.SurveyorID},
		{"Updated", record.UpdatedAt},
		{},
		{"Total served (g)", s.TotalPortions},
		{"Total waste (g)", s.TotalWaste},
		{"Intake (g)", s.Intake},
		{"Intake rate (%)", round1(s.IntakeRate)},
		{"Assessment", s.Band.Label()},
		{"Daily average served (g)", round1(survey.DailyAverage(s.TotalPortions))},
		{"Daily average intake (g)", round1(survey.DailyAverage(s.Intake))},
		{},
		{"Day", "Served (g)", "Waste (g)", "Intake (g)"},
	}
	for _, d := range survey.DailyTotals(record.MealPortions, record.PlateWaste) {
		rows = append(rows, []any{d.Day, d.Portions, d.Waste, d.Intake()})
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A13", bold); err != nil {
		return err
	}
	return f.SetCellStyle(summarySheet, "A15", "D15", bold)
}

func writeMeasurements(f *excelize.File, bold int, record survey.Record) error {
	rows := [][]any{{"Day", "Meal", "Item", "Served (g)", "Rating", "Waste (g)"}}
	for _, k := range survey.AllKeys() {
		served, ok := record.MealPortions.Get(k)
		if !ok {
			continue
		}
		rating := record.WasteRatings[k]
		rows = append(rows, []any{k.Day, k.Slot.Label(), k.Component.Label(), served, int(rating), record.PlateWaste.Value(k)})
	}
	if err := writeRows(f, measurementsSheet, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(measurementsSheet, "B", "C", 18); err != nil {
		return err
	}
	return f.SetCellStyle(measurementsSheet, "A1", "F1", bold)
}

func writePhotos(f *excelize.File, bold int, record survey.Record) error {
	rows := [][]any{{"Day", "Meal", "Served photo", "Leftover photo"}}
	for _, slot := range survey.AllSlots() {
		provision := record.ProvisionPhotos[slot]
		waste := record.WastePhotos[slot]
		if provision == "" && waste == "" {
			continue
		}
		rows = append(rows, []any{slot.Day, slot.Slot.Label(), provision, waste})
	}
	if err := writeRows(f, photosSheet, rows); err != nil {
		return err
	}
	if err := f.SetColWidth(photosSheet, "C", "D", 60); err != nil {
		return err
	}
	return f.SetCellStyle(photosSheet, "A1", "D1", bold)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
