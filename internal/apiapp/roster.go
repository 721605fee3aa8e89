package apiapp

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/phillip-england/nutrisurvey/internal/survey"
)

var rosterHeaderAliases = map[string]string{
	"elderly_id":  "id",
	"elderly id":  "id",
	"subject_id":  "id",
	"subject id":  "id",
	"id":          "id",
	"name":        "name",
	"full name":   "name",
	"facility_id": "facility",
	"facility id": "facility",
	"facility":    "facility",
}

// maxRosterRows caps the subject rows of one import, header excluded.
const maxRosterRows = 5000

// readRosterRows returns the non-blank rows of the roster's only worksheet
// with every cell trimmed.
func readRosterRows(data []byte, filename string) ([][]string, error) {
	var raw [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, errors.New("no worksheet found")
		}
		if workbook.NumSheets() > 1 {
			return nil, errors.New("multiple worksheets found; please upload a roster with a single sheet")
		}
		raw = workbook.ReadAllCells(maxRosterRows + 2)
	case ".xlsx":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		if len(file.GetSheetList()) > 1 {
			return nil, errors.New("multiple worksheets found; please upload a roster with a single sheet")
		}
		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, errors.New("no worksheet found")
		}
		raw, err = file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported roster type %q", filepath.Ext(filename))
	}

	rows := make([][]string, 0, len(raw))
	for _, row := range raw {
		trimmed := make([]string, len(row))
		blank := true
		for i, cell := range row {
			trimmed[i] = strings.TrimSpace(cell)
			if trimmed[i] != "" {
				blank = false
			}
		}
		if !blank {
			rows = append(rows, trimmed)
		}
	}
	if len(rows) == 0 {
		return nil, errors.New("worksheet is empty")
	}
	if len(rows) > maxRosterRows+1 {
		return nil, fmt.Errorf("roster has more than %d rows", maxRosterRows)
	}
	return rows, nil
}

// parseRosterRows reads subjects from spreadsheet rows. A first row naming
// the columns is honoured; otherwise the columns are id, name, facility.
func parseRosterRows(rows [][]string) ([]survey.Subject, error) {
	columns := map[string]int{"id": 0, "name": 1, "facility": 2}
	start := 0
	if len(rows) > 0 {
		header := map[string]int{}
		for i, cell := range rows[0] {
			if field, ok := rosterHeaderAliases[strings.ToLower(strings.TrimSpace(cell))]; ok {
				header[field] = i
			}
		}
		if _, ok := header["id"]; ok {
			columns = header
			start = 1
		}
	}

	seen := map[string]bool{}
	var subjects []survey.Subject
	for i := start; i < len(rows); i++ {
		row := rows[i]
		id := cellAt(row, columns, "id")
		if id == "" {
			continue
		}
		if strings.Contains(id, "/") {
			return nil, fmt.Errorf("row %d: subject id %q may not contain '/'", i+1, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("row %d: duplicate subject id %q", i+1, id)
		}
		seen[id] = true
		subjects = append(subjects, survey.Subject{
			ID:         id,
			Name:       cellAt(row, columns, "name"),
			FacilityID: cellAt(row, columns, "facility"),
		})
	}
	if len(subjects) == 0 {
		return nil, errors.New("no subjects found in roster")
	}
	return subjects, nil
}

func cellAt(row []string, columns map[string]int, field string) string {
	idx, ok := columns[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
