package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Catalog"

// Status labels written to the export status column.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusError   = "error"
)

func (it Item) Status() string {
	switch {
	case it.Pending():
		return StatusPending
	case it.Errored():
		return StatusError
	default:
		return StatusDone
	}
}

// ExportXLSX writes the catalog to an XLSX workbook: every CSV column in order plus a
// trailing status column.
func (s *CSVStore) ExportXLSX(path string) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if index, _ := f.GetSheetIndex(exportSheet); index == -1 {
		if _, err := f.NewSheet(exportSheet); err != nil {
			return fmt.Errorf("create sheet: %w", err)
		}
	}
	activeIndex, _ := f.GetSheetIndex(exportSheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	headers := append(s.Header(), "status")
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	items := s.Items()
	for r, rec := range s.rows {
		row := r + 2
		for c, v := range rec {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return fmt.Errorf("write row %d: %w", row, err)
			}
		}
		cell, _ := excelize.CoordinatesToCellName(len(headers), row)
		if err := f.SetCellValue(exportSheet, cell, items[r].Status()); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
	}

	resultCol, _ := excelize.ColumnNumberToName(s.resultIdx + 1)
	_ = f.SetColWidth(exportSheet, resultCol, resultCol, 80)

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
