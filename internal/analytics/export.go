package analytics

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

var rfmHeaders = []string{
	"Customer", "Recency (days)", "Frequency", "Monetary",
	"R", "F", "M", "Segment",
}

// BuildRFMWorkbook renders a segmentation result as an XLSX workbook with a
// single "RFM Segments" sheet.
func BuildRFMWorkbook(segments []CustomerSegment) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "RFM Segments"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for col, header := range rfmHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for row, segment := range segments {
		values := []any{
			segment.CustomerExternalID,
			segment.RecencyDays,
			segment.Frequency,
			segment.Monetary,
			segment.RecencyScore,
			segment.FrequencyScore,
			segment.MonetaryScore,
			segment.Segment,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row+2, err)
			}
		}
	}

	return f, nil
}
