package service

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"anpr-stream/internal/domain/anpr"
)

const exportSheet = "Detections"

var exportHeaders = []interface{}{
	"Time", "Plate", "Raw text", "Confidence", "Verified",
	"Blacklisted", "Blacklist reason", "Owner", "Province", "Tracker ID", "Snapshot",
}

// ExportXLSX writes the detections matching filter as a spreadsheet and
// returns the number of rows written.
func (s *DetectionService) ExportXLSX(ctx context.Context, filter anpr.DetectionFilter, w io.Writer) (int, error) {
	views, err := s.Find(ctx, filter)
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeaders); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(exportSheet, "A1", "K1", style)
	}
	_ = f.SetColWidth(exportSheet, "A", "A", 20)
	_ = f.SetColWidth(exportSheet, "B", "C", 14)

	for i, d := range views {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		row := []interface{}{
			d.Timestamp.Format("2006-01-02 15:04:05"),
			d.PlateText,
			d.RawText,
			d.Confidence,
			yesNo(d.IsVerified),
			yesNo(d.IsBlacklisted),
			deref(d.BlacklistReason),
			deref(d.PlateOwner),
			deref(d.PlateProvince),
			trackCell(d.TrackID),
			deref(d.CropImagePath),
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return 0, fmt.Errorf("write xlsx: %w", err)
	}
	return len(views), nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func trackCell(id *int64) interface{} {
	if id == nil {
		return ""
	}
	return *id
}
