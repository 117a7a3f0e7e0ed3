package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"
	"github.com/zombor/expense-splitter/internal/auth"
)

// ExportGroupXLSX returns an XLSX workbook of a group's receipts and their items
func (s *Service) ExportGroupXLSX(ctx context.Context, session *auth.Session, groupID string) ([]byte, error) {
	start := time.Now()

	receipts, err := s.ListGroupReceipts(ctx, session, groupID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Receipts"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	const itemSheet = "Items"
	if _, err := f.NewSheet(itemSheet); err != nil {
		return nil, fmt.Errorf("creating items sheet: %w", err)
	}

	writeRow(f, sheet, 1, "Date", "Description", "Amount", "Uploaded By", "Paid By", "Image URL", "Receipt ID")
	writeRow(f, itemSheet, 1, "Receipt ID", "Date", "Receipt", "Item", "Amount")

	itemRow := 2
	for i, r := range receipts {
		total, _ := r.TotalAmount.Float64()
		writeRow(f, sheet, i+2, r.Date, r.Description, total, r.UploadedBy, r.PaidBy, r.ImageURL, r.ID)

		for _, item := range r.Items {
			amount, _ := item.Amount.Float64()
			writeRow(f, itemSheet, itemRow, r.ID, r.Date, r.Description, item.Description, amount)
			itemRow++
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 12) // date
	_ = f.SetColWidth(sheet, "B", "B", 32) // description
	_ = f.SetColWidth(sheet, "C", "C", 12)
	_ = f.SetColWidth(sheet, "D", "E", 20)
	_ = f.SetColWidth(sheet, "F", "F", 60) // image url
	_ = f.SetColWidth(itemSheet, "C", "D", 32)

	if style, err := f.NewStyle(&excelize.Style{NumFmt: 2}); err == nil {
		_ = f.SetColStyle(sheet, "C", style)
		_ = f.SetColStyle(itemSheet, "E", style)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("Exported group receipts",
		"group_id", groupID,
		"rows", len(receipts),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}
