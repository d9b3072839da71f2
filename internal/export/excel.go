package export

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"wisefido-beacon/internal/models"
)

const (
	eventsSheet  = "Passage Events"
	summarySheet = "Summary"
)

// EventsHeader 事件表表头
var EventsHeader = []string{"Timestamp", "Scanner ID", "Beacon UUID", "Peak RSSI (dBm)"}

// SummaryHeader 汇总表表头
var SummaryHeader = []string{"Scanner ID", "Beacon UUID", "Passages", "Strongest Peak (dBm)", "First Seen", "Last Seen"}

// SummaryRow 按 (scanner, uuid) 汇总
type SummaryRow struct {
	ScannerID string
	UUID      string
	Passages  int
	BestPeak  int
	First     string
	Last      string
}

// Summarize 按位置和信标汇总通过次数，结果按 scanner、uuid 排序
func Summarize(records []models.PassageRecord) []SummaryRow {
	type key struct{ scanner, uuid string }
	index := make(map[key]*SummaryRow)

	for _, rec := range records {
		k := key{rec.ScannerID, rec.UUID}
		ts := rec.FormattedTimestamp()
		row, ok := index[k]
		if !ok {
			index[k] = &SummaryRow{
				ScannerID: rec.ScannerID,
				UUID:      rec.UUID,
				Passages:  1,
				BestPeak:  rec.PeakRSSI,
				First:     ts,
				Last:      ts,
			}
			continue
		}
		row.Passages++
		if rec.PeakRSSI > row.BestPeak {
			row.BestPeak = rec.PeakRSSI
		}
		if ts < row.First {
			row.First = ts
		}
		if ts > row.Last {
			row.Last = ts
		}
	}

	rows := make([]SummaryRow, 0, len(index))
	for _, row := range index {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].ScannerID != rows[j].ScannerID {
			return rows[i].ScannerID < rows[j].ScannerID
		}
		return rows[i].UUID < rows[j].UUID
	})
	return rows
}

// GenerateEventsExcel 生成通过事件 Excel 文件（事件明细 + 汇总）
func GenerateEventsExcel(records []models.PassageRecord) ([]byte, error) {
	f := excelize.NewFile()

	if _, err := f.NewSheet(eventsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")

	idx, err := f.GetSheetIndex(eventsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get sheet index: %w", err)
	}
	f.SetActiveSheet(idx)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	eventRows := make([][]interface{}, 0, len(records))
	for _, rec := range records {
		eventRows = append(eventRows, []interface{}{rec.FormattedTimestamp(), rec.ScannerID, rec.UUID, rec.PeakRSSI})
	}
	if err := writeSheet(f, eventsSheet, EventsHeader, []float64{20, 12, 40, 16}, headerStyle, eventRows); err != nil {
		f.Close()
		return nil, err
	}

	summary := Summarize(records)
	summaryRows := make([][]interface{}, 0, len(summary))
	for _, row := range summary {
		summaryRows = append(summaryRows, []interface{}{row.ScannerID, row.UUID, row.Passages, row.BestPeak, row.First, row.Last})
	}
	if err := writeSheet(f, summarySheet, SummaryHeader, []float64{12, 40, 10, 20, 20, 20}, headerStyle, summaryRows); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// writeSheet 写入表头、列宽、数据并冻结首行
func writeSheet(f *excelize.File, sheet string, headers []string, widths []float64, headerStyle int, rows [][]interface{}) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
	}

	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, values := range rows {
		// 第1行是表头
		cell, err := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := values
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowIdx+2, err)
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}
