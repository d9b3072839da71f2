package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/recorder"
)

// ReadEventsCSV 读取事件文件，要求首行为表头
func ReadEventsCSV(r io.Reader) ([]models.PassageRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(recorder.CSVHeader)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range recorder.CSVHeader {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("unexpected header column %d: %q", i+1, header[i])
		}
	}

	var records []models.PassageRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read events: %w", err)
		}
		line, _ := cr.FieldPos(0)

		ts, err := time.ParseInLocation(models.TimestampLayout, row[0], time.Local)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid timestamp %q: %w", line, row[0], err)
		}
		rssi, err := strconv.Atoi(strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid rssi %q: %w", line, row[3], err)
		}
		records = append(records, models.PassageRecord{
			Timestamp: ts,
			ScannerID: row[1],
			UUID:      row[2],
			PeakRSSI:  rssi,
		})
	}
	return records, nil
}
