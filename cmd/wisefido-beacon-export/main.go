package main

import (
	"flag"
	"log"
	"os"

	"go.uber.org/zap"

	"wisefido-beacon/internal/export"
	"wisefido-beacon/owl-common/logger"
)

func main() {
	in := flag.String("in", "events.csv", "passage events CSV")
	out := flag.String("out", "events.xlsx", "Excel report path")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	zapLogger, err := logger.NewLogger(*level, "console", "wisefido-beacon-export")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	f, err := os.Open(*in)
	if err != nil {
		zapLogger.Fatal("Failed to open events file", zap.String("path", *in), zap.Error(err))
	}
	records, err := export.ReadEventsCSV(f)
	f.Close()
	if err != nil {
		zapLogger.Fatal("Failed to read events", zap.String("path", *in), zap.Error(err))
	}

	data, err := export.GenerateEventsExcel(records)
	if err != nil {
		zapLogger.Fatal("Failed to generate report", zap.Error(err))
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		zapLogger.Fatal("Failed to write report", zap.String("path", *out), zap.Error(err))
	}

	zapLogger.Info("Report written",
		zap.String("path", *out),
		zap.Int("events", len(records)),
		zap.Int("beacons", len(export.Summarize(records))),
	)
}
