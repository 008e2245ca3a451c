// Command fetch pulls the CWA regional temperature dataset (or reads a
// saved JSON dump), extracts per-location temperatures, and writes them to
// a CSV file and a SQLite database. One-shot; the dashboard serves the
// result.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/twweather/tempmap/internal/client"
	"github.com/twweather/tempmap/internal/config"
	"github.com/twweather/tempmap/internal/extract"
	"github.com/twweather/tempmap/internal/geo"
	"github.com/twweather/tempmap/internal/models"
	"github.com/twweather/tempmap/internal/observability"
	"github.com/twweather/tempmap/internal/service"
	"github.com/twweather/tempmap/internal/store"
)

// Exit codes mirror the failure stages: 1 config/usage, 2 source missing,
// 3 source unreadable, 4 nothing extracted, 5 write failed.
const (
	exitConfig     = 1
	exitNotFound   = 2
	exitUnreadable = 3
	exitNoReadings = 4
	exitWrite      = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", zap.Error(err))
		return exitConfig
	}

	urlFlag := flag.String("url", cfg.CWADatasetURL, "CWA dataset URL to fetch")
	fileFlag := flag.String("file", "", "read a local JSON dump instead of fetching")
	outFlag := flag.String("out", cfg.CSVPath, "output CSV path (empty to skip)")
	dbFlag := flag.String("db", cfg.DBPath, "output SQLite database path (empty to skip)")
	sampleFlag := flag.Int("sample", cfg.SampleRows, "number of sample rows to print")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var doc any
	if *fileFlag != "" {
		logger.Info("reading dataset file", zap.String("path", *fileFlag))
		doc, err = client.ReadDatasetFile(*fileFlag)
		if err != nil {
			logger.Error("read dataset", zap.Error(err))
			if errors.Is(err, os.ErrNotExist) {
				return exitNotFound
			}
			return exitUnreadable
		}
	} else {
		c, err := client.NewCWAClientWithRetry(*urlFlag, cfg.CWAAPIKey, cfg.CWATimeout, cfg.RetryAttempts, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
		if err != nil {
			logger.Error("cwa client", zap.Error(err))
			return exitConfig
		}
		logger.Info("fetching dataset", zap.String("url", *urlFlag))
		doc, err = c.FetchDataset(ctx)
		if err != nil {
			logger.Error("fetch dataset", zap.Error(err))
			return exitUnreadable
		}
	}

	raw := extract.FindReadings(doc)
	if len(raw) == 0 {
		logger.Error("no locations/temperatures discovered",
			zap.Strings("top_level_keys", extract.TopLevelKeys(doc)))
		return exitNoReadings
	}

	resolver := geo.NewResolver(cfg.GeocoderAPIKey)
	readings := service.Convert(raw, resolver, time.Now().UTC(), logger)
	if len(readings) == 0 {
		logger.Error("all extracted values discarded", zap.Int("extracted", len(raw)))
		return exitNoReadings
	}

	if *outFlag != "" {
		if err := store.WriteCSV(*outFlag, readings); err != nil {
			logger.Error("write csv", zap.Error(err))
			return exitWrite
		}
		logger.Info("wrote csv", zap.String("path", *outFlag), zap.Int("rows", len(readings)))
	}

	if *dbFlag != "" {
		st, err := store.Open(*dbFlag)
		if err != nil {
			logger.Error("open sqlite database", zap.Error(err))
			return exitWrite
		}
		defer st.Close()
		if err := st.ReplaceReadings(ctx, readings); err != nil {
			logger.Error("write sqlite database", zap.Error(err))
			return exitWrite
		}
		logger.Info("wrote sqlite database", zap.String("path", *dbFlag), zap.Int("rows", len(readings)))
	}

	printSample(readings, *sampleFlag)
	return 0
}

// printSample writes the first n readings to stdout so a manual run shows
// what was extracted.
func printSample(readings []models.TemperatureReading, n int) {
	if n <= 0 {
		return
	}
	if n > len(readings) {
		n = len(readings)
	}
	fmt.Println("\nSample of extracted data:")
	for _, r := range readings[:n] {
		fmt.Printf("%s (%s): %.1f\n", r.Location, r.ElementType, r.Temperature)
	}
}
