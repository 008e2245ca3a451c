package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"

	"github.com/twweather/tempmap/internal/models"
)

// WriteCSV writes the readings to path, overwriting any previous file.
// Column order follows the csv tags on TemperatureReading:
// location,element_type,temperature,latitude,longitude,observed_at.
func WriteCSV(path string, readings []models.TemperatureReading) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	for _, r := range readings {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode csv row %s/%s: %w", r.Location, r.ElementType, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv file %s: %w", path, err)
	}
	return nil
}

// ReadCSV reads readings back from a CSV file previously written by WriteCSV.
func ReadCSV(path string) ([]models.TemperatureReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv file %s: %w", path, err)
	}
	defer f.Close()

	dec, err := csvutil.NewDecoder(csv.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("create csv decoder: %w", err)
	}
	var readings []models.TemperatureReading
	if err := dec.Decode(&readings); err != nil {
		return nil, fmt.Errorf("decode csv file %s: %w", path, err)
	}
	return readings, nil
}
