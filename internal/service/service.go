package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/twweather/tempmap/internal/cache"
	"github.com/twweather/tempmap/internal/client"
	"github.com/twweather/tempmap/internal/extract"
	"github.com/twweather/tempmap/internal/geo"
	"github.com/twweather/tempmap/internal/models"
	"github.com/twweather/tempmap/internal/observability"
)

// ErrNoReadings is returned when the extraction heuristic finds nothing in
// the fetched document. The wrapped message carries the document's top-level
// keys for debugging.
var ErrNoReadings = errors.New("no temperature readings discovered")

// Repository is the store surface the service needs. *store.Store satisfies it.
type Repository interface {
	ReplaceReadings(ctx context.Context, readings []models.TemperatureReading) error
	ListReadings(ctx context.Context) ([]models.TemperatureReading, error)
	ListByLocation(ctx context.Context, location string) ([]models.TemperatureReading, error)
	Locations(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

// RefreshResult describes one completed refresh.
type RefreshResult struct {
	Rows     int           `json:"rows"`
	Duration time.Duration `json:"-"`
}

// TemperatureService orchestrates the fetch pipeline (fetch, extract,
// enrich, validate, store) and the dashboard reads (cache-aside over the
// store). Concurrent refreshes coalesce into a single pipeline run.
type TemperatureService struct {
	fetcher  client.DatasetFetcher
	repo     Repository
	cache    cache.Cache // nil disables read caching
	cacheTTL time.Duration
	resolver *geo.Resolver
	logger   *zap.Logger
	group    *refreshGroup
}

// NewTemperatureService creates a TemperatureService. cache may be nil to
// disable read caching; refreshTimeout bounds a single pipeline run.
func NewTemperatureService(fetcher client.DatasetFetcher, repo Repository, c cache.Cache, cacheTTL time.Duration, resolver *geo.Resolver, refreshTimeout time.Duration, logger *zap.Logger) *TemperatureService {
	return &TemperatureService{
		fetcher:  fetcher,
		repo:     repo,
		cache:    c,
		cacheTTL: cacheTTL,
		resolver: resolver,
		logger:   logger,
		group:    newRefreshGroup(refreshTimeout),
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

func (s *TemperatureService) log(ctx context.Context) *zap.Logger {
	if l := loggerFromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// Refresh runs the fetch pipeline, or joins a pipeline run that is already
// in flight. trigger labels the metrics (api, scheduler, startup).
func (s *TemperatureService) Refresh(ctx context.Context, trigger string) (RefreshResult, error) {
	result, coalesced, err := s.group.Do(ctx, s.runRefresh)
	if coalesced {
		observability.RefreshCoalescedTotal.Inc()
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	observability.RefreshesTotal.WithLabelValues(trigger, outcome).Inc()
	return result, err
}

// RefreshIfEmpty runs a refresh when the store has no rows yet, so a fresh
// dashboard deployment populates itself on startup.
func (s *TemperatureService) RefreshIfEmpty(ctx context.Context) error {
	n, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.Refresh(ctx, "startup")
	return err
}

func (s *TemperatureService) runRefresh(ctx context.Context) (RefreshResult, error) {
	start := time.Now()
	logger := s.log(ctx)

	doc, err := s.fetcher.FetchDataset(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("fetch dataset: %w", err)
	}

	raw := extract.FindReadings(doc)
	if len(raw) == 0 {
		keys := extract.TopLevelKeys(doc)
		if logger != nil {
			logger.Error("extraction found nothing", zap.Strings("top_level_keys", keys))
		}
		return RefreshResult{}, fmt.Errorf("%w (top-level keys: %s)", ErrNoReadings, strings.Join(keys, ", "))
	}

	readings := Convert(raw, s.resolver, time.Now().UTC(), logger)
	if len(readings) == 0 {
		return RefreshResult{}, fmt.Errorf("%w (all %d extracted values discarded)", ErrNoReadings, len(raw))
	}

	if err := s.repo.ReplaceReadings(ctx, readings); err != nil {
		return RefreshResult{}, fmt.Errorf("store readings: %w", err)
	}
	observability.RowsWrittenTotal.Add(float64(len(readings)))

	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.ReadingsKey); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("delete").Inc()
			if logger != nil {
				logger.Warn("cache invalidation failed", zap.Error(err))
			}
		}
	}

	duration := time.Since(start)
	if logger != nil {
		logger.Info("refresh complete",
			zap.Int("rows", len(readings)),
			zap.Int("extracted", len(raw)),
			zap.Duration("duration", duration))
	}
	return RefreshResult{Rows: len(readings), Duration: duration}, nil
}

// validate checks converted readings against the struct tags on
// TemperatureReading. Shared by the service and the fetch CLI.
var validate = validator.New()

// Convert turns raw extracted values into validated readings: numeric
// parsing, coordinate enrichment, and struct validation. Values that fail
// are dropped with a warning, not fatal, matching the best-effort contract
// of the extraction heuristic.
func Convert(raw []extract.RawReading, resolver *geo.Resolver, observedAt time.Time, logger *zap.Logger) []models.TemperatureReading {
	readings := make([]models.TemperatureReading, 0, len(raw))
	for _, rr := range raw {
		temp, err := strconv.ParseFloat(strings.TrimSpace(rr.Value), 64)
		if err != nil {
			observability.RowsDiscardedTotal.WithLabelValues("non_numeric").Inc()
			if logger != nil {
				logger.Warn("skipping non-numeric temperature",
					zap.String("location", rr.Location),
					zap.String("element_type", rr.ElementType),
					zap.String("value", rr.Value))
			}
			continue
		}

		r := models.TemperatureReading{
			Location:    rr.Location,
			ElementType: rr.ElementType,
			Temperature: temp,
			ObservedAt:  observedAt,
		}
		if coord, ok := resolver.Resolve(rr.Location); ok {
			r.Latitude = coord.Latitude
			r.Longitude = coord.Longitude
		}

		if err := validate.Struct(r); err != nil {
			observability.RowsDiscardedTotal.WithLabelValues("invalid").Inc()
			if logger != nil {
				logger.Warn("skipping invalid reading",
					zap.String("location", rr.Location),
					zap.String("element_type", rr.ElementType),
					zap.Float64("temperature", temp),
					zap.Error(err))
			}
			continue
		}
		readings = append(readings, r)
	}
	return readings
}

// Readings returns the full snapshot, cache-aside over the store.
func (s *TemperatureService) Readings(ctx context.Context) ([]models.TemperatureReading, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, cache.ReadingsKey)
		if err != nil {
			observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		} else if ok {
			observability.CacheHitsTotal.WithLabelValues("readings").Inc()
			return cached, nil
		}
	}

	readings, err := s.repo.ListReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.ReadingsKey, readings, s.cacheTTL); err != nil {
			observability.CacheErrorsTotal.WithLabelValues("set").Inc()
			if logger := s.log(ctx); logger != nil {
				logger.Warn("cache set failed", zap.Error(err))
			}
		}
	}
	return readings, nil
}

// ReadingsForLocation returns the readings for one location from the cached
// snapshot. Returns an empty slice when the location is unknown.
func (s *TemperatureService) ReadingsForLocation(ctx context.Context, location string) ([]models.TemperatureReading, error) {
	location = strings.TrimSpace(location)
	all, err := s.Readings(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.TemperatureReading
	for _, r := range all {
		if r.Location == location {
			out = append(out, r)
		}
	}
	return out, nil
}

// Locations returns the distinct location names in alphabetical order.
func (s *TemperatureService) Locations(ctx context.Context) ([]string, error) {
	all, err := s.Readings(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, r := range all {
		if _, ok := seen[r.Location]; !ok {
			seen[r.Location] = struct{}{}
			out = append(out, r.Location)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Summary pivots the snapshot into one row per location with every element
// type keyed by name. This backs both the map markers and the overview table.
func (s *TemperatureService) Summary(ctx context.Context) ([]models.LocationSummary, error) {
	all, err := s.Readings(ctx)
	if err != nil {
		return nil, err
	}

	byLocation := make(map[string]*models.LocationSummary)
	var order []string
	for _, r := range all {
		sum, ok := byLocation[r.Location]
		if !ok {
			sum = &models.LocationSummary{
				Location:     r.Location,
				Latitude:     r.Latitude,
				Longitude:    r.Longitude,
				Temperatures: make(map[string]float64),
				ObservedAt:   r.ObservedAt,
			}
			byLocation[r.Location] = sum
			order = append(order, r.Location)
		}
		sum.Temperatures[r.ElementType] = r.Temperature
	}

	sort.Strings(order)
	out := make([]models.LocationSummary, 0, len(order))
	for _, loc := range order {
		out = append(out, *byLocation[loc])
	}
	return out, nil
}
