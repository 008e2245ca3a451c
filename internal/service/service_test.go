package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/twweather/tempmap/internal/cache"
	"github.com/twweather/tempmap/internal/extract"
	"github.com/twweather/tempmap/internal/geo"
	"github.com/twweather/tempmap/internal/models"
)

type mockFetcher struct {
	doc   any
	err   error
	calls atomic.Int32
}

func (m *mockFetcher) FetchDataset(ctx context.Context) (any, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.doc, nil
}

type mockRepo struct {
	mu         sync.Mutex
	readings   []models.TemperatureReading
	replaceErr error
	listCalls  int
}

func (m *mockRepo) ReplaceReadings(ctx context.Context, readings []models.TemperatureReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.readings = append([]models.TemperatureReading(nil), readings...)
	return nil
}

func (m *mockRepo) ListReadings(ctx context.Context) ([]models.TemperatureReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]models.TemperatureReading(nil), m.readings...), nil
}

func (m *mockRepo) ListByLocation(ctx context.Context, location string) ([]models.TemperatureReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TemperatureReading
	for _, r := range m.readings {
		if r.Location == location {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepo) Locations(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, r := range m.readings {
		if _, ok := seen[r.Location]; !ok {
			seen[r.Location] = struct{}{}
			out = append(out, r.Location)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockRepo) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings), nil
}

func (m *mockRepo) stored() []models.TemperatureReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TemperatureReading(nil), m.readings...)
}

func docFromJSON(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("unmarshal test document: %v", err)
	}
	return doc
}

const taipeiDoc = `{
	"records": {
		"location": [
			{
				"locationName": "臺北",
				"weatherElement": [
					{"elementName": "MaxT", "elementValue": {"value": "33.5"}},
					{"elementName": "MinT", "elementValue": {"value": "26.1"}}
				]
			}
		]
	}
}`

func newTestService(fetcher *mockFetcher, repo *mockRepo, c cache.Cache) *TemperatureService {
	return NewTemperatureService(fetcher, repo, c, time.Minute, geo.NewResolver(""), time.Second, zap.NewNop())
}

func TestRefreshPipeline(t *testing.T) {
	fetcher := &mockFetcher{doc: docFromJSON(t, taipeiDoc)}
	repo := &mockRepo{}
	c := cache.NewInMemoryCache()
	svc := newTestService(fetcher, repo, c)

	// Seed the cache so the test can observe the post-refresh invalidation.
	stale := []models.TemperatureReading{{Location: "stale", ElementType: "MaxT", Temperature: 1}}
	if err := c.Set(context.Background(), cache.ReadingsKey, stale, time.Minute); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res, err := svc.Refresh(context.Background(), "api")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.Rows != 2 {
		t.Errorf("Refresh() rows = %d, want 2", res.Rows)
	}

	stored := repo.stored()
	if len(stored) != 2 {
		t.Fatalf("store holds %d readings, want 2", len(stored))
	}
	if stored[0].Latitude != 25.033 || stored[0].Longitude != 121.565 {
		t.Errorf("coordinates = (%v, %v), want 臺北 position", stored[0].Latitude, stored[0].Longitude)
	}

	if _, ok, _ := c.Get(context.Background(), cache.ReadingsKey); ok {
		t.Error("cache still holds the stale snapshot after refresh")
	}
}

func TestRefreshSkipsNonNumericValues(t *testing.T) {
	doc := docFromJSON(t, `{
		"location": "高雄",
		"weatherElement": [
			{"elementName": "MaxT", "elementValue": {"value": "31.2"}},
			{"elementName": "MinT", "elementValue": {"value": "N/A"}}
		]
	}`)
	fetcher := &mockFetcher{doc: doc}
	repo := &mockRepo{}
	svc := newTestService(fetcher, repo, nil)

	res, err := svc.Refresh(context.Background(), "api")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if res.Rows != 1 {
		t.Errorf("Refresh() rows = %d, want 1 (non-numeric value dropped)", res.Rows)
	}
}

func TestRefreshNoReadings(t *testing.T) {
	fetcher := &mockFetcher{doc: docFromJSON(t, `{"success": "true", "records": {}}`)}
	repo := &mockRepo{}
	svc := newTestService(fetcher, repo, nil)

	_, err := svc.Refresh(context.Background(), "api")
	if !errors.Is(err, ErrNoReadings) {
		t.Fatalf("Refresh() error = %v, want ErrNoReadings", err)
	}
	// The error carries the top-level keys so the operator can see what
	// shape came back.
	if !strings.Contains(err.Error(), "records") || !strings.Contains(err.Error(), "success") {
		t.Errorf("error %q does not name the top-level keys", err)
	}
}

func TestRefreshFetchError(t *testing.T) {
	wantErr := errors.New("upstream exploded")
	fetcher := &mockFetcher{err: wantErr}
	svc := newTestService(fetcher, &mockRepo{}, nil)

	_, err := svc.Refresh(context.Background(), "api")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Refresh() error = %v, want wrapped fetch error", err)
	}
}

func TestRefreshStoreError(t *testing.T) {
	wantErr := errors.New("disk full")
	fetcher := &mockFetcher{doc: docFromJSON(t, taipeiDoc)}
	repo := &mockRepo{replaceErr: wantErr}
	svc := newTestService(fetcher, repo, nil)

	_, err := svc.Refresh(context.Background(), "api")
	if !errors.Is(err, wantErr) {
		t.Fatalf("Refresh() error = %v, want wrapped store error", err)
	}
}

func TestRefreshIfEmpty(t *testing.T) {
	t.Run("empty store triggers refresh", func(t *testing.T) {
		fetcher := &mockFetcher{doc: docFromJSON(t, taipeiDoc)}
		repo := &mockRepo{}
		svc := newTestService(fetcher, repo, nil)

		if err := svc.RefreshIfEmpty(context.Background()); err != nil {
			t.Fatalf("RefreshIfEmpty() error = %v", err)
		}
		if fetcher.calls.Load() != 1 {
			t.Errorf("fetcher called %d times, want 1", fetcher.calls.Load())
		}
	})

	t.Run("populated store skips refresh", func(t *testing.T) {
		fetcher := &mockFetcher{doc: docFromJSON(t, taipeiDoc)}
		repo := &mockRepo{readings: []models.TemperatureReading{
			{Location: "臺北", ElementType: "MaxT", Temperature: 33.5},
		}}
		svc := newTestService(fetcher, repo, nil)

		if err := svc.RefreshIfEmpty(context.Background()); err != nil {
			t.Fatalf("RefreshIfEmpty() error = %v", err)
		}
		if fetcher.calls.Load() != 0 {
			t.Errorf("fetcher called %d times, want 0", fetcher.calls.Load())
		}
	})
}

func TestReadingsCacheAside(t *testing.T) {
	repo := &mockRepo{readings: []models.TemperatureReading{
		{Location: "臺北", ElementType: "MaxT", Temperature: 33.5},
	}}
	svc := newTestService(&mockFetcher{}, repo, cache.NewInMemoryCache())
	ctx := context.Background()

	first, err := svc.Readings(ctx)
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	second, err := svc.Readings(ctx)
	if err != nil {
		t.Fatalf("Readings() second call error = %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached snapshot differs: %+v vs %+v", first, second)
	}
	repo.mu.Lock()
	calls := repo.listCalls
	repo.mu.Unlock()
	if calls != 1 {
		t.Errorf("store queried %d times, want 1 (second read served from cache)", calls)
	}
}

func TestReadingsWithoutCache(t *testing.T) {
	repo := &mockRepo{readings: []models.TemperatureReading{
		{Location: "臺北", ElementType: "MaxT", Temperature: 33.5},
	}}
	svc := newTestService(&mockFetcher{}, repo, nil)
	ctx := context.Background()

	if _, err := svc.Readings(ctx); err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if _, err := svc.Readings(ctx); err != nil {
		t.Fatalf("Readings() second call error = %v", err)
	}
	repo.mu.Lock()
	calls := repo.listCalls
	repo.mu.Unlock()
	if calls != 2 {
		t.Errorf("store queried %d times, want 2 (caching disabled)", calls)
	}
}

func TestReadingsForLocation(t *testing.T) {
	repo := &mockRepo{readings: []models.TemperatureReading{
		{Location: "臺北", ElementType: "MaxT", Temperature: 33.5},
		{Location: "臺北", ElementType: "MinT", Temperature: 26.1},
		{Location: "高雄", ElementType: "MaxT", Temperature: 31.2},
	}}
	svc := newTestService(&mockFetcher{}, repo, nil)

	got, err := svc.ReadingsForLocation(context.Background(), " 臺北 ")
	if err != nil {
		t.Fatalf("ReadingsForLocation() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadingsForLocation(臺北) returned %d readings, want 2", len(got))
	}

	missing, err := svc.ReadingsForLocation(context.Background(), "月球")
	if err != nil {
		t.Fatalf("ReadingsForLocation(unknown) error = %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("ReadingsForLocation(unknown) returned %d readings, want 0", len(missing))
	}
}

func TestLocations(t *testing.T) {
	repo := &mockRepo{readings: []models.TemperatureReading{
		{Location: "高雄", ElementType: "MaxT", Temperature: 31.2},
		{Location: "臺北", ElementType: "MaxT", Temperature: 33.5},
		{Location: "臺北", ElementType: "MinT", Temperature: 26.1},
	}}
	svc := newTestService(&mockFetcher{}, repo, nil)

	got, err := svc.Locations(context.Background())
	if err != nil {
		t.Fatalf("Locations() error = %v", err)
	}
	want := []string{"臺北", "高雄"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Locations() = %v, want %v", got, want)
	}
}

func TestSummaryPivot(t *testing.T) {
	observedAt := time.Now().UTC()
	repo := &mockRepo{readings: []models.TemperatureReading{
		{Location: "臺北", ElementType: "MaxT", Temperature: 33.5, Latitude: 25.033, Longitude: 121.565, ObservedAt: observedAt},
		{Location: "臺北", ElementType: "MinT", Temperature: 26.1, Latitude: 25.033, Longitude: 121.565, ObservedAt: observedAt},
		{Location: "高雄", ElementType: "MaxT", Temperature: 31.2, Latitude: 22.627, Longitude: 120.301, ObservedAt: observedAt},
	}}
	svc := newTestService(&mockFetcher{}, repo, nil)

	got, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Summary() returned %d locations, want 2", len(got))
	}

	taipei := got[0]
	if taipei.Location != "臺北" {
		t.Fatalf("first summary location = %q, want 臺北 (sorted)", taipei.Location)
	}
	wantTemps := map[string]float64{"MaxT": 33.5, "MinT": 26.1}
	if !reflect.DeepEqual(taipei.Temperatures, wantTemps) {
		t.Errorf("臺北 temperatures = %v, want %v", taipei.Temperatures, wantTemps)
	}
	if taipei.Latitude != 25.033 {
		t.Errorf("臺北 latitude = %v, want 25.033", taipei.Latitude)
	}
}

func TestConvert(t *testing.T) {
	resolver := geo.NewResolver("")
	observedAt := time.Now().UTC()

	tests := []struct {
		name     string
		raw      []extract.RawReading
		wantLen  int
		wantTemp float64
	}{
		{
			name:     "numeric value",
			raw:      []extract.RawReading{{Location: "臺北", ElementType: "MaxT", Value: "33.5"}},
			wantLen:  1,
			wantTemp: 33.5,
		},
		{
			name:     "value with surrounding whitespace",
			raw:      []extract.RawReading{{Location: "臺北", ElementType: "MaxT", Value: " 28.0 "}},
			wantLen:  1,
			wantTemp: 28.0,
		},
		{
			name:    "non-numeric dropped",
			raw:     []extract.RawReading{{Location: "臺北", ElementType: "Wx", Value: "Cloudy"}},
			wantLen: 0,
		},
		{
			name:    "sentinel out of range dropped",
			raw:     []extract.RawReading{{Location: "臺北", ElementType: "MaxT", Value: "-99"}},
			wantLen: 0,
		},
		{
			name:    "absurdly hot dropped",
			raw:     []extract.RawReading{{Location: "臺北", ElementType: "MaxT", Value: "120"}},
			wantLen: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Convert(tc.raw, resolver, observedAt, zap.NewNop())
			if len(got) != tc.wantLen {
				t.Fatalf("Convert() returned %d readings, want %d", len(got), tc.wantLen)
			}
			if tc.wantLen == 1 && got[0].Temperature != tc.wantTemp {
				t.Errorf("temperature = %v, want %v", got[0].Temperature, tc.wantTemp)
			}
		})
	}
}

func TestConvertEnrichesCoordinates(t *testing.T) {
	resolver := geo.NewResolver("")
	raw := []extract.RawReading{
		{Location: "恆春", ElementType: "Temp", Value: "24.9"},
		{Location: "無名站", ElementType: "Temp", Value: "20.0"},
	}

	got := Convert(raw, resolver, time.Now().UTC(), zap.NewNop())
	if len(got) != 2 {
		t.Fatalf("Convert() returned %d readings, want 2", len(got))
	}
	if !got[0].HasCoordinates() {
		t.Errorf("恆春 reading missing coordinates: %+v", got[0])
	}
	if got[1].HasCoordinates() {
		t.Errorf("unknown station gained coordinates: %+v", got[1])
	}
}
