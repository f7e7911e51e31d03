package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/models"
)

func sampleSnapshot() models.Snapshot {
	closed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	price := 120.0
	return models.Snapshot{
		Position: models.PositionState{BaseBalance: 1.5, QuoteBalance: 40, InitialPrice: 100, CycleCount: 7},
		Lots: []models.Lot{
			{ID: "a", Direction: models.Buy, EntryPrice: 100, BaseAmount: 0.5, QuoteValue: 50, Status: models.LotClosed,
				RealizedPnL: 10, ClosedAt: &closed, ClosePrice: &price},
			{ID: "a/r1", ParentID: "a", Direction: models.Buy, EntryPrice: 100, BaseAmount: 0.1, QuoteValue: 10, Status: models.LotOpen},
		},
		Strategy: models.StrategyState{
			Streak:     models.StreakState{Readings: []models.StreakReading{{Sentiment: models.Fear, Value: 30}}, Threshold: 3},
			Allocation: models.AllocationState{Side: models.SideBelow, BelowCount: 2},
		},
		SignalHistory: []float64{30, 31},
	}
}

func TestFileStateStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStateStore(filepath.Join(dir, "nested", "state.json"))

	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load on empty = %v, want ErrNoSnapshot", err)
	}

	if err := store.Save(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != SnapshotVersion || got.SavedAt.IsZero() {
		t.Fatalf("version/saved_at not stamped: %+v", got)
	}
	if len(got.Lots) != 2 || got.Lots[1].ParentID != "a" || *got.Lots[0].ClosePrice != 120 {
		t.Fatalf("lots = %+v", got.Lots)
	}
	if got.Strategy.Allocation.Side != models.SideBelow || got.Strategy.Streak.Len() != 1 {
		t.Fatalf("strategy = %+v", got.Strategy)
	}
	if got.Position.CycleCount != 7 {
		t.Fatalf("position = %+v", got.Position)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "nested"))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFileStateStoreRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version": 99}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStateStore(path).Load(context.Background()); err == nil {
		t.Fatal("newer snapshot version accepted")
	}
}

func TestFileStateStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	os.WriteFile(path, []byte(`{"version":`), 0o644)
	_, err := NewFileStateStore(path).Load(context.Background())
	if err == nil || errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("corrupt file err = %v", err)
	}
}

func TestNewStateStore(t *testing.T) {
	store, err := NewStateStore(context.Background(), config.StorageConfig{Type: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*FileStateStore); !ok {
		t.Fatalf("store = %T", store)
	}
	if _, err := NewStateStore(context.Background(), config.StorageConfig{Type: "redis"}); err == nil {
		t.Fatal("unknown type accepted")
	}
	if _, err := NewStateStore(context.Background(), config.StorageConfig{Type: "postgres"}); err == nil {
		t.Fatal("postgres without url accepted")
	}
}

func TestPostgresStateStore(t *testing.T) {
	url := os.Getenv("FGI_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("FGI_TEST_POSTGRES_URL не задан")
	}
	ctx := context.Background()
	store, err := NewPostgresStateStore(ctx, url, "test-"+time.Now().Format("150405.000"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Close)

	if _, err := store.Load(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Load on empty = %v", err)
	}
	if err := store.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	snap := sampleSnapshot()
	snap.Position.CycleCount = 8
	if err := store.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx)
	if err != nil || got.Position.CycleCount != 8 {
		t.Fatalf("Load = %+v, %v", got, err)
	}
}

func TestInfluxDBRecorderWrites(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"influxdb","message":"ready for queries and writes","status":"pass","checks":[],"version":"2.7.0","commit":"dev"}`))
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			lines = append(lines, string(body))
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rec, err := NewInfluxDBRecorder(context.Background(), config.StorageConfig{
		AgentID: "a1",
		Influx:  config.InfluxConfig{URL: srv.URL, Token: "t", Organization: "org", Bucket: "fgi"},
	})
	if err != nil {
		t.Fatalf("NewInfluxDBRecorder: %v", err)
	}
	defer rec.Close()

	now := time.Unix(1_700_000_000, 0)
	if err := rec.RecordCycle(context.Background(), models.CycleRecord{
		CycleID: "c1", Result: "traded", Sentiment: models.Fear, Value: 30, Price: 100, PortfolioValue: 200, Timestamp: now,
	}); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}
	if err := rec.RecordTrade(context.Background(), models.TradeEvent{
		Type: models.EventTradeClosed, CycleID: "c1", LotID: "l1", Direction: models.Sell,
		BaseAmount: 1, QuoteAmount: 110, Price: 110, RealizedPnL: 10, Timestamp: now,
	}); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	all := strings.Join(lines, "\n")
	if !strings.Contains(all, "cycles,agent=a1") || !strings.Contains(all, "portfolio_value=200") {
		t.Fatalf("cycle line missing: %q", all)
	}
	if !strings.Contains(all, "trades,agent=a1") || !strings.Contains(all, "realized_pnl=10") {
		t.Fatalf("trade line missing: %q", all)
	}
}

func TestInfluxDBRecorderUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"name":"influxdb","status":"fail","message":"starting"}`))
	}))
	defer srv.Close()

	if _, err := NewInfluxDBRecorder(context.Background(), config.StorageConfig{
		Influx: config.InfluxConfig{URL: srv.URL, Token: "t", Organization: "org", Bucket: "fgi"},
	}); err == nil {
		t.Fatal("unhealthy influx accepted")
	}
}
