package ui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/skalibog/fgiagent/internal/agent"
	"github.com/skalibog/fgiagent/internal/config"
	"github.com/skalibog/fgiagent/pkg/models"
)

type fakeSource struct {
	cancelled int
	last      *agent.CycleReport
	open      []models.Lot
}

func (f *fakeSource) Strategy() string                 { return "direct" }
func (f *fakeSource) Running() bool                    { return false }
func (f *fakeSource) LastCycle() *agent.CycleReport    { return f.last }
func (f *fakeSource) GetStatistics() models.Statistics { return models.Statistics{} }
func (f *fakeSource) GetOpenLots() []models.Lot        { return f.open }
func (f *fakeSource) GetClosedLots() []models.Lot      { return nil }
func (f *fakeSource) CancelInFlight()                  { f.cancelled++ }

func TestFormatLogLine(t *testing.T) {
	line := `{"level":"WARN","ts":"02.03.2026 - 10:11:12.000000000Z","caller":"agent/cycle.go:10","msg":"Повтор","attempt":2,"cycle_id":"c1"}`
	got := formatLogLine(line)
	want := "[10:11:12] [WARN] Повтор (attempt: 2) (cycle_id: c1)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if formatLogLine("plain text") != "plain text" {
		t.Fatal("non-JSON line altered")
	}
}

func TestReadLogsKeepsTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json.log")
	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString(`{"level":"INFO","msg":"m` + string(rune('0'+i)) + `"}` + "\n")
	}
	os.WriteFile(path, []byte(b.String()), 0o644)

	logs, err := readLogs(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || !strings.HasSuffix(logs[1], "m4") {
		t.Fatalf("logs = %v", logs)
	}
	if logs, err := readLogs(filepath.Join(t.TempDir(), "missing"), 2); err != nil || logs != nil {
		t.Fatalf("missing file = %v, %v", logs, err)
	}
}

func TestModelKeysAndView(t *testing.T) {
	src := &fakeSource{
		last: &agent.CycleReport{Result: agent.CycleTraded, Sentiment: models.Fear, Value: 30, Price: 100, StartedAt: time.Now()},
		open: []models.Lot{{ID: "lot-1", Direction: models.Buy, BaseAmount: 0.1, EntryPrice: 100}},
	}
	ui := NewTermUI(config.UIConfig{}, config.Default().Pair, "", src)
	m := newModel(ui)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}})
	if src.cancelled != 1 {
		t.Fatal("cancel key not forwarded")
	}

	view := next.View()
	for _, want := range []string{"SOL/USDC", "lot-1", "FEAR", "Запрошена отмена"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}

	if _, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}); cmd == nil {
		t.Fatal("quit key returned no command")
	}
}
