package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skalibog/fgiagent/pkg/models"
)

type funcNotifier func(ctx context.Context, ev models.TradeEvent) error

func (f funcNotifier) Notify(ctx context.Context, ev models.TradeEvent) error { return f(ctx, ev) }

func TestDispatcherSurvivesFailingSinks(t *testing.T) {
	var delivered atomic.Int32
	d := NewDispatcher(time.Second,
		funcNotifier(func(context.Context, models.TradeEvent) error { panic("boom") }),
		funcNotifier(func(context.Context, models.TradeEvent) error { return errors.New("down") }),
		funcNotifier(func(_ context.Context, ev models.TradeEvent) error {
			if ev.Timestamp.IsZero() {
				t.Error("timestamp not stamped")
			}
			delivered.Add(1)
			return nil
		}),
		LogNotifier{},
	)

	d.Send(models.TradeEvent{Type: models.EventTradeOpened})
	d.Send(models.TradeEvent{Type: models.EventTradeClosed})
	d.Wait()

	if delivered.Load() != 2 {
		t.Fatalf("delivered = %d, want 2", delivered.Load())
	}
}

func TestDiscordNotifier(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, time.Second)
	err := n.Notify(context.Background(), models.TradeEvent{
		Type: models.EventTradeClosed, Direction: models.Sell, LotID: "lot-1",
		BaseAmount: 1, QuoteAmount: 110, Price: 110, RealizedPnL: 10, Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %+v", got.Embeds)
	}
	e := got.Embeds[0]
	if e.Title != "Лот закрыт" || e.Color != colorSell || len(e.Fields) != 6 {
		t.Fatalf("embed = %+v", e)
	}
}

func TestDiscordNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL, time.Second).Notify(context.Background(), models.TradeEvent{Type: models.EventCycleFailed})
	if err == nil {
		t.Fatal("429 not reported")
	}
}
