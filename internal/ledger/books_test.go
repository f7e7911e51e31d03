package ledger

import (
	"testing"

	"github.com/skalibog/fgiagent/pkg/models"
)

func newTestBooks() *Books {
	pos := NewPosition(models.PositionState{})
	pos.Bootstrap(1, 1000, 100)
	return NewBooks(newTestBook(), pos)
}

func TestReconcileOpen(t *testing.T) {
	b := newTestBooks()
	out, err := b.Reconcile(Fill{Ref: "t1", Direction: models.Buy, BaseAmount: 1, QuoteAmount: 100, Price: 100})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if out.Lot.ID != "t1" || !out.Lot.IsOpen() || out.Closed {
		t.Fatalf("outcome = %+v", out)
	}
	if base, quote := b.Position.Balances(); base != 2 || quote != 900 {
		t.Fatalf("balances = %v/%v", base, quote)
	}
}

func TestReconcileFullAndPartialClose(t *testing.T) {
	b := newTestBooks()
	b.Reconcile(Fill{Ref: "long", Direction: models.Buy, BaseAmount: 1, QuoteAmount: 100, Price: 100})
	b.Reconcile(Fill{Ref: "short", Direction: models.Sell, BaseAmount: 1, QuoteAmount: 100, Price: 100})

	out, err := b.Reconcile(Fill{Ref: "c1", Direction: models.Sell, BaseAmount: 1, QuoteAmount: 110, Price: 110, ClosingLotID: "long", Complete: true})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Closed || out.Partial || out.RealizedPnL != 10 {
		t.Fatalf("full close outcome = %+v", out)
	}

	out, err = b.Reconcile(Fill{Ref: "c2", Direction: models.Buy, BaseAmount: 0.5, QuoteAmount: 45, Price: 90, ClosingLotID: "short"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Partial || out.Remainder == nil || out.Remainder.BaseAmount != 0.5 {
		t.Fatalf("partial outcome = %+v", out)
	}
	if out.RealizedPnL != 5 {
		t.Fatalf("partial pnl = %v, want 5", out.RealizedPnL)
	}
	if len(b.Lots.OpenLots()) != 1 {
		t.Fatalf("open lots = %d, want remainder only", len(b.Lots.OpenLots()))
	}
}

func TestReconcileRejectsBadFillWithoutMutation(t *testing.T) {
	b := newTestBooks()
	pos, lots := b.Snapshot()
	if _, err := b.Reconcile(Fill{Ref: "bad", Direction: models.Buy, BaseAmount: 0, QuoteAmount: 1, Price: 1}); err == nil {
		t.Fatal("expected error")
	}
	pos2, lots2 := b.Snapshot()
	if pos != pos2 || len(lots) != len(lots2) {
		t.Fatal("bad fill mutated books")
	}
}

func TestBooksRestore(t *testing.T) {
	b := newTestBooks()
	b.Reconcile(Fill{Ref: "t1", Direction: models.Buy, BaseAmount: 1, QuoteAmount: 100, Price: 100})
	pos, lots := b.Snapshot()

	r := NewBooks(NewLotBook(), NewPosition(models.PositionState{}))
	r.Restore(models.Snapshot{Position: pos, Lots: lots})
	if r.Position.State() != pos || len(r.Lots.All()) != 1 {
		t.Fatal("restore mismatch")
	}
}

func TestReconcileSameBundleTwiceAppliesOnce(t *testing.T) {
	b := newTestBooks()
	open := Fill{Ref: "t1", Direction: models.Buy, BaseAmount: 1, QuoteAmount: 100, Price: 100}
	b.Reconcile(open)
	out, err := b.Reconcile(open)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Duplicate || out.Lot.ID != "t1" {
		t.Fatalf("outcome = %+v", out)
	}
	if base, quote := b.Position.Balances(); base != 2 || quote != 900 {
		t.Fatalf("balances after repeat = %v/%v, want 2/900", base, quote)
	}

	closing := Fill{Ref: "c1", Direction: models.Sell, BaseAmount: 1, QuoteAmount: 110, Price: 110, ClosingLotID: "t1", Complete: true}
	b.Reconcile(closing)
	out, err = b.Reconcile(closing)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Duplicate || out.RealizedPnL != 10 {
		t.Fatalf("repeat close outcome = %+v", out)
	}
	if base, quote := b.Position.Balances(); base != 1 || quote != 1010 {
		t.Fatalf("balances after repeat close = %v/%v, want 1/1010", base, quote)
	}
	if st := b.Lots.Statistics(); st.ClosedCount != 1 || st.TotalRealizedPnL != 10 {
		t.Fatalf("statistics = %+v", st)
	}
}
