package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

type fakeExchange struct {
	spec  *domain.InstrumentSpec
	err   error
	calls int
}

func (f *fakeExchange) GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentSpec, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.spec, nil
}

func ethSpec() *domain.InstrumentSpec {
	return &domain.InstrumentSpec{
		Symbol:    "ETH",
		StepSize:  0.0001,
		MinSize:   0.0001,
		MarkPrice: 2450.0,
	}
}

func testConfig() Config {
	return Config{
		PositionSizeUSD:  100,
		DefaultLeverage:  2,
		TPPercent:        0.05,
		SLPercent:        0.02,
		DeviationPercent: 0.05,
	}
}

func ethLong() *domain.Signal {
	entry := 2450.0
	sl := 2350.0
	return &domain.Signal{
		Ticker:      "ETH",
		Direction:   domain.DirectionLong,
		TradeType:   domain.TradeOpen,
		EntryPrice:  &entry,
		TakeProfits: []float64{2520.0, 2580.0},
		StopLoss:    &sl,
		Leverage:    3,
		Confidence:  0.85,
		ReceivedAt:  time.Unix(1717000000, 0),
	}
}

// Сценарий из сигнального канала: 2 TP + SL дает 4 интента
func TestPlan_OpenWithTwoTPAndSL(t *testing.T) {
	ex := &fakeExchange{spec: ethSpec()}
	p := New(ex, testConfig())

	intents, err := p.Plan(context.Background(), ethLong(), "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(intents) != 4 {
		t.Fatalf("len(intents) = %d, want 4 (entry + 2 TP + SL)", len(intents))
	}

	entry := intents[0]
	if entry.Role != domain.RoleEntry {
		t.Errorf("intents[0].Role = %v, want entry", entry.Role)
	}
	if entry.Side != domain.SideBuy {
		t.Errorf("entry side = %v, want buy", entry.Side)
	}
	if entry.ReduceOnly {
		t.Error("entry should not be reduce-only")
	}
	if entry.Type != domain.OrderTypeMarket {
		t.Errorf("entry type = %v, want market (price within deviation)", entry.Type)
	}

	var tpCount, slCount, reduceOnly int
	for _, in := range intents[1:] {
		if !in.ReduceOnly {
			t.Errorf("%s intent must be reduce-only", in.Role)
		} else {
			reduceOnly++
		}
		if in.Side != domain.SideSell {
			t.Errorf("%s side = %v, want sell", in.Role, in.Side)
		}
		switch in.Role {
		case domain.RoleTakeProfit:
			tpCount++
		case domain.RoleStopLoss:
			slCount++
		}
	}
	if tpCount != 2 || slCount != 1 {
		t.Errorf("tp = %d, sl = %d, want 2 and 1", tpCount, slCount)
	}

	if intents[1].Price == nil || *intents[1].Price != 2520.0 {
		t.Errorf("first TP price = %v, want 2520", intents[1].Price)
	}
	if intents[3].TriggerPrice == nil || *intents[3].TriggerPrice != 2350.0 {
		t.Errorf("SL trigger = %v, want 2350", intents[3].TriggerPrice)
	}
}

func TestPlan_NoSLGivesNIntents(t *testing.T) {
	sig := ethLong()
	sig.StopLoss = nil
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	intents, err := p.Plan(context.Background(), sig, "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	// N TP + вход, без SL
	if len(intents) != 3 {
		t.Errorf("len(intents) = %d, want 3", len(intents))
	}
	for _, in := range intents {
		if in.Role == domain.RoleStopLoss {
			t.Error("unexpected SL intent")
		}
	}
}

func TestPlan_DefaultTPSLWhenEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTPSL = true
	sig := ethLong()
	sig.TakeProfits = nil
	sig.StopLoss = nil
	p := New(&fakeExchange{spec: ethSpec()}, cfg)

	intents, err := p.Plan(context.Background(), sig, "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(intents) != 3 {
		t.Fatalf("len(intents) = %d, want 3 (entry + default TP + default SL)", len(intents))
	}
	// long: TP выше входа, SL ниже
	if *intents[1].Price <= 2450.0 {
		t.Errorf("default TP = %v, want above entry", *intents[1].Price)
	}
	if *intents[2].TriggerPrice >= 2450.0 {
		t.Errorf("default SL = %v, want below entry", *intents[2].TriggerPrice)
	}
}

func TestPlan_ShortSides(t *testing.T) {
	sig := ethLong()
	sig.Direction = domain.DirectionShort
	sig.TakeProfits = []float64{2380.0}
	sl := 2510.0
	sig.StopLoss = &sl
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	intents, err := p.Plan(context.Background(), sig, "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if intents[0].Side != domain.SideSell {
		t.Errorf("entry side = %v, want sell", intents[0].Side)
	}
	for _, in := range intents[1:] {
		if in.Side != domain.SideBuy {
			t.Errorf("%s side = %v, want buy", in.Role, in.Side)
		}
	}
}

func TestPlan_LimitEntryOnLargeDeviation(t *testing.T) {
	sig := ethLong()
	entry := 2000.0 // далеко от mark 2450
	sig.EntryPrice = &entry
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	intents, err := p.Plan(context.Background(), sig, "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if intents[0].Type != domain.OrderTypeLimit {
		t.Errorf("entry type = %v, want limit", intents[0].Type)
	}
	if intents[0].Price == nil || *intents[0].Price != 2000.0 {
		t.Errorf("entry price = %v, want 2000", intents[0].Price)
	}
}

func TestPlan_BelowMinimumSize(t *testing.T) {
	spec := ethSpec()
	spec.StepSize = 1.0 // 100 USD / 2450 округляется к нулю
	spec.MinSize = 1.0
	p := New(&fakeExchange{spec: spec}, testConfig())

	_, err := p.Plan(context.Background(), ethLong(), "ETH", nil)
	if !errors.Is(err, domain.ErrBelowMinimumSize) {
		t.Errorf("Plan() error = %v, want ErrBelowMinimumSize", err)
	}
}

func TestPlan_DefaultLeverageApplied(t *testing.T) {
	sig := ethLong()
	sig.Leverage = 0
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	intents, err := p.Plan(context.Background(), sig, "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if intents[0].Leverage != 2 {
		t.Errorf("entry leverage = %d, want default 2", intents[0].Leverage)
	}
}

func TestPlan_CloseFullPosition(t *testing.T) {
	sig := &domain.Signal{
		Ticker:     "ETH",
		Direction:  domain.DirectionClose,
		TradeType:  domain.TradeClose,
		Confidence: 0.9,
		ReceivedAt: time.Unix(1717000000, 0),
	}
	positions := []domain.Position{
		{Symbol: "BTC", Side: domain.SideBuy, Size: 0.5},
		{Symbol: "ETH", Side: domain.SideBuy, Size: 0.0407, EntryPrice: 2400},
	}
	ex := &fakeExchange{spec: ethSpec()}
	p := New(ex, testConfig())

	intents, err := p.Plan(context.Background(), sig, "ETH", positions)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("len(intents) = %d, want 1", len(intents))
	}
	in := intents[0]
	if !in.ReduceOnly || in.Type != domain.OrderTypeMarket {
		t.Errorf("close intent = %+v, want reduce-only market", in)
	}
	if in.Side != domain.SideSell {
		t.Errorf("close side = %v, want sell (opposite of long)", in.Side)
	}
	// Полное закрытие: ровно отслеживаемый размер, без округления
	if in.Quantity != 0.0407 {
		t.Errorf("close qty = %v, want exactly 0.0407", in.Quantity)
	}
	if ex.calls != 0 {
		t.Errorf("GetInstrument calls = %d, want 0 for full close", ex.calls)
	}
}

func TestPlan_ClosePartial(t *testing.T) {
	sig := &domain.Signal{
		Ticker:       "ETH",
		Direction:    domain.DirectionClose,
		TradeType:    domain.TradeClose,
		ClosePercent: 50,
		Confidence:   0.9,
		ReceivedAt:   time.Unix(1717000000, 0),
	}
	positions := []domain.Position{{Symbol: "ETH", Side: domain.SideSell, Size: 0.04}}
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	intents, err := p.Plan(context.Background(), sig, "ETH", positions)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got := intents[0].Quantity; got != 0.02 {
		t.Errorf("partial close qty = %v, want 0.02", got)
	}
	if intents[0].Side != domain.SideBuy {
		t.Errorf("close side = %v, want buy (opposite of short)", intents[0].Side)
	}
}

func TestPlan_CloseNoPosition(t *testing.T) {
	sig := &domain.Signal{
		Ticker:     "ETH",
		Direction:  domain.DirectionClose,
		TradeType:  domain.TradeClose,
		Confidence: 0.9,
	}
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	_, err := p.Plan(context.Background(), sig, "ETH", nil)
	if !errors.Is(err, domain.ErrNoOpenPosition) {
		t.Errorf("Plan() error = %v, want ErrNoOpenPosition", err)
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	sig := ethLong()
	k1 := idempotencyKey(sig, domain.RoleEntry, 0)
	k2 := idempotencyKey(sig, domain.RoleEntry, 0)
	if k1 != k2 {
		t.Errorf("same signal+role produced different keys: %s vs %s", k1, k2)
	}

	if k1 == idempotencyKey(sig, domain.RoleTakeProfit, 0) {
		t.Error("different roles must produce different keys")
	}
	if idempotencyKey(sig, domain.RoleTakeProfit, 0) == idempotencyKey(sig, domain.RoleTakeProfit, 1) {
		t.Error("different TP levels must produce different keys")
	}

	other := ethLong()
	other.ReceivedAt = other.ReceivedAt.Add(time.Hour)
	if k1 == idempotencyKey(other, domain.RoleEntry, 0) {
		t.Error("signals received at different times must produce different keys")
	}
}

func TestPlan_TPQuantitySplit(t *testing.T) {
	p := New(&fakeExchange{spec: ethSpec()}, testConfig())

	intents, err := p.Plan(context.Background(), ethLong(), "ETH", nil)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	entryQty := intents[0].Quantity
	var tpTotal float64
	for _, in := range intents {
		if in.Role == domain.RoleTakeProfit {
			tpTotal += in.Quantity
		}
	}
	if diff := tpTotal - entryQty; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("sum of TP quantities = %v, want entry qty %v", tpTotal, entryQty)
	}
}
