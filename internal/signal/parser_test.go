package signal

import (
	"errors"
	"testing"

	"github.com/kirillm/signal-executor/internal/domain"
)

func TestParse_OpenLong(t *testing.T) {
	payload := `{"trade_extractions": [{
		"ticker": "eth",
		"direction": "long",
		"trade_type": "open",
		"entry_price": 2450.5,
		"take_profit": [2520.0, 2580.0],
		"stop_loss": 2350.0,
		"leverage": 3,
		"confidence": 0.85,
		"asset_name": "Ethereum"
	}]}`

	sig, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if sig == nil {
		t.Fatal("Parse() returned nil signal")
	}
	if sig.Ticker != "ETH" {
		t.Errorf("Ticker = %v, want ETH", sig.Ticker)
	}
	if sig.Direction != domain.DirectionLong {
		t.Errorf("Direction = %v, want long", sig.Direction)
	}
	if sig.TradeType != domain.TradeOpen {
		t.Errorf("TradeType = %v, want open", sig.TradeType)
	}
	if sig.EntryPrice == nil || *sig.EntryPrice != 2450.5 {
		t.Errorf("EntryPrice = %v, want 2450.5", sig.EntryPrice)
	}
	if len(sig.TakeProfits) != 2 || sig.TakeProfits[0] != 2520.0 || sig.TakeProfits[1] != 2580.0 {
		t.Errorf("TakeProfits = %v, want [2520 2580]", sig.TakeProfits)
	}
	if sig.StopLoss == nil || *sig.StopLoss != 2350.0 {
		t.Errorf("StopLoss = %v, want 2350", sig.StopLoss)
	}
	if sig.Leverage != 3 {
		t.Errorf("Leverage = %v, want 3", sig.Leverage)
	}
	if sig.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", sig.Confidence)
	}
}

func TestParse_SingleTakeProfit(t *testing.T) {
	payload := `{"trade_extractions": [{"ticker": "BTC", "direction": "short", "take_profit": 61000}]}`

	sig, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(sig.TakeProfits) != 1 || sig.TakeProfits[0] != 61000 {
		t.Errorf("TakeProfits = %v, want [61000]", sig.TakeProfits)
	}
	if sig.Direction != domain.DirectionShort {
		t.Errorf("Direction = %v, want short", sig.Direction)
	}
}

func TestParse_Close(t *testing.T) {
	payload := `{"trade_extractions": [{
		"ticker": "SOL",
		"direction": "long",
		"trade_type": "close",
		"entry_price": 140.0,
		"close_percentage": 50
	}]}`

	sig, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !sig.IsClose() {
		t.Error("IsClose() = false, want true")
	}
	if sig.EntryPrice != nil {
		t.Errorf("EntryPrice = %v, want nil for close", sig.EntryPrice)
	}
	if sig.ClosePercent != 50 {
		t.Errorf("ClosePercent = %v, want 50", sig.ClosePercent)
	}
}

func TestParse_BareExtraction(t *testing.T) {
	payload := `{"ticker": "DOGE", "direction": "long"}`

	sig, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if sig.Ticker != "DOGE" {
		t.Errorf("Ticker = %v, want DOGE", sig.Ticker)
	}
}

func TestParse_NoSignal(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty extractions", `{"trade_extractions": []}`},
		{"unrelated json", `{"message": "hello"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Parse([]byte(tt.payload))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if sig != nil {
				t.Errorf("Parse() = %v, want nil", sig)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `buy ETH now!!!`},
		{"empty", ``},
		{"missing ticker", `{"trade_extractions": [{"direction": "long"}]}`},
		{"missing direction", `{"trade_extractions": [{"ticker": "ETH"}]}`},
		{"bad direction", `{"trade_extractions": [{"ticker": "ETH", "direction": "sideways"}]}`},
		{"bad trade_type", `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "trade_type": "hold", "entry_price": 2450}]}`},
		{"confidence too high", `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "confidence": 1.5}]}`},
		{"confidence negative", `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "confidence": -0.1}]}`},
		{"leverage too high", `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "leverage": 150}]}`},
		{"leverage zero", `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "leverage": 0.5}]}`},
		{"tp wrong type", `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "take_profit": "soon"}]}`},
		{"close_percentage over 100", `{"trade_extractions": [{"ticker": "ETH", "direction": "close", "close_percentage": 120}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload))
			if !errors.Is(err, domain.ErrMalformedSignal) {
				t.Errorf("Parse() error = %v, want ErrMalformedSignal", err)
			}
		})
	}
}

func TestParse_DefaultConfidence(t *testing.T) {
	sig, err := Parse([]byte(`{"trade_extractions": [{"ticker": "ETH", "direction": "long"}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if sig.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want default 0.9", sig.Confidence)
	}
}

func TestParse_NegativePricesDropped(t *testing.T) {
	payload := `{"trade_extractions": [{"ticker": "ETH", "direction": "long", "entry_price": -5, "stop_loss": -1}]}`
	sig, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if sig.EntryPrice != nil || sig.StopLoss != nil {
		t.Errorf("negative prices should be dropped, got entry=%v sl=%v", sig.EntryPrice, sig.StopLoss)
	}
}
