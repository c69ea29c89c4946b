package signal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// rawExtraction форма одного trade extraction из upstream-анализатора.
// take_profit может прийти и числом, и списком, поэтому RawMessage.
type rawExtraction struct {
	Ticker          string          `json:"ticker"`
	Direction       string          `json:"direction"`
	TradeType       string          `json:"trade_type"`
	EntryPrice      *float64        `json:"entry_price"`
	ExitPrice       *float64        `json:"exit_price"`
	TakeProfit      json.RawMessage `json:"take_profit"`
	StopLoss        *float64        `json:"stop_loss"`
	Leverage        *float64        `json:"leverage"`
	Confidence      *float64        `json:"confidence"`
	AssetName       string          `json:"asset_name"`
	ClosePercentage *float64        `json:"close_percentage"`
}

type rawPayload struct {
	TradeExtractions []rawExtraction `json:"trade_extractions"`
}

// Parse разбирает JSON-payload в нормализованный Signal.
// Возвращает (nil, nil) если payload корректный JSON, но торгового
// сигнала не содержит. Нарушение формы или границ — ErrMalformedSignal.
func Parse(data []byte) (*domain.Signal, error) {
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrMalformedSignal)
	}

	var payload rawPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSignal, err)
	}

	var raw rawExtraction
	if len(payload.TradeExtractions) > 0 {
		// Берем первый extraction, как делает upstream
		raw = payload.TradeExtractions[0]
	} else {
		// Допускаем extraction без обертки
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedSignal, err)
		}
		if raw.Ticker == "" && raw.Direction == "" {
			// JSON без торговых полей - не сигнал
			return nil, nil
		}
	}

	return normalize(&raw)
}

func normalize(raw *rawExtraction) (*domain.Signal, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw.Ticker))
	if ticker == "" {
		return nil, fmt.Errorf("%w: ticker is required", domain.ErrMalformedSignal)
	}

	direction, tradeType, err := resolveKind(raw.Direction, raw.TradeType)
	if err != nil {
		return nil, err
	}

	// Confidence по умолчанию 0.9: upstream-анализатор шлет структурированный JSON
	confidence := 0.9
	if raw.Confidence != nil {
		confidence = *raw.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %.2f out of [0,1]", domain.ErrMalformedSignal, confidence)
	}

	leverage := 0
	if raw.Leverage != nil {
		leverage = int(*raw.Leverage)
		if leverage < 1 || leverage > 100 {
			return nil, fmt.Errorf("%w: leverage %d out of [1,100]", domain.ErrMalformedSignal, leverage)
		}
	}

	takeProfits, err := coerceTakeProfits(raw.TakeProfit)
	if err != nil {
		return nil, err
	}

	sig := &domain.Signal{
		Ticker:     ticker,
		AssetName:  strings.TrimSpace(raw.AssetName),
		Direction:  direction,
		TradeType:  tradeType,
		Leverage:   leverage,
		Confidence: confidence,
		ReceivedAt: time.Now().UTC(),
	}

	if tradeType == domain.TradeClose {
		// Для закрытия цены входа/TP/SL игнорируются
		if raw.ClosePercentage != nil {
			pct := *raw.ClosePercentage
			if pct <= 0 || pct > 100 {
				return nil, fmt.Errorf("%w: close_percentage %.1f out of (0,100]", domain.ErrMalformedSignal, pct)
			}
			sig.ClosePercent = pct
		}
		return sig, nil
	}

	sig.EntryPrice = positivePrice(raw.EntryPrice)
	sig.StopLoss = positivePrice(raw.StopLoss)
	sig.TakeProfits = takeProfits
	return sig, nil
}

// resolveKind сводит direction/trade_type к каноничной паре
func resolveKind(direction, tradeType string) (domain.Direction, domain.TradeType, error) {
	d := strings.ToLower(strings.TrimSpace(direction))
	t := strings.ToLower(strings.TrimSpace(tradeType))

	if t == "close" || d == "close" {
		dir := domain.DirectionClose
		if d == "long" {
			dir = domain.DirectionLong
		} else if d == "short" {
			dir = domain.DirectionShort
		}
		return dir, domain.TradeClose, nil
	}

	if t != "" && t != "open" {
		return "", "", fmt.Errorf("%w: unknown trade_type %q", domain.ErrMalformedSignal, tradeType)
	}

	switch d {
	case "long":
		return domain.DirectionLong, domain.TradeOpen, nil
	case "short":
		return domain.DirectionShort, domain.TradeOpen, nil
	case "":
		return "", "", fmt.Errorf("%w: direction is required", domain.ErrMalformedSignal)
	default:
		return "", "", fmt.Errorf("%w: unknown direction %q", domain.ErrMalformedSignal, direction)
	}
}

// coerceTakeProfits принимает число или список чисел
func coerceTakeProfits(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var single float64
	if err := json.Unmarshal(raw, &single); err == nil {
		if single <= 0 {
			return nil, fmt.Errorf("%w: take_profit must be positive", domain.ErrMalformedSignal)
		}
		return []float64{single}, nil
	}

	var list []float64
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: take_profit must be a number or list: %v", domain.ErrMalformedSignal, err)
	}
	for _, tp := range list {
		if tp <= 0 {
			return nil, fmt.Errorf("%w: take_profit must be positive", domain.ErrMalformedSignal)
		}
	}
	return list, nil
}

func positivePrice(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	price := *v
	return &price
}
