package planner

import (
	"context"
	"fmt"
	"math"

	"github.com/kirillm/signal-executor/internal/domain"
)

// Exchange источник параметров инструмента
type Exchange interface {
	GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentSpec, error)
}

// Config настройки планирования ордеров
type Config struct {
	PositionSizeUSD  float64 // дефолтный нотионал входа
	DefaultLeverage  int
	TPPercent        float64 // дефолтный TP от цены входа
	SLPercent        float64 // дефолтный SL от цены входа
	DeviationPercent float64 // порог limit-входа вместо market
	DefaultTPSL      bool    // ставить дефолтные TP/SL, если сигнал их не несет
}

// Planner превращает допущенный сигнал и состояние счета в набор
// OrderIntent: вход, take-profit на каждый уровень и stop-loss.
type Planner struct {
	exchange Exchange
	cfg      Config
}

func New(exchange Exchange, cfg Config) *Planner {
	return &Planner{
		exchange: exchange,
		cfg:      cfg,
	}
}

// Plan строит интенты для сигнала. positions - текущие открытые
// позиции счета, нужны для close-сигналов.
func (p *Planner) Plan(ctx context.Context, sig *domain.Signal, symbol string, positions []domain.Position) ([]domain.OrderIntent, error) {
	if sig.IsClose() {
		return p.planClose(ctx, sig, symbol, positions)
	}
	return p.planOpen(ctx, sig, symbol)
}

func (p *Planner) planOpen(ctx context.Context, sig *domain.Signal, symbol string) ([]domain.OrderIntent, error) {
	spec, err := p.exchange.GetInstrument(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument %s: %w", symbol, err)
	}
	if spec.MarkPrice <= 0 {
		return nil, fmt.Errorf("%w: no mark price for %s", domain.ErrExchangeAPI, symbol)
	}

	leverage := sig.Leverage
	if leverage == 0 {
		leverage = p.cfg.DefaultLeverage
	}

	qty := spec.RoundToStep(p.cfg.PositionSizeUSD / spec.MarkPrice)
	if qty <= 0 || qty < spec.MinSize || qty*spec.MarkPrice < spec.MinNotional {
		return nil, fmt.Errorf("%w: %.8f %s (notional %.2f)",
			domain.ErrBelowMinimumSize, qty, symbol, qty*spec.MarkPrice)
	}

	entrySide := sig.EntrySide()
	entry := domain.OrderIntent{
		Symbol:         symbol,
		Side:           entrySide,
		Type:           domain.OrderTypeMarket,
		Quantity:       qty,
		Leverage:       leverage,
		Role:           domain.RoleEntry,
		IdempotencyKey: idempotencyKey(sig, domain.RoleEntry, 0),
		State:          domain.StatePlanned,
	}

	// Если цена сигнала далеко от рынка, входим limit-ордером по цене
	// сигнала, иначе market
	if sig.EntryPrice != nil {
		deviation := math.Abs(spec.MarkPrice-*sig.EntryPrice) / *sig.EntryPrice
		if deviation > p.cfg.DeviationPercent {
			price := *sig.EntryPrice
			entry.Type = domain.OrderTypeLimit
			entry.Price = &price
		}
	}

	intents := []domain.OrderIntent{entry}

	refPrice := spec.MarkPrice
	if sig.EntryPrice != nil {
		refPrice = *sig.EntryPrice
	}

	intents = append(intents, p.takeProfits(sig, symbol, entrySide, qty, refPrice, spec)...)

	if sl := p.stopLossPrice(sig, entrySide, refPrice); sl > 0 {
		trigger := sl
		intents = append(intents, domain.OrderIntent{
			Symbol:         symbol,
			Side:           entrySide.Opposite(),
			Type:           domain.OrderTypeStopMarket,
			Quantity:       qty,
			TriggerPrice:   &trigger,
			ReduceOnly:     true,
			Role:           domain.RoleStopLoss,
			IdempotencyKey: idempotencyKey(sig, domain.RoleStopLoss, 0),
			State:          domain.StatePlanned,
		})
	}

	return intents, nil
}

// takeProfits строит reduce-only limit на каждый уровень TP.
// Количество делится между уровнями поровну с округлением к шагу,
// остаток уходит на последний уровень.
func (p *Planner) takeProfits(sig *domain.Signal, symbol string, entrySide domain.Side, qty, refPrice float64, spec *domain.InstrumentSpec) []domain.OrderIntent {
	levels := sig.TakeProfits
	if len(levels) == 0 {
		if !p.cfg.DefaultTPSL || p.cfg.TPPercent <= 0 {
			return nil
		}
		if entrySide == domain.SideBuy {
			levels = []float64{refPrice * (1 + p.cfg.TPPercent)}
		} else {
			levels = []float64{refPrice * (1 - p.cfg.TPPercent)}
		}
	}

	perLevel := spec.RoundToStep(qty / float64(len(levels)))
	splitOK := perLevel > 0

	intents := make([]domain.OrderIntent, 0, len(levels))
	allocated := 0.0
	for i, level := range levels {
		levelQty := qty // reduce-only сам ограничит излишек
		if splitOK {
			levelQty = perLevel
			if i == len(levels)-1 {
				levelQty = qty - allocated
			}
			allocated += levelQty
		}
		price := level
		intents = append(intents, domain.OrderIntent{
			Symbol:         symbol,
			Side:           entrySide.Opposite(),
			Type:           domain.OrderTypeLimit,
			Quantity:       levelQty,
			Price:          &price,
			ReduceOnly:     true,
			Role:           domain.RoleTakeProfit,
			IdempotencyKey: idempotencyKey(sig, domain.RoleTakeProfit, i),
			State:          domain.StatePlanned,
		})
	}
	return intents
}

func (p *Planner) stopLossPrice(sig *domain.Signal, entrySide domain.Side, refPrice float64) float64 {
	if sig.StopLoss != nil {
		return *sig.StopLoss
	}
	if !p.cfg.DefaultTPSL || p.cfg.SLPercent <= 0 {
		return 0
	}
	if entrySide == domain.SideBuy {
		return refPrice * (1 - p.cfg.SLPercent)
	}
	return refPrice * (1 + p.cfg.SLPercent)
}

// planClose строит один reduce-only market интент ровно на размер
// отслеживаемой позиции (или ее часть при частичном закрытии)
func (p *Planner) planClose(ctx context.Context, sig *domain.Signal, symbol string, positions []domain.Position) ([]domain.OrderIntent, error) {
	var pos *domain.Position
	for i := range positions {
		if positions[i].Symbol == symbol {
			pos = &positions[i]
			break
		}
	}
	if pos == nil || pos.Size <= 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoOpenPosition, symbol)
	}

	qty := pos.Size
	if sig.ClosePercent > 0 && sig.ClosePercent < 100 {
		spec, err := p.exchange.GetInstrument(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("failed to get instrument %s: %w", symbol, err)
		}
		qty = spec.RoundToStep(pos.Size * sig.ClosePercent / 100)
		if qty <= 0 {
			return nil, fmt.Errorf("%w: partial close of %.8f %s", domain.ErrBelowMinimumSize, pos.Size, symbol)
		}
	}

	return []domain.OrderIntent{{
		Symbol:         symbol,
		Side:           pos.Side.Opposite(),
		Type:           domain.OrderTypeMarket,
		Quantity:       qty,
		ReduceOnly:     true,
		Role:           domain.RoleClose,
		IdempotencyKey: idempotencyKey(sig, domain.RoleClose, 0),
		State:          domain.StatePlanned,
	}}, nil
}
