package risk

import (
	"sync"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// State счетчики риска процесса. Единственный владелец - Gate,
// все мутации идут через его методы под мьютексом.
type State struct {
	OpenPositionCount int
	DailyLossUSD      float64
	Exposure          map[string]float64 // symbol -> notional USD
	Day               time.Time          // UTC-день, к которому относится DailyLossUSD
}

// Gate stateful-валидатор сигналов по политике рисков.
// Емкость резервируется только после подтвержденного филла (OnFill),
// а не на этапе Evaluate: сигнал, упавший дальше по конвейеру, не
// должен съедать лимит позиций.
type Gate struct {
	policy *Policy
	now    func() time.Time

	mu    sync.Mutex
	state State
}

func NewGate(policy *Policy) *Gate {
	return &Gate{
		policy: policy,
		now:    time.Now,
		state: State{
			Exposure: make(map[string]float64),
			Day:      time.Now().UTC().Truncate(24 * time.Hour),
		},
	}
}

// Evaluate проверяет сигнал. Возвращает nil при допуске или
// *domain.RiskRejectedError с первой нарушенной проверкой.
func (g *Gate) Evaluate(sig *domain.Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotateDayLocked()

	// Порядок проверок фиксирован: первая упавшая дает причину отказа
	if sig.Confidence < g.policy.MinConfidence {
		return &domain.RiskRejectedError{Reason: domain.RejectLowConfidence}
	}

	if !sig.IsClose() {
		if g.policy.MaxOpenPositions > 0 && g.state.OpenPositionCount >= g.policy.MaxOpenPositions {
			return &domain.RiskRejectedError{Reason: domain.RejectMaxPositions}
		}
		if g.policy.MaxLeverage > 0 && sig.Leverage > g.policy.MaxLeverage {
			return &domain.RiskRejectedError{Reason: domain.RejectMaxLeverage}
		}
		if g.policy.MaxDailyLossUSD > 0 && g.state.DailyLossUSD >= g.policy.MaxDailyLossUSD {
			return &domain.RiskRejectedError{Reason: domain.RejectDailyLoss}
		}
	}

	if !g.policy.senderAllowed(sig.SenderID) {
		return &domain.RiskRejectedError{Reason: domain.RejectSenderNotAllowed}
	}

	return nil
}

// OnFill фиксирует подтвержденное открытие позиции
func (g *Gate) OnFill(symbol string, notionalUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotateDayLocked()

	g.state.OpenPositionCount++
	g.state.Exposure[symbol] += notionalUSD
}

// OnClose фиксирует закрытие позиции. Отрицательный realizedPnL
// добавляется к дневному убытку.
func (g *Gate) OnClose(symbol string, realizedPnL float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotateDayLocked()

	if g.state.OpenPositionCount > 0 {
		g.state.OpenPositionCount--
	}
	delete(g.state.Exposure, symbol)
	if realizedPnL < 0 {
		g.state.DailyLossUSD += -realizedPnL
	}
}

// Seed восстанавливает счетчики из БД при старте процесса
func (g *Gate) Seed(openPositions int, dailyLossUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.OpenPositionCount = openPositions
	g.state.DailyLossUSD = dailyLossUSD
	g.state.Day = g.now().UTC().Truncate(24 * time.Hour)
}

// Snapshot возвращает копию текущего состояния для отчетов
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rotateDayLocked()

	exposure := make(map[string]float64, len(g.state.Exposure))
	for k, v := range g.state.Exposure {
		exposure[k] = v
	}
	return State{
		OpenPositionCount: g.state.OpenPositionCount,
		DailyLossUSD:      g.state.DailyLossUSD,
		Exposure:          exposure,
		Day:               g.state.Day,
	}
}

// Policy возвращает активный профиль
func (g *Gate) Policy() *Policy {
	return g.policy
}

// rotateDayLocked сбрасывает дневной убыток на границе UTC-суток
func (g *Gate) rotateDayLocked() {
	today := g.now().UTC().Truncate(24 * time.Hour)
	if today.After(g.state.Day) {
		g.state.DailyLossUSD = 0
		g.state.Day = today
	}
}
