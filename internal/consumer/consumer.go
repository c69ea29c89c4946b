package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/internal/execution"
	"github.com/kirillm/signal-executor/internal/metrics"
	"github.com/kirillm/signal-executor/internal/notify"
	"github.com/kirillm/signal-executor/internal/risk"
	"github.com/kirillm/signal-executor/internal/signal"
	"github.com/kirillm/signal-executor/pkg/utils"
)

// SymbolResolver переводит тикер сигнала в символ биржи
type SymbolResolver interface {
	Resolve(ctx context.Context, ticker string) (string, error)
}

// Planner строит интенты для допущенного сигнала
type Planner interface {
	Plan(ctx context.Context, sig *domain.Signal, symbol string, positions []domain.Position) ([]domain.OrderIntent, error)
}

// Submitter исполняет интенты на бирже
type Submitter interface {
	Submit(ctx context.Context, intents []domain.OrderIntent) ([]domain.ExecutionResult, error)
}

// AccountGateway состояние счета на бирже
type AccountGateway interface {
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	CancelAllOrders(ctx context.Context, symbol string) error
}

// StopTracker сопровождение stop-loss ордеров (trailing stop)
type StopTracker interface {
	Track(symbol string, side domain.Side, entryPrice, stopPrice float64, orderID string, intent domain.OrderIntent)
	Untrack(symbol string)
}

// Store журналы сделок и сигналов
type Store interface {
	SaveSignal(rec *domain.SignalRecord) error
	SaveTrade(trade *domain.TradeRecord) error
	SaveOrder(res *domain.ExecutionResult) error
}

// Deps зависимости конвейера
type Deps struct {
	Resolver     SymbolResolver
	Gate         *risk.Gate
	Planner      Planner
	Engine       Submitter
	Account      AccountGateway
	Store        Store
	Notifier     *notify.Dispatcher
	Metrics      *metrics.Metrics
	Kill         *execution.KillSwitch
	Tracker      StopTracker
	DedupeWindow time.Duration
	Log          *utils.Logger
}

// Consumer конвейер обработки сигнала: parse, resolve, dedupe, risk,
// plan, execute, commit. Одновременно по одному символу идет не больше
// одной подачи, конкурирующий сигнал получает ErrSymbolBusy.
type Consumer struct {
	deps   Deps
	dedupe *deduper

	mu       sync.Mutex
	inflight map[string]bool

	wg sync.WaitGroup
}

func New(deps Deps) *Consumer {
	return &Consumer{
		deps:     deps,
		dedupe:   newDeduper(deps.DedupeWindow),
		inflight: make(map[string]bool),
	}
}

// SetNotifier подключает рассылку уведомлений. Вызывается после
// создания, когда каналы доставки уже собраны.
func (c *Consumer) SetNotifier(d *notify.Dispatcher) {
	c.deps.Notifier = d
}

// Handle обрабатывает одно входящее сообщение канала. Сообщения без
// торгового содержимого молча игнорируются.
func (c *Consumer) Handle(ctx context.Context, payload []byte, sender string, senderID int64) error {
	c.wg.Add(1)
	defer c.wg.Done()

	if c.deps.Kill != nil && c.deps.Kill.IsActive() {
		return domain.ErrTradingPaused
	}

	sig, err := signal.Parse(payload)
	if err != nil {
		c.countSignal("malformed")
		return err
	}
	if sig == nil {
		return nil
	}

	sig.Sender = sender
	sig.SenderID = senderID
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = time.Now().UTC()
	}

	if !c.dedupe.Check(sig) {
		c.deps.Log.Info("duplicate signal %s %s ignored", sig.Ticker, sig.Direction)
		c.audit(sig, "", domain.OutcomeRejected+":duplicate")
		c.countSignal("duplicate")
		return domain.ErrDuplicateSignal
	}

	symbol, err := c.deps.Resolver.Resolve(ctx, sig.Ticker)
	if err != nil {
		c.audit(sig, "", domain.OutcomeFailed)
		c.countSignal("unknown-symbol")
		return fmt.Errorf("failed to resolve %s: %w", sig.Ticker, err)
	}

	if err := c.deps.Gate.Evaluate(sig); err != nil {
		var rejected *domain.RiskRejectedError
		reason := "risk"
		if errors.As(err, &rejected) {
			reason = rejected.Reason
		}
		c.deps.Log.Info("signal %s %s rejected: %s", sig.Ticker, sig.Direction, reason)
		c.audit(sig, symbol, domain.OutcomeRejected+":"+reason)
		c.countSignal("rejected")
		return err
	}

	if !c.acquire(symbol) {
		// Сигнал могут прислать повторно после освобождения символа,
		// дедупликация не должна ему мешать
		c.dedupe.Forget(sig)
		c.audit(sig, symbol, domain.OutcomeRejected+":busy")
		c.countSignal("busy")
		return fmt.Errorf("%w: %s", domain.ErrSymbolBusy, symbol)
	}
	defer c.release(symbol)

	return c.process(ctx, sig, symbol)
}

func (c *Consumer) process(ctx context.Context, sig *domain.Signal, symbol string) error {
	positions, err := c.deps.Account.GetOpenPositions(ctx)
	if err != nil {
		c.audit(sig, symbol, domain.OutcomeFailed)
		return fmt.Errorf("failed to fetch positions: %w", err)
	}

	intents, err := c.deps.Planner.Plan(ctx, sig, symbol, positions)
	if err != nil {
		c.audit(sig, symbol, domain.OutcomeFailed)
		c.countSignal("plan-failed")
		return fmt.Errorf("failed to plan %s: %w", symbol, err)
	}
	if len(intents) == 0 {
		c.audit(sig, symbol, domain.OutcomeRejected+":empty-plan")
		return nil
	}

	c.deps.Log.Info("submitting %d intents for %s %s", len(intents), symbol, sig.Direction)

	results, execErr := c.deps.Engine.Submit(ctx, intents)
	c.record(results)

	if execErr != nil {
		c.audit(sig, symbol, domain.OutcomeFailed)
		c.countSignal("exec-failed")
		if c.deps.Metrics != nil {
			c.deps.Metrics.ExecFailures.Inc()
		}
		c.notifyEvent(notify.LevelError, "Execution failed",
			fmt.Sprintf("%s %s: %v", symbol, sig.Direction, execErr), symbol)
		return execErr
	}

	c.commit(ctx, sig, symbol, positions, results)
	c.audit(sig, symbol, domain.OutcomeAccepted)
	c.countSignal("accepted")
	return nil
}

// commit фиксирует подтвержденные исполнения: состояние risk gate,
// журнал сделок, снятие висячих ордеров после закрытия, уведомления
func (c *Consumer) commit(ctx context.Context, sig *domain.Signal, symbol string, positions []domain.Position, results []domain.ExecutionResult) {
	for _, res := range results {
		if res.Status != domain.ExecFilled && res.Status != domain.ExecPartial {
			continue
		}

		trade := &domain.TradeRecord{
			Symbol:   symbol,
			Side:     string(res.Intent.Side),
			Role:     string(res.Intent.Role),
			Quantity: res.FilledQty,
			Price:    res.FilledPrice,
			Notional: res.FilledQty * res.FilledPrice,
			OrderID:  res.OrderID,
			Status:   string(res.Status),
		}

		switch res.Intent.Role {
		case domain.RoleEntry:
			c.deps.Gate.OnFill(symbol, res.FilledQty*res.FilledPrice)
		case domain.RoleClose:
			pnl := realizedPnL(positions, symbol, res.FilledQty, res.FilledPrice)
			trade.RealizedPnL = pnl
			c.deps.Gate.OnClose(symbol, pnl)

			// после закрытия позиции висячие TP/SL больше не нужны
			if err := c.deps.Account.CancelAllOrders(ctx, symbol); err != nil {
				c.deps.Log.Warn("failed to cancel remaining orders for %s: %v", symbol, err)
			}
		}

		if c.deps.Store != nil {
			if err := c.deps.Store.SaveTrade(trade); err != nil {
				c.deps.Log.Error("failed to save trade %s: %v", symbol, err)
			}
		}
	}

	c.trackStops(symbol, results)

	if c.deps.Metrics != nil {
		snap := c.deps.Gate.Snapshot()
		c.deps.Metrics.OpenPositions.Set(float64(snap.OpenPositionCount))
		c.deps.Metrics.DailyLossUSD.Set(snap.DailyLossUSD)
		for _, res := range results {
			c.deps.Metrics.OrdersTotal.WithLabelValues(string(res.Intent.Role), string(res.Status)).Inc()
		}
	}

	c.notifyEvent(notify.LevelInfo, "Signal executed",
		fmt.Sprintf("%s %s: %d orders submitted", symbol, sig.Direction, len(results)), symbol)
}

// trackStops передает принятый биржей stop-loss на сопровождение
// trailing-сервису и снимает сопровождение после закрытия
func (c *Consumer) trackStops(symbol string, results []domain.ExecutionResult) {
	if c.deps.Tracker == nil {
		return
	}

	var entry *domain.ExecutionResult
	for i := range results {
		switch results[i].Intent.Role {
		case domain.RoleEntry:
			if results[i].Status == domain.ExecFilled || results[i].Status == domain.ExecPartial {
				entry = &results[i]
			}
		case domain.RoleClose:
			if results[i].Status == domain.ExecFilled {
				c.deps.Tracker.Untrack(symbol)
			}
		}
	}
	if entry == nil {
		return
	}

	for i := range results {
		res := &results[i]
		if res.Intent.Role != domain.RoleStopLoss || res.Intent.TriggerPrice == nil {
			continue
		}
		c.deps.Tracker.Track(symbol, entry.Intent.Side, entry.FilledPrice, *res.Intent.TriggerPrice, res.OrderID, res.Intent)
	}
}

// realizedPnL оценивает реализованный PnL закрытия по цене входа
// отслеживаемой позиции
func realizedPnL(positions []domain.Position, symbol string, qty, fillPrice float64) float64 {
	for _, pos := range positions {
		if pos.Symbol != symbol {
			continue
		}
		if pos.Side == domain.SideBuy {
			return (fillPrice - pos.EntryPrice) * qty
		}
		return (pos.EntryPrice - fillPrice) * qty
	}
	return 0
}

func (c *Consumer) record(results []domain.ExecutionResult) {
	if c.deps.Store == nil {
		return
	}
	for i := range results {
		if err := c.deps.Store.SaveOrder(&results[i]); err != nil {
			c.deps.Log.Error("failed to save order %s: %v", results[i].OrderID, err)
		}
	}
}

func (c *Consumer) audit(sig *domain.Signal, symbol, outcome string) {
	if c.deps.Store == nil {
		return
	}
	rec := &domain.SignalRecord{
		Ticker:     sig.Ticker,
		Symbol:     symbol,
		Direction:  string(sig.Direction),
		TradeType:  string(sig.TradeType),
		Confidence: sig.Confidence,
		Sender:     sig.Sender,
		Outcome:    outcome,
	}
	if err := c.deps.Store.SaveSignal(rec); err != nil {
		c.deps.Log.Error("failed to save signal audit record: %v", err)
	}
}

func (c *Consumer) countSignal(outcome string) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.SignalsTotal.WithLabelValues(outcome).Inc()
	}
}

func (c *Consumer) notifyEvent(level notify.Level, title, body, symbol string) {
	if c.deps.Notifier == nil {
		return
	}
	c.deps.Notifier.Dispatch(&notify.Event{Level: level, Title: title, Body: body, Symbol: symbol})
}

func (c *Consumer) acquire(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[symbol] {
		return false
	}
	c.inflight[symbol] = true
	return true
}

func (c *Consumer) release(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, symbol)
}

// Shutdown дожидается завершения обработок, начатых до остановки
func (c *Consumer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
