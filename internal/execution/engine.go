package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/pkg/utils"
)

// Exchange операции биржи, нужные для исполнения интентов
type Exchange interface {
	PlaceOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.OrderAck, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderAck, error)
	FindOrderByClientID(ctx context.Context, symbol, clientID string) (*domain.OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Config параметры исполнения
type Config struct {
	MaxAttempts  int           // попыток на один интент
	RetryBase    time.Duration // базовая пауза между попытками
	PollInterval time.Duration // интервал опроса статуса входа
	FillTimeout  time.Duration // сколько ждать исполнения market-входа
	OnRetry      func()        // хук для счетчика повторов
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBase:    time.Second,
		PollInterval: 500 * time.Millisecond,
		FillTimeout:  30 * time.Second,
	}
}

// Engine отправляет интенты на биржу. Первый интент (вход или закрытие)
// исполняется блокирующе: защитные ордера уходят только после того, как
// вход подтвержден. Любая подача повторяется до MaxAttempts раз на
// транзиентных ошибках, перед повтором проверяется, не приняла ли биржа
// предыдущую попытку по ключу идемпотентности.
type Engine struct {
	exchange Exchange
	cfg      Config
	log      *utils.Logger
	sleep    sleepFn
}

func NewEngine(exchange Exchange, cfg Config, log *utils.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 30 * time.Second
	}
	return &Engine{
		exchange: exchange,
		cfg:      cfg,
		log:      log,
		sleep:    sleepContext,
	}
}

// Submit исполняет интенты одного сигнала. Возвращает результаты всех
// интентов, дошедших до биржи. При сбое возвращает ExecutionFailedError
// с частичными результатами для ручной сверки.
func (e *Engine) Submit(ctx context.Context, intents []domain.OrderIntent) ([]domain.ExecutionResult, error) {
	if len(intents) == 0 {
		return nil, nil
	}

	primary := intents[0]
	if primary.Leverage > 0 {
		if err := e.exchange.SetLeverage(ctx, primary.Symbol, primary.Leverage); err != nil {
			// биржа сохраняет прежнее плечо, сделка остается валидной
			e.log.Warn("failed to set leverage %dx for %s: %v", primary.Leverage, primary.Symbol, err)
		}
	}

	entryRes, err := e.submitOne(ctx, &primary)
	if err != nil {
		return nil, &domain.ExecutionFailedError{Err: err}
	}

	results := []domain.ExecutionResult{*entryRes}

	if entryRes.Status == domain.ExecRejected || entryRes.Status == domain.ExecTimedOut {
		return results, &domain.ExecutionFailedError{
			Partial: results,
			Err:     fmt.Errorf("%s order %s: %s", primary.Role, primary.Symbol, entryRes.Status),
		}
	}

	for i := 1; i < len(intents); i++ {
		in := intents[i]
		res, err := e.submitOne(ctx, &in)
		if err != nil {
			e.log.Error("protection order %s/%s failed: %v", in.Symbol, in.Role, err)
			return results, &domain.ExecutionFailedError{Partial: results, Err: err}
		}
		results = append(results, *res)
	}

	return results, nil
}

// submitOne размещает один интент с ретраями и ждет терминального
// статуса для market-ордеров
func (e *Engine) submitOne(ctx context.Context, intent *domain.OrderIntent) (*domain.ExecutionResult, error) {
	// прошлая подача могла дойти до биржи, даже если ответ потерялся
	if existing, err := e.exchange.FindOrderByClientID(ctx, intent.Symbol, intent.IdempotencyKey); err == nil && existing != nil {
		e.log.Info("order %s already on exchange as %s, adopting", intent.IdempotencyKey, existing.OrderID)
		return e.settle(ctx, intent, existing)
	}

	intent.State = domain.StateSubmitting

	var ack *domain.OrderAck
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		ack, lastErr = e.exchange.PlaceOrder(ctx, intent)
		if lastErr == nil {
			break
		}
		if !domain.Transient(lastErr) {
			intent.State = domain.StateRejected
			return nil, fmt.Errorf("failed to place %s order %s: %w", intent.Role, intent.Symbol, lastErr)
		}

		e.log.Warn("place %s/%s attempt %d/%d: %v", intent.Symbol, intent.Role, attempt, e.cfg.MaxAttempts, lastErr)
		if attempt == e.cfg.MaxAttempts {
			break
		}
		if e.cfg.OnRetry != nil {
			e.cfg.OnRetry()
		}
		if err := e.sleep(ctx, retryDelay(e.cfg.RetryBase, attempt)); err != nil {
			return nil, err
		}

		// запрос мог дойти, а таймаут случиться на ответе
		if existing, err := e.exchange.FindOrderByClientID(ctx, intent.Symbol, intent.IdempotencyKey); err == nil && existing != nil {
			e.log.Info("order %s landed on attempt %d, adopting %s", intent.IdempotencyKey, attempt, existing.OrderID)
			return e.settle(ctx, intent, existing)
		}
	}

	if lastErr != nil {
		intent.State = domain.StateTimedOut
		return nil, fmt.Errorf("gave up placing %s order %s after %d attempts: %w",
			intent.Role, intent.Symbol, e.cfg.MaxAttempts, lastErr)
	}

	return e.settle(ctx, intent, ack)
}

// settle переводит интент по ack биржи в итоговый результат. Для
// market-ордеров дожидается исполнения, limit и stop остаются на книге
// со статусом accepted.
func (e *Engine) settle(ctx context.Context, intent *domain.OrderIntent, ack *domain.OrderAck) (*domain.ExecutionResult, error) {
	intent.State = ack.Status
	if intent.State == "" {
		intent.State = domain.StateAcknowledged
	}

	if intent.Type == domain.OrderTypeMarket && !intent.State.Terminal() {
		final, err := e.waitFilled(ctx, intent, ack)
		if err != nil {
			return nil, err
		}
		ack = final
		intent.State = ack.Status
	}

	res := &domain.ExecutionResult{
		Intent:      *intent,
		OrderID:     ack.OrderID,
		FilledQty:   ack.FilledQty,
		FilledPrice: ack.AvgPrice,
		ExecutedAt:  time.Now().UTC(),
	}

	switch intent.State {
	case domain.StateFilled:
		res.Status = domain.ExecFilled
	case domain.StatePartiallyFilled:
		res.Status = domain.ExecPartial
	case domain.StateRejected, domain.StateCancelled:
		res.Status = domain.ExecRejected
	case domain.StateTimedOut:
		res.Status = domain.ExecTimedOut
	default:
		res.Status = domain.ExecAccepted
	}
	return res, nil
}

// waitFilled опрашивает статус ордера до терминального состояния
func (e *Engine) waitFilled(ctx context.Context, intent *domain.OrderIntent, ack *domain.OrderAck) (*domain.OrderAck, error) {
	deadline := time.Now().Add(e.cfg.FillTimeout)
	current := ack
	for !current.Status.Terminal() {
		if time.Now().After(deadline) {
			intent.State = domain.StateTimedOut
			return nil, fmt.Errorf("%w: %s order %s not filled within %s",
				domain.ErrOrderTimeout, intent.Role, ack.OrderID, e.cfg.FillTimeout)
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return nil, err
		}

		next, err := e.exchange.GetOrderStatus(ctx, intent.Symbol, ack.OrderID)
		if err != nil {
			if domain.Transient(err) {
				continue
			}
			return nil, fmt.Errorf("failed to poll order %s: %w", ack.OrderID, err)
		}
		current = next
	}
	return current, nil
}
