package trailing

import (
	"context"
	"sync"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/pkg/utils"
)

// Exchange операции биржи, нужные трейлинг-стопу
type Exchange interface {
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	UpdateStopLoss(ctx context.Context, intent *domain.OrderIntent, oldOrderID string, trigger float64) (*domain.OrderAck, error)
}

// Config параметры трейлинг-стопа
type Config struct {
	Enabled           bool
	CheckInterval     time.Duration
	ActivationPercent float64 // профит от входа, после которого трейлинг включается
	DistancePercent   float64 // отступ стопа от экстремума цены
	UpdateStepPercent float64 // минимальное улучшение для перестановки
}

// trackedStop отслеживаемый стоп по позиции
type trackedStop struct {
	side      domain.Side
	entry     float64
	best      float64 // максимум цены для long, минимум для short
	stopPrice float64
	orderID   string
	intent    domain.OrderIntent
}

// Service фоновый сервис: опрашивает позиции и подтягивает stop-loss
// вслед за ценой. Стоп двигается только в сторону безубытка и только
// шагами не меньше UpdateStepPercent.
type Service struct {
	exchange Exchange
	cfg      Config
	log      *utils.Logger

	mu    sync.Mutex
	stops map[string]*trackedStop

	stop chan struct{}
	done chan struct{}
}

func NewService(exchange Exchange, cfg Config, log *utils.Logger) *Service {
	return &Service{
		exchange: exchange,
		cfg:      cfg,
		log:      log,
		stops:    make(map[string]*trackedStop),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Track регистрирует позицию и ее стоп-ордер для сопровождения
func (s *Service) Track(symbol string, side domain.Side, entryPrice, stopPrice float64, orderID string, intent domain.OrderIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops[symbol] = &trackedStop{
		side:      side,
		entry:     entryPrice,
		best:      entryPrice,
		stopPrice: stopPrice,
		orderID:   orderID,
		intent:    intent,
	}
}

// Untrack снимает позицию с сопровождения (после закрытия)
func (s *Service) Untrack(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stops, symbol)
}

// Start запускает фоновый цикл
func (s *Service) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("trailing stop service disabled")
		close(s.done)
		return
	}

	go s.run(ctx)
	s.log.Info("trailing stop service started, interval %s", s.cfg.CheckInterval)
}

// Stop останавливает цикл и дожидается завершения текущего тика
func (s *Service) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.log.Error("trailing tick failed: %v", err)
			}
		}
	}
}

// tick один проход по отслеживаемым позициям
func (s *Service) tick(ctx context.Context) error {
	positions, err := s.exchange.GetOpenPositions(ctx)
	if err != nil {
		return err
	}

	open := make(map[string]bool, len(positions))
	for _, pos := range positions {
		open[pos.Symbol] = true
	}

	s.mu.Lock()
	tracked := make(map[string]*trackedStop, len(s.stops))
	for sym, st := range s.stops {
		if !open[sym] {
			// позиция закрылась по стопу или вручную
			delete(s.stops, sym)
			continue
		}
		tracked[sym] = st
	}
	s.mu.Unlock()

	for sym, st := range tracked {
		if err := s.advance(ctx, sym, st); err != nil {
			s.log.Warn("trailing update for %s failed: %v", sym, err)
		}
	}
	return nil
}

// advance двигает стоп одной позиции, если цена ушла достаточно далеко
func (s *Service) advance(ctx context.Context, symbol string, st *trackedStop) error {
	price, err := s.exchange.GetPrice(ctx, symbol)
	if err != nil {
		return err
	}

	desired, ok := s.desiredStop(st, price)
	if !ok {
		return nil
	}

	ack, err := s.exchange.UpdateStopLoss(ctx, &st.intent, st.orderID, desired)
	if err != nil {
		return err
	}

	s.mu.Lock()
	st.stopPrice = desired
	st.orderID = ack.OrderID
	s.mu.Unlock()

	s.log.Info("trailing stop for %s moved to %.4f (price %.4f)", symbol, desired, price)
	return nil
}

// desiredStop вычисляет новую цену стопа. Возвращает ok=false, если
// трейлинг еще не активирован или улучшение меньше шага.
func (s *Service) desiredStop(st *trackedStop, price float64) (float64, bool) {
	if st.side == domain.SideBuy {
		if price > st.best {
			st.best = price
		}
		activation := st.entry * (1 + s.cfg.ActivationPercent)
		if price < activation {
			return 0, false
		}
		desired := st.best * (1 - s.cfg.DistancePercent)
		if st.stopPrice > 0 && desired <= st.stopPrice*(1+s.cfg.UpdateStepPercent) {
			return 0, false
		}
		return desired, true
	}

	if price < st.best {
		st.best = price
	}
	activation := st.entry * (1 - s.cfg.ActivationPercent)
	if price > activation {
		return 0, false
	}
	desired := st.best * (1 + s.cfg.DistancePercent)
	if st.stopPrice > 0 && desired >= st.stopPrice*(1-s.cfg.UpdateStepPercent) {
		return 0, false
	}
	return desired, true
}
