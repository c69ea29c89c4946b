package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// deduper отсекает повторы одного и того же сигнала внутри окна.
// Каналы часто дублируют сообщения при пересылке между чатами.
type deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func newDeduper(window time.Duration) *deduper {
	return &deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Check возвращает false, если такой сигнал уже проходил внутри окна.
// Первый проход регистрирует сигнал.
func (d *deduper) Check(sig *domain.Signal) bool {
	if d.window <= 0 {
		return true
	}

	key := dedupeKey(sig)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return false
	}
	d.seen[key] = now

	// попутная уборка устаревших записей
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	return true
}

// Forget снимает регистрацию сигнала. Нужен, когда сигнал отклонен
// не по существу (например symbol busy) и вызывающая сторона вправе
// прислать его повторно.
func (d *deduper) Forget(sig *domain.Signal) {
	if d.window <= 0 {
		return
	}
	d.mu.Lock()
	delete(d.seen, dedupeKey(sig))
	d.mu.Unlock()
}

func dedupeKey(sig *domain.Signal) string {
	entry := 0.0
	if sig.EntryPrice != nil {
		entry = *sig.EntryPrice
	}
	return fmt.Sprintf("%s|%s|%s|%.8f|%d", sig.Ticker, sig.Direction, sig.TradeType, entry, sig.Leverage)
}
