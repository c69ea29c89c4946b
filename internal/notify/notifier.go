package notify

import (
	"context"
	"time"

	"github.com/kirillm/signal-executor/pkg/utils"
)

// Level важность события
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event уведомление оператору о событии пайплайна
type Event struct {
	Level   Level
	Title   string
	Body    string
	Symbol  string
	Created time.Time
}

// Notifier доставляет события оператору. Доставка не должна блокировать
// торговый путь, ошибки отправки только логируются.
type Notifier interface {
	Name() string
	Send(ctx context.Context, evt *Event) error
}

// Dispatcher рассылает события всем настроенным каналам в фоне
type Dispatcher struct {
	sinks []Notifier
	log   *utils.Logger
}

func NewDispatcher(log *utils.Logger, sinks ...Notifier) *Dispatcher {
	return &Dispatcher{sinks: sinks, log: log}
}

// Dispatch отправляет событие во все каналы, не дожидаясь доставки
func (d *Dispatcher) Dispatch(evt *Event) {
	if evt.Created.IsZero() {
		evt.Created = time.Now().UTC()
	}
	for _, sink := range d.sinks {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := n.Send(ctx, evt); err != nil {
				d.log.Warn("notify via %s failed: %v", n.Name(), err)
			}
		}(sink)
	}
}
