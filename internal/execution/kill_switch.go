package execution

import (
	"sync"
	"time"

	"github.com/kirillm/signal-executor/pkg/utils"
)

// KillSwitch аварийная остановка торговли. Пока активен, consumer
// отвергает все новые сигналы, уже запущенные исполнения доходят до конца.
type KillSwitch struct {
	mu          sync.RWMutex
	active      bool
	activatedAt time.Time
	reason      string
	log         *utils.Logger
}

func NewKillSwitch(log *utils.Logger) *KillSwitch {
	return &KillSwitch{log: log}
}

// Activate активирует остановку с указанием причины
func (ks *KillSwitch) Activate(reason string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = true
	ks.activatedAt = time.Now()
	ks.reason = reason

	ks.log.Error("KILL SWITCH ACTIVATED: %s", reason)
}

// Deactivate снимает остановку (только вручную оператором)
func (ks *KillSwitch) Deactivate() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.active = false
	ks.reason = ""

	ks.log.Info("kill switch deactivated")
}

// IsActive проверяет активна ли остановка
func (ks *KillSwitch) IsActive() bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active
}

// GetStatus возвращает состояние, причину и время активации
func (ks *KillSwitch) GetStatus() (bool, string, time.Time) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	return ks.active, ks.reason, ks.activatedAt
}
