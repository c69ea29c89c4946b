package planner

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/kirillm/signal-executor/internal/domain"
)

// keyNamespace пространство имен для детерминированных ключей идемпотентности
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("signal-executor.orders"))

// idempotencyKey детерминированно выводит client order id из сигнала,
// роли интента и номера уровня. Повторная отправка того же интента
// после сетевого сбоя дает тот же ключ, и биржа не создаст дубликат.
func idempotencyKey(sig *domain.Signal, role domain.IntentRole, level int) string {
	entry := 0.0
	if sig.EntryPrice != nil {
		entry = *sig.EntryPrice
	}
	seed := fmt.Sprintf("%s|%s|%s|%.8f|%d|%d|%s|%d",
		sig.Ticker, sig.Direction, sig.TradeType, entry, sig.Leverage,
		sig.ReceivedAt.Unix(), role, level)
	return uuid.NewSHA1(keyNamespace, []byte(seed)).String()
}
