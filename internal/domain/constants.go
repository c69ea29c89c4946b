package domain

// Side сторона ордера
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite возвращает противоположную сторону (для reduce-only ордеров)
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType тип ордера
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
)

// Причины отказа risk gate, в порядке проверки
const (
	RejectLowConfidence    = "low-confidence"
	RejectMaxPositions     = "max-positions"
	RejectMaxLeverage      = "max-leverage"
	RejectDailyLoss        = "daily-loss-limit"
	RejectSenderNotAllowed = "sender-not-allowed"
)

// Outcome статусы для аудит-лога сигналов
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// QuoteAsset валюта котировки на Hyperliquid
const QuoteAsset = "USDC"
