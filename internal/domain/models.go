package domain

import (
	"math"
	"time"
)

// Direction направление сигнала
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionClose Direction = "close"
)

// TradeType тип операции: открытие или закрытие позиции
type TradeType string

const (
	TradeOpen  TradeType = "open"
	TradeClose TradeType = "close"
)

// Signal представляет нормализованный торговый сигнал из входящего сообщения.
// Создается один раз на сообщение и не изменяется после валидации.
type Signal struct {
	Ticker       string
	AssetName    string
	Direction    Direction
	TradeType    TradeType
	EntryPrice   *float64
	TakeProfits  []float64 // упорядоченные уровни TP, может быть пустым
	StopLoss     *float64
	Leverage     int
	Confidence   float64
	ClosePercent float64 // 0 означает полное закрытие
	Sender       string
	SenderID     int64
	ReceivedAt   time.Time
}

// IsClose проверяет, является ли сигнал закрытием позиции
func (s *Signal) IsClose() bool {
	return s.TradeType == TradeClose || s.Direction == DirectionClose
}

// EntrySide возвращает сторону входа для open-сигнала
func (s *Signal) EntrySide() Side {
	if s.Direction == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// IntentRole роль ордера в рамках одного сигнала
type IntentRole string

const (
	RoleEntry      IntentRole = "entry"
	RoleTakeProfit IntentRole = "tp"
	RoleStopLoss   IntentRole = "sl"
	RoleClose      IntentRole = "close"
)

// IntentState состояние OrderIntent в execution engine
type IntentState string

const (
	StatePlanned         IntentState = "PLANNED"
	StateSubmitting      IntentState = "SUBMITTING"
	StateAcknowledged    IntentState = "ACKNOWLEDGED"
	StateFilled          IntentState = "FILLED"
	StatePartiallyFilled IntentState = "PARTIALLY_FILLED"
	StateCancelled       IntentState = "CANCELLED"
	StateRejected        IntentState = "REJECTED"
	StateTimedOut        IntentState = "TIMED_OUT"
)

// Terminal проверяет, является ли состояние терминальным
func (s IntentState) Terminal() bool {
	switch s {
	case StateFilled, StatePartiallyFilled, StateCancelled, StateRejected:
		return true
	}
	return false
}

// OrderIntent запланированный, но еще не подтвержденный ордер.
// Ключ идемпотентности детерминирован от сигнала и роли, повторная
// отправка с тем же ключом не создает дубликат на бирже.
type OrderIntent struct {
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       float64
	Price          *float64
	TriggerPrice   *float64 // для стоп-ордеров
	ReduceOnly     bool
	Leverage       int
	Role           IntentRole
	IdempotencyKey string
	State          IntentState
}

// ExecStatus итоговый статус исполнения интента
type ExecStatus string

const (
	ExecFilled   ExecStatus = "filled"
	ExecPartial  ExecStatus = "partial"
	ExecAccepted ExecStatus = "accepted" // resting TP/SL принят биржей
	ExecRejected ExecStatus = "rejected"
	ExecTimedOut ExecStatus = "timed-out"
)

// ExecutionResult результат исполнения одного интента. Не изменяется
// после создания.
type ExecutionResult struct {
	Intent      OrderIntent
	Status      ExecStatus
	OrderID     string
	FilledQty   float64
	FilledPrice float64
	ExecutedAt  time.Time
}

// OrderAck ответ биржи на размещение или запрос ордера
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        IntentState
	FilledQty     float64
	AvgPrice      float64
}

// Position открытая позиция на бирже
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	Leverage      int
	UnrealizedPnL float64
	OpenedAt      time.Time
}

// InstrumentSpec параметры инструмента, полученные от биржи
type InstrumentSpec struct {
	Symbol      string
	StepSize    float64
	MinSize     float64
	MinNotional float64
	MarkPrice   float64
	MaxLeverage int
}

// RoundToStep округляет количество вниз к шагу инструмента
func (i *InstrumentSpec) RoundToStep(qty float64) float64 {
	if i.StepSize <= 0 {
		return qty
	}
	// небольшой epsilon против ошибок деления float
	steps := math.Floor(qty/i.StepSize + 1e-9)
	return steps * i.StepSize
}

// TradeRecord сохраненная в БД сделка
type TradeRecord struct {
	ID          int64
	Symbol      string
	Side        string
	Role        string
	Quantity    float64
	Price       float64
	Notional    float64
	OrderID     string
	Status      string
	RealizedPnL float64
	CreatedAt   time.Time
}

// SignalRecord аудит-запись входящего сигнала
type SignalRecord struct {
	ID         int64
	Ticker     string
	Symbol     string
	Direction  string
	TradeType  string
	Confidence float64
	Sender     string
	Outcome    string // accepted, rejected:<reason>, failed
	CreatedAt  time.Time
}
