package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedSignal возвращается при некорректной форме входящего сигнала
	ErrMalformedSignal = errors.New("malformed signal")

	// ErrUnknownSymbol возвращается когда тикер не найден на бирже
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrBelowMinimumSize возвращается когда размер ордера меньше минимального
	ErrBelowMinimumSize = errors.New("order size below exchange minimum")

	// ErrNoOpenPosition возвращается при close-сигнале без открытой позиции
	ErrNoOpenPosition = errors.New("no open position")

	// ErrSymbolBusy возвращается когда по символу уже идет исполнение
	ErrSymbolBusy = errors.New("symbol busy: submission in flight")

	// ErrDuplicateSignal возвращается при повторе недавнего сигнала
	ErrDuplicateSignal = errors.New("duplicate signal")

	// ErrTradingPaused возвращается когда активирован panic stop
	ErrTradingPaused = errors.New("trading is paused")

	// ErrExchangeAPI возвращается при ошибке API биржи
	ErrExchangeAPI = errors.New("exchange API error")

	// ErrOrderTimeout транзиентная ошибка: биржа не ответила вовремя
	ErrOrderTimeout = errors.New("order request timed out")

	// ErrRateLimited транзиентная ошибка: превышен rate limit биржи
	ErrRateLimited = errors.New("rate limited by exchange")

	// ErrInvalidSymbol постоянная ошибка биржи: инструмент не существует
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInsufficientMargin постоянная ошибка биржи: не хватает маржи
	ErrInsufficientMargin = errors.New("insufficient margin")
)

// RiskRejectedError отказ risk gate с причиной из перечня Reject*
type RiskRejectedError struct {
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("risk rejected: %s", e.Reason)
}

// ExecutionFailedError исполнение не завершилось после всех попыток.
// Partial содержит интенты, которые успели исполниться, для ручной
// сверки оператором.
type ExecutionFailedError struct {
	Partial []ExecutionResult
	Err     error
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution failed (%d partial fills): %v", len(e.Partial), e.Err)
}

func (e *ExecutionFailedError) Unwrap() error {
	return e.Err
}

// Transient сообщает, можно ли повторить запрос после ошибки
func Transient(err error) bool {
	return errors.Is(err, ErrOrderTimeout) || errors.Is(err, ErrRateLimited)
}
