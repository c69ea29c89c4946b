package symbol

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// InstrumentSource поставляет список доступных perpetual-символов биржи
type InstrumentSource interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

// Mapper переводит тикер из сигнала в биржевой символ.
// Сначала применяется таблица переопределений, затем passthrough,
// затем k-префикс. Каждый кандидат проверяется по живому списку
// инструментов, закешированному с TTL.
type Mapper struct {
	source    InstrumentSource
	overrides map[string]string
	cacheTTL  time.Duration

	mu        sync.Mutex
	symbols   map[string]bool
	fetchedAt time.Time
}

// kiloOverrides: токены, которые Hyperliquid торгует лотами по 1000 штук
var kiloOverrides = map[string]string{
	"PEPE":  "kPEPE",
	"FLOKI": "kFLOKI",
	"SHIB":  "kSHIB",
	"BONK":  "kBONK",
	"LUNC":  "kLUNC",
	"NEIRO": "kNEIRO",
	"DOGS":  "kDOGS",
}

func NewMapper(source InstrumentSource, cacheTTL time.Duration) *Mapper {
	overrides := make(map[string]string, len(kiloOverrides))
	for k, v := range kiloOverrides {
		overrides[k] = v
	}
	return &Mapper{
		source:    source,
		overrides: overrides,
		cacheTTL:  cacheTTL,
	}
}

// Resolve возвращает биржевой символ для тикера или ErrUnknownSymbol
func (m *Mapper) Resolve(ctx context.Context, ticker string) (string, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return "", fmt.Errorf("%w: empty ticker", domain.ErrUnknownSymbol)
	}

	available, err := m.availableSymbols(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load instrument list: %w", err)
	}

	// 1. Таблица переопределений
	m.mu.Lock()
	mapped, ok := m.overrides[ticker]
	m.mu.Unlock()
	if ok && available[mapped] {
		return mapped, nil
	}

	// 2. Passthrough
	if available[ticker] {
		return ticker, nil
	}

	// 3. k-префикс для новых kilo-токенов, которых нет в таблице
	kSymbol := "k" + ticker
	if available[kSymbol] {
		return kSymbol, nil
	}

	return "", fmt.Errorf("%w: %s not listed (checked %s and %s)",
		domain.ErrUnknownSymbol, ticker, ticker, kSymbol)
}

// AddOverride добавляет переопределение символа
func (m *Mapper) AddOverride(ticker, exchangeSymbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[strings.ToUpper(strings.TrimSpace(ticker))] = strings.TrimSpace(exchangeSymbol)
}

func (m *Mapper) availableSymbols(ctx context.Context) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.symbols != nil && time.Since(m.fetchedAt) < m.cacheTTL {
		return m.symbols, nil
	}

	listed, err := m.source.ListSymbols(ctx)
	if err != nil {
		// Новые монеты листятся часто, но протухший кеш лучше отказа
		if m.symbols != nil {
			return m.symbols, nil
		}
		return nil, err
	}

	symbols := make(map[string]bool, len(listed))
	for _, s := range listed {
		symbols[strings.TrimSpace(s)] = true
	}
	m.symbols = symbols
	m.fetchedAt = time.Now()
	return symbols, nil
}
