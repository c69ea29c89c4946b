package repository

import (
	"database/sql"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// TradeRepository хранит исполненные ордера
type TradeRepository struct {
	db *sql.DB
}

func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Save сохраняет запись об исполненном ордере
func (r *TradeRepository) Save(trade *domain.TradeRecord) error {
	query := `
		INSERT INTO trades (symbol, side, role, quantity, price, notional, order_id, status, realized_pnl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRow(
		query,
		trade.Symbol,
		trade.Side,
		trade.Role,
		trade.Quantity,
		trade.Price,
		trade.Notional,
		trade.OrderID,
		trade.Status,
		trade.RealizedPnL,
		trade.CreatedAt,
	).Scan(&trade.ID)
}

// GetRecent получает последние N сделок для символа
func (r *TradeRepository) GetRecent(symbol string, limit int) ([]domain.TradeRecord, error) {
	query := `
		SELECT id, symbol, side, role, quantity, price, notional, order_id, status, realized_pnl, created_at
		FROM trades
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryTrades(query, symbol, limit)
}

// GetAllRecent получает последние N сделок по всем символам
func (r *TradeRepository) GetAllRecent(limit int) ([]domain.TradeRecord, error) {
	query := `
		SELECT id, symbol, side, role, quantity, price, notional, order_id, status, realized_pnl, created_at
		FROM trades
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.queryTrades(query, limit)
}

// DailyRealizedLoss возвращает сумму убытков за текущие UTC-сутки.
// Нужна для восстановления состояния risk gate после рестарта.
func (r *TradeRepository) DailyRealizedLoss(day time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(-realized_pnl), 0)
		FROM trades
		WHERE realized_pnl < 0 AND created_at >= $1 AND created_at < $2
	`
	start := day.UTC().Truncate(24 * time.Hour)
	var loss float64
	err := r.db.QueryRow(query, start, start.Add(24*time.Hour)).Scan(&loss)
	return loss, err
}

func (r *TradeRepository) queryTrades(query string, args ...interface{}) ([]domain.TradeRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var trade domain.TradeRecord
		err := rows.Scan(
			&trade.ID,
			&trade.Symbol,
			&trade.Side,
			&trade.Role,
			&trade.Quantity,
			&trade.Price,
			&trade.Notional,
			&trade.OrderID,
			&trade.Status,
			&trade.RealizedPnL,
			&trade.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}
