package repository

import (
	"database/sql"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// SignalLogRepository аудит-лог всех входящих сигналов с их исходом
type SignalLogRepository struct {
	db *sql.DB
}

func NewSignalLogRepository(db *sql.DB) *SignalLogRepository {
	return &SignalLogRepository{db: db}
}

// Save сохраняет запись о сигнале
func (r *SignalLogRepository) Save(rec *domain.SignalRecord) error {
	query := `
		INSERT INTO signal_log (ticker, symbol, direction, trade_type, confidence, sender, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRow(
		query,
		rec.Ticker,
		rec.Symbol,
		rec.Direction,
		rec.TradeType,
		rec.Confidence,
		rec.Sender,
		rec.Outcome,
		rec.CreatedAt,
	).Scan(&rec.ID)
}

// GetRecent получает последние N записей аудит-лога
func (r *SignalLogRepository) GetRecent(limit int) ([]domain.SignalRecord, error) {
	query := `
		SELECT id, ticker, symbol, direction, trade_type, confidence, sender, outcome, created_at
		FROM signal_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SignalRecord
	for rows.Next() {
		var rec domain.SignalRecord
		err := rows.Scan(
			&rec.ID,
			&rec.Ticker,
			&rec.Symbol,
			&rec.Direction,
			&rec.TradeType,
			&rec.Confidence,
			&rec.Sender,
			&rec.Outcome,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByOutcome считает сигналы по исходу за период
func (r *SignalLogRepository) CountByOutcome(outcome string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM signal_log WHERE outcome = $1 AND created_at >= $2`
	var count int
	err := r.db.QueryRow(query, outcome, since).Scan(&count)
	return count, err
}
