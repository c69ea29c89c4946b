package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/internal/storage/repository"
)

// PostgresStorage фасад для работы с PostgreSQL через репозитории
type PostgresStorage struct {
	db      *sql.DB
	trades  *repository.TradeRepository
	orders  *repository.OrderRepository
	signals *repository.SignalLogRepository
}

func NewPostgresStorage(host string, port int, user, password, dbname, sslmode string, maxOpenConns, maxIdleConns int, connMaxLifetime time.Duration) (*PostgresStorage, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	s := &PostgresStorage{
		db:      db,
		trades:  repository.NewTradeRepository(db),
		orders:  repository.NewOrderRepository(db),
		signals: repository.NewSignalLogRepository(db),
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStorage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			role VARCHAR(10) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			notional DECIMAL(20, 8) NOT NULL,
			order_id VARCHAR(100),
			status VARCHAR(20) NOT NULL,
			realized_pnl DECIMAL(20, 8) DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_created ON trades(symbol, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS orders (
			idempotency_key VARCHAR(64) PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(10) NOT NULL,
			order_type VARCHAR(20) NOT NULL,
			role VARCHAR(10) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			order_id VARCHAR(100),
			status VARCHAR(20) NOT NULL,
			filled_qty DECIMAL(20, 8) DEFAULT 0,
			filled_price DECIMAL(20, 8) DEFAULT 0,
			executed_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS signal_log (
			id SERIAL PRIMARY KEY,
			ticker VARCHAR(20) NOT NULL,
			symbol VARCHAR(20),
			direction VARCHAR(10) NOT NULL,
			trade_type VARCHAR(10) NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL,
			sender VARCHAR(100),
			outcome VARCHAR(50) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_log_created ON signal_log(created_at DESC)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveTrade сохраняет исполненный ордер
func (s *PostgresStorage) SaveTrade(trade *domain.TradeRecord) error {
	return s.trades.Save(trade)
}

// SaveOrder сохраняет результат исполнения интента
func (s *PostgresStorage) SaveOrder(res *domain.ExecutionResult) error {
	return s.orders.Save(res)
}

// SaveSignal сохраняет аудит-запись сигнала
func (s *PostgresStorage) SaveSignal(rec *domain.SignalRecord) error {
	return s.signals.Save(rec)
}

// RecentTrades возвращает последние сделки. Пустой symbol - по всем
// инструментам.
func (s *PostgresStorage) RecentTrades(symbol string, limit int) ([]domain.TradeRecord, error) {
	if symbol == "" {
		return s.trades.GetAllRecent(limit)
	}
	return s.trades.GetRecent(symbol, limit)
}

// RecentSignals возвращает последние записи аудит-лога
func (s *PostgresStorage) RecentSignals(limit int) ([]domain.SignalRecord, error) {
	return s.signals.GetRecent(limit)
}

// DailyRealizedLoss возвращает убыток за сутки для восстановления
// состояния risk gate после рестарта
func (s *PostgresStorage) DailyRealizedLoss(day time.Time) (float64, error) {
	return s.trades.DailyRealizedLoss(day)
}

// Close закрывает соединение с базой
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
