package repository

import (
	"database/sql"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
)

// OrderRepository журнал отправленных на биржу интентов. По ключу
// идемпотентности можно восстановить, что уже ушло на биржу.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Save записывает результат исполнения интента
func (r *OrderRepository) Save(res *domain.ExecutionResult) error {
	query := `
		INSERT INTO orders (idempotency_key, symbol, side, order_type, role, quantity, order_id, status, filled_qty, filled_price, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = EXCLUDED.status,
		    filled_qty = EXCLUDED.filled_qty,
		    filled_price = EXCLUDED.filled_price,
		    executed_at = EXCLUDED.executed_at
	`
	executedAt := res.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(
		query,
		res.Intent.IdempotencyKey,
		res.Intent.Symbol,
		res.Intent.Side,
		res.Intent.Type,
		res.Intent.Role,
		res.Intent.Quantity,
		res.OrderID,
		res.Status,
		res.FilledQty,
		res.FilledPrice,
		executedAt,
	)
	return err
}
