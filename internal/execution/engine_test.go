package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillm/signal-executor/internal/domain"
	"github.com/kirillm/signal-executor/pkg/utils"
)

type fakeExchange struct {
	place  func(intent *domain.OrderIntent) (*domain.OrderAck, error)
	find   func(symbol, clientID string) (*domain.OrderAck, error)
	status func(symbol, orderID string) (*domain.OrderAck, error)

	placed      []domain.OrderIntent
	findCalls   int
	statusCalls int
	leverages   []int
	cancelled   []string
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.OrderAck, error) {
	f.placed = append(f.placed, *intent)
	if f.place != nil {
		return f.place(intent)
	}
	return &domain.OrderAck{OrderID: "ord-1", ClientOrderID: intent.IdempotencyKey, Status: domain.StateFilled, FilledQty: intent.Quantity}, nil
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderAck, error) {
	f.statusCalls++
	if f.status != nil {
		return f.status(symbol, orderID)
	}
	return &domain.OrderAck{OrderID: orderID, Status: domain.StateFilled}, nil
}

func (f *fakeExchange) FindOrderByClientID(ctx context.Context, symbol, clientID string) (*domain.OrderAck, error) {
	f.findCalls++
	if f.find != nil {
		return f.find(symbol, clientID)
	}
	return nil, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.leverages = append(f.leverages, leverage)
	return nil
}

func newTestEngine(ex *fakeExchange) (*Engine, *[]time.Duration) {
	e := NewEngine(ex, DefaultConfig(), utils.NewLogger("error"))
	sleeps := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return e, sleeps
}

func testIntents() []domain.OrderIntent {
	tp := 2520.0
	sl := 2350.0
	return []domain.OrderIntent{
		{Symbol: "ETH", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 0.04, Leverage: 3, Role: domain.RoleEntry, IdempotencyKey: "key-entry", State: domain.StatePlanned},
		{Symbol: "ETH", Side: domain.SideSell, Type: domain.OrderTypeLimit, Quantity: 0.04, Price: &tp, ReduceOnly: true, Role: domain.RoleTakeProfit, IdempotencyKey: "key-tp-0", State: domain.StatePlanned},
		{Symbol: "ETH", Side: domain.SideSell, Type: domain.OrderTypeStopMarket, Quantity: 0.04, TriggerPrice: &sl, ReduceOnly: true, Role: domain.RoleStopLoss, IdempotencyKey: "key-sl", State: domain.StatePlanned},
	}
}

func TestSubmit_EntryThenProtection(t *testing.T) {
	ex := &fakeExchange{
		place: func(in *domain.OrderIntent) (*domain.OrderAck, error) {
			status := domain.StateAcknowledged
			if in.Type == domain.OrderTypeMarket {
				status = domain.StateFilled
			}
			return &domain.OrderAck{OrderID: "ord-" + string(in.Role), Status: status, FilledQty: in.Quantity, AvgPrice: 2450}, nil
		},
	}
	e, _ := newTestEngine(ex)

	results, err := e.Submit(context.Background(), testIntents())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Status != domain.ExecFilled {
		t.Errorf("entry status = %v, want filled", results[0].Status)
	}
	for _, r := range results[1:] {
		if r.Status != domain.ExecAccepted {
			t.Errorf("%s status = %v, want accepted", r.Intent.Role, r.Status)
		}
	}
	// вход уходит первым
	if ex.placed[0].Role != domain.RoleEntry {
		t.Errorf("first placed role = %v, want entry", ex.placed[0].Role)
	}
	if len(ex.leverages) != 1 || ex.leverages[0] != 3 {
		t.Errorf("leverages = %v, want [3]", ex.leverages)
	}
}

// Три таймаута подряд: исполнение падает, защитные ордера не уходят
func TestSubmit_ThreeTimeoutsNoProtection(t *testing.T) {
	ex := &fakeExchange{
		place: func(in *domain.OrderIntent) (*domain.OrderAck, error) {
			return nil, domain.ErrOrderTimeout
		},
	}
	e, sleeps := newTestEngine(ex)

	results, err := e.Submit(context.Background(), testIntents())
	if err == nil {
		t.Fatal("Submit() error = nil, want ExecutionFailedError")
	}
	var execErr *domain.ExecutionFailedError
	if !errors.As(err, &execErr) {
		t.Fatalf("Submit() error = %T, want *ExecutionFailedError", err)
	}
	if !errors.Is(err, domain.ErrOrderTimeout) {
		t.Errorf("Submit() error should wrap ErrOrderTimeout, got %v", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}

	if len(ex.placed) != 3 {
		t.Fatalf("place calls = %d, want 3", len(ex.placed))
	}
	for _, in := range ex.placed {
		if in.Role != domain.RoleEntry {
			t.Errorf("placed %s intent after failed entry", in.Role)
		}
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleeps[%d] = %v, want %v", i, (*sleeps)[i], d)
		}
	}
}

// Интент с тем же ключом уже лежит на бирже: дубликат не создается
func TestSubmit_AdoptsExistingOrder(t *testing.T) {
	ex := &fakeExchange{
		find: func(symbol, clientID string) (*domain.OrderAck, error) {
			if clientID == "key-entry" {
				return &domain.OrderAck{OrderID: "ord-prev", ClientOrderID: clientID, Status: domain.StateFilled, FilledQty: 0.04}, nil
			}
			return nil, nil
		},
	}
	e, _ := newTestEngine(ex)

	results, err := e.Submit(context.Background(), testIntents())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if results[0].OrderID != "ord-prev" {
		t.Errorf("entry order id = %s, want adopted ord-prev", results[0].OrderID)
	}
	for _, in := range ex.placed {
		if in.IdempotencyKey == "key-entry" {
			t.Error("entry was re-placed despite existing order")
		}
	}
}

// Таймаут на ответе, но ордер дошел: перед повтором забираем его по ключу
func TestSubmit_AdoptAfterLostResponse(t *testing.T) {
	ex := &fakeExchange{}
	ex.place = func(in *domain.OrderIntent) (*domain.OrderAck, error) {
		if in.Role == domain.RoleEntry {
			return nil, domain.ErrOrderTimeout
		}
		return &domain.OrderAck{OrderID: "ord-p", Status: domain.StateAcknowledged}, nil
	}
	ex.find = func(symbol, clientID string) (*domain.OrderAck, error) {
		// первый вызов это проверка перед подачей, находим только после таймаута
		if clientID == "key-entry" && len(ex.placed) > 0 {
			return &domain.OrderAck{OrderID: "ord-landed", Status: domain.StateFilled, FilledQty: 0.04}, nil
		}
		return nil, nil
	}
	e, _ := newTestEngine(ex)

	results, err := e.Submit(context.Background(), testIntents())
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if results[0].OrderID != "ord-landed" {
		t.Errorf("entry order id = %s, want ord-landed", results[0].OrderID)
	}
	var entryPlaces int
	for _, in := range ex.placed {
		if in.Role == domain.RoleEntry {
			entryPlaces++
		}
	}
	if entryPlaces != 1 {
		t.Errorf("entry place calls = %d, want 1", entryPlaces)
	}
	if len(results) != 3 {
		t.Errorf("len(results) = %d, want 3", len(results))
	}
}

func TestSubmit_PermanentErrorNoRetry(t *testing.T) {
	ex := &fakeExchange{
		place: func(in *domain.OrderIntent) (*domain.OrderAck, error) {
			return nil, domain.ErrInsufficientMargin
		},
	}
	e, sleeps := newTestEngine(ex)

	_, err := e.Submit(context.Background(), testIntents())
	if !errors.Is(err, domain.ErrInsufficientMargin) {
		t.Fatalf("Submit() error = %v, want ErrInsufficientMargin", err)
	}
	if len(ex.placed) != 1 {
		t.Errorf("place calls = %d, want 1 (no retry on permanent error)", len(ex.placed))
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
}

func TestSubmit_ProtectionFailureKeepsPartials(t *testing.T) {
	ex := &fakeExchange{
		place: func(in *domain.OrderIntent) (*domain.OrderAck, error) {
			if in.Role == domain.RoleTakeProfit {
				return nil, domain.ErrInvalidSymbol
			}
			return &domain.OrderAck{OrderID: "ord-e", Status: domain.StateFilled, FilledQty: in.Quantity}, nil
		},
	}
	e, _ := newTestEngine(ex)

	results, err := e.Submit(context.Background(), testIntents())
	var execErr *domain.ExecutionFailedError
	if !errors.As(err, &execErr) {
		t.Fatalf("Submit() error = %v, want *ExecutionFailedError", err)
	}
	if len(execErr.Partial) != 1 || execErr.Partial[0].Intent.Role != domain.RoleEntry {
		t.Errorf("partial = %+v, want single entry result", execErr.Partial)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}

func TestSubmit_MarketEntryPolledUntilFilled(t *testing.T) {
	polls := 0
	ex := &fakeExchange{
		place: func(in *domain.OrderIntent) (*domain.OrderAck, error) {
			return &domain.OrderAck{OrderID: "ord-e", Status: domain.StateAcknowledged}, nil
		},
		status: func(symbol, orderID string) (*domain.OrderAck, error) {
			polls++
			if polls < 2 {
				return &domain.OrderAck{OrderID: orderID, Status: domain.StateAcknowledged}, nil
			}
			return &domain.OrderAck{OrderID: orderID, Status: domain.StateFilled, FilledQty: 0.04, AvgPrice: 2451}, nil
		},
	}
	e, _ := newTestEngine(ex)

	results, err := e.Submit(context.Background(), testIntents()[:1])
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if results[0].Status != domain.ExecFilled {
		t.Errorf("entry status = %v, want filled", results[0].Status)
	}
	if results[0].FilledPrice != 2451 {
		t.Errorf("filled price = %v, want 2451", results[0].FilledPrice)
	}
	if polls != 2 {
		t.Errorf("status polls = %d, want 2", polls)
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := retryDelay(time.Second, tt.attempt); got != tt.want {
			t.Errorf("retryDelay(1s, %d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
