package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillm/signal-executor/internal/domain"
)

const (
	infoPath     = "/info"
	exchangePath = "/exchange"
)

// HyperliquidClient клиент perp-биржи Hyperliquid. Все запросы проходят
// через rate limiter, подписанные запросы идут на /exchange.
type HyperliquidClient struct {
	walletAddress string
	apiSecret     string
	baseURL       string
	client        *http.Client
	limiter       *rate.Limiter
}

type universeEntry struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	OnlyIsolate bool   `json:"onlyIsolated"`
}

type metaResponse struct {
	Universe []universeEntry `json:"universe"`
}

type orderStatusResponse struct {
	Status string `json:"status"`
	Order  struct {
		Order struct {
			Coin      string `json:"coin"`
			Oid       int64  `json:"oid"`
			Cloid     string `json:"cloid"`
			Side      string `json:"side"`
			LimitPx   string `json:"limitPx"`
			Sz        string `json:"sz"`
			OrigSz    string `json:"origSz"`
			AvgPx     string `json:"avgPx"`
			Timestamp int64  `json:"timestamp"`
		} `json:"order"`
		Status string `json:"status"`
	} `json:"order"`
}

type placeOrderResponse struct {
	Status   string `json:"status"`
	Response struct {
		Data struct {
			Statuses []struct {
				Resting struct {
					Oid int64 `json:"oid"`
				} `json:"resting"`
				Filled struct {
					Oid     int64  `json:"oid"`
					TotalSz string `json:"totalSz"`
					AvgPx   string `json:"avgPx"`
				} `json:"filled"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

type clearinghouseResponse struct {
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"`
			EntryPx  string `json:"entryPx"`
			Leverage struct {
				Value int `json:"value"`
			} `json:"leverage"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func NewHyperliquidClient(walletAddress, apiSecret, baseURL string, timeout time.Duration, rps int) *HyperliquidClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps = 10
	}
	return &HyperliquidClient{
		walletAddress: walletAddress,
		apiSecret:     apiSecret,
		baseURL:       baseURL,
		client:        &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// ListSymbols возвращает имена всех perp-инструментов биржи
func (h *HyperliquidClient) ListSymbols(ctx context.Context) ([]string, error) {
	var meta metaResponse
	if err := h.post(ctx, infoPath, map[string]interface{}{"type": "meta"}, false, &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch universe: %w", err)
	}

	symbols := make([]string, 0, len(meta.Universe))
	for _, u := range meta.Universe {
		symbols = append(symbols, u.Name)
	}
	return symbols, nil
}

// GetInstrument возвращает параметры инструмента и текущую mark-цену
func (h *HyperliquidClient) GetInstrument(ctx context.Context, symbol string) (*domain.InstrumentSpec, error) {
	var meta metaResponse
	if err := h.post(ctx, infoPath, map[string]interface{}{"type": "meta"}, false, &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch universe: %w", err)
	}

	var entry *universeEntry
	for i := range meta.Universe {
		if meta.Universe[i].Name == symbol {
			entry = &meta.Universe[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, symbol)
	}

	mark, err := h.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	step := math.Pow(10, -float64(entry.SzDecimals))
	return &domain.InstrumentSpec{
		Symbol:      symbol,
		StepSize:    step,
		MinSize:     step,
		MinNotional: 10, // минимальный нотионал ордера на Hyperliquid
		MarkPrice:   mark,
		MaxLeverage: entry.MaxLeverage,
	}, nil
}

// GetPrice возвращает mid-цену инструмента
func (h *HyperliquidClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var mids map[string]string
	if err := h.post(ctx, infoPath, map[string]interface{}{"type": "allMids"}, false, &mids); err != nil {
		return 0, fmt.Errorf("failed to fetch mids: %w", err)
	}

	raw, ok := mids[symbol]
	if !ok || raw == "" {
		return 0, fmt.Errorf("no price data for symbol %s", symbol)
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price for %s: %w", symbol, err)
	}
	return price, nil
}

// PlaceOrder размещает ордер. Ключ идемпотентности интента уходит как
// client order id, повторная подача с тем же ключом не создает дубликат.
func (h *HyperliquidClient) PlaceOrder(ctx context.Context, intent *domain.OrderIntent) (*domain.OrderAck, error) {
	order := map[string]interface{}{
		"coin":        intent.Symbol,
		"is_buy":      intent.Side == domain.SideBuy,
		"sz":          fmt.Sprintf("%.8f", intent.Quantity),
		"reduce_only": intent.ReduceOnly,
		"cloid":       intent.IdempotencyKey,
	}

	switch intent.Type {
	case domain.OrderTypeLimit:
		order["limit_px"] = fmt.Sprintf("%.8f", *intent.Price)
		order["order_type"] = map[string]interface{}{"limit": map[string]string{"tif": "Gtc"}}
	case domain.OrderTypeStopMarket:
		order["order_type"] = map[string]interface{}{
			"trigger": map[string]interface{}{
				"triggerPx": fmt.Sprintf("%.8f", *intent.TriggerPrice),
				"isMarket":  true,
				"tpsl":      "sl",
			},
		}
	default:
		// market как агрессивный IOC limit, так исполняет сама биржа
		order["order_type"] = map[string]interface{}{"limit": map[string]string{"tif": "Ioc"}}
	}

	payload := map[string]interface{}{
		"action": map[string]interface{}{
			"type":   "order",
			"orders": []interface{}{order},
		},
		"nonce": time.Now().UnixMilli(),
	}

	var resp placeOrderResponse
	if err := h.post(ctx, exchangePath, payload, true, &resp); err != nil {
		return nil, fmt.Errorf("failed to place %s order %s: %w", intent.Role, intent.Symbol, err)
	}

	if resp.Status != "ok" || len(resp.Response.Data.Statuses) == 0 {
		return nil, fmt.Errorf("%w: order not accepted", domain.ErrExchangeAPI)
	}

	st := resp.Response.Data.Statuses[0]
	if st.Error != "" {
		return nil, mapOrderError(st.Error)
	}

	ack := &domain.OrderAck{ClientOrderID: intent.IdempotencyKey}
	if st.Filled.Oid != 0 {
		ack.OrderID = strconv.FormatInt(st.Filled.Oid, 10)
		ack.Status = domain.StateFilled
		ack.FilledQty, _ = strconv.ParseFloat(st.Filled.TotalSz, 64)
		ack.AvgPrice, _ = strconv.ParseFloat(st.Filled.AvgPx, 64)
		return ack, nil
	}
	ack.OrderID = strconv.FormatInt(st.Resting.Oid, 10)
	ack.Status = domain.StateAcknowledged
	return ack, nil
}

// GetOrderStatus возвращает текущее состояние ордера по его id
func (h *HyperliquidClient) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderAck, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad order id %q: %w", orderID, err)
	}

	var resp orderStatusResponse
	payload := map[string]interface{}{"type": "orderStatus", "user": h.walletAddress, "oid": oid}
	if err := h.post(ctx, infoPath, payload, false, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch order %s: %w", orderID, err)
	}

	if resp.Status != "order" {
		return nil, fmt.Errorf("%w: order %s not found", domain.ErrExchangeAPI, orderID)
	}
	return h.ackFromStatus(&resp), nil
}

// FindOrderByClientID ищет ордер по ключу идемпотентности. Возвращает
// (nil, nil), если биржа такого ордера не знает.
func (h *HyperliquidClient) FindOrderByClientID(ctx context.Context, symbol, clientID string) (*domain.OrderAck, error) {
	var resp orderStatusResponse
	payload := map[string]interface{}{"type": "orderStatus", "user": h.walletAddress, "oid": clientID}
	if err := h.post(ctx, infoPath, payload, false, &resp); err != nil {
		return nil, fmt.Errorf("failed to look up order %s: %w", clientID, err)
	}

	if resp.Status != "order" {
		return nil, nil
	}
	return h.ackFromStatus(&resp), nil
}

func (h *HyperliquidClient) ackFromStatus(resp *orderStatusResponse) *domain.OrderAck {
	o := resp.Order.Order
	filled, _ := strconv.ParseFloat(o.OrigSz, 64)
	remaining, _ := strconv.ParseFloat(o.Sz, 64)
	avg, _ := strconv.ParseFloat(o.AvgPx, 64)

	ack := &domain.OrderAck{
		OrderID:       strconv.FormatInt(o.Oid, 10),
		ClientOrderID: o.Cloid,
		FilledQty:     filled - remaining,
		AvgPrice:      avg,
	}

	switch resp.Order.Status {
	case "filled":
		ack.Status = domain.StateFilled
		ack.FilledQty = filled
	case "canceled", "marginCanceled":
		if ack.FilledQty > 0 {
			ack.Status = domain.StatePartiallyFilled
		} else {
			ack.Status = domain.StateCancelled
		}
	case "rejected":
		ack.Status = domain.StateRejected
	default:
		ack.Status = domain.StateAcknowledged
	}
	return ack
}

// CancelOrder снимает ордер с книги
func (h *HyperliquidClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad order id %q: %w", orderID, err)
	}

	payload := map[string]interface{}{
		"action": map[string]interface{}{
			"type":    "cancel",
			"cancels": []interface{}{map[string]interface{}{"coin": symbol, "oid": oid}},
		},
		"nonce": time.Now().UnixMilli(),
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := h.post(ctx, exchangePath, payload, true, &resp); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%w: cancel %s rejected", domain.ErrExchangeAPI, orderID)
	}
	return nil
}

// CancelAllOrders снимает все открытые ордера по инструменту. Нужен при
// закрытии позиции, чтобы не оставить висячие TP/SL.
func (h *HyperliquidClient) CancelAllOrders(ctx context.Context, symbol string) error {
	var open []struct {
		Coin string `json:"coin"`
		Oid  int64  `json:"oid"`
	}
	payload := map[string]interface{}{"type": "openOrders", "user": h.walletAddress}
	if err := h.post(ctx, infoPath, payload, false, &open); err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}

	for _, o := range open {
		if o.Coin != symbol {
			continue
		}
		if err := h.CancelOrder(ctx, symbol, strconv.FormatInt(o.Oid, 10)); err != nil {
			return err
		}
	}
	return nil
}

// GetOpenPositions возвращает открытые позиции счета
func (h *HyperliquidClient) GetOpenPositions(ctx context.Context) ([]domain.Position, error) {
	var resp clearinghouseResponse
	payload := map[string]interface{}{"type": "clearinghouseState", "user": h.walletAddress}
	if err := h.post(ctx, infoPath, payload, false, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(resp.AssetPositions))
	for _, ap := range resp.AssetPositions {
		szi, err := strconv.ParseFloat(ap.Position.Szi, 64)
		if err != nil || szi == 0 {
			continue
		}

		side := domain.SideBuy
		if szi < 0 {
			side = domain.SideSell
		}
		entryPx, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		upnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)

		positions = append(positions, domain.Position{
			Symbol:        ap.Position.Coin,
			Side:          side,
			Size:          math.Abs(szi),
			EntryPrice:    entryPx,
			Leverage:      ap.Position.Leverage.Value,
			UnrealizedPnL: upnl,
		})
	}
	return positions, nil
}

// SetLeverage выставляет плечо по инструменту (cross-маржа)
func (h *HyperliquidClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	payload := map[string]interface{}{
		"action": map[string]interface{}{
			"type":     "updateLeverage",
			"coin":     symbol,
			"isCross":  true,
			"leverage": leverage,
		},
		"nonce": time.Now().UnixMilli(),
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := h.post(ctx, exchangePath, payload, true, &resp); err != nil {
		return fmt.Errorf("failed to set leverage for %s: %w", symbol, err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%w: leverage update rejected for %s", domain.ErrExchangeAPI, symbol)
	}
	return nil
}

// UpdateStopLoss переставляет стоп: снимает старый ордер и ставит новый
// триггер тем же количеством
func (h *HyperliquidClient) UpdateStopLoss(ctx context.Context, intent *domain.OrderIntent, oldOrderID string, trigger float64) (*domain.OrderAck, error) {
	if oldOrderID != "" {
		if err := h.CancelOrder(ctx, intent.Symbol, oldOrderID); err != nil {
			return nil, err
		}
	}
	moved := *intent
	moved.TriggerPrice = &trigger
	return h.PlaceOrder(ctx, &moved)
}

// post выполняет JSON POST с учетом rate limit. Для /exchange добавляет
// подпись запроса. Ответы не-2xx и сетевые таймауты переводятся в
// доменные ошибки, чтобы движок исполнения мог отличить транзиентные.
func (h *HyperliquidClient) post(ctx context.Context, path string, payload interface{}, signed bool, out interface{}) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-HL-ADDRESS", h.walletAddress)
		req.Header.Set("X-HL-TIMESTAMP", ts)
		req.Header.Set("X-HL-SIGNATURE", h.sign(ts, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %v", domain.ErrOrderTimeout, err)
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, raw)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s (status %d)", domain.ErrOrderTimeout, raw, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s (status %d)", domain.ErrExchangeAPI, raw, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (h *HyperliquidClient) sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(h.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// mapOrderError переводит текст ошибки биржи в доменную ошибку
func mapOrderError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "margin"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientMargin, msg)
	case strings.Contains(lower, "asset"), strings.Contains(lower, "coin"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidSymbol, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrExchangeAPI, msg)
	}
}
