package tool

import (
	"context"
	"strings"
	"testing"

	"R0-Agent/internal/llm"
	"R0-Agent/internal/roostoo"
	"R0-Agent/internal/signal"
)

type stubExchange struct {
	lastIntent roostoo.OrderIntent
	lastQuery  roostoo.QueryFilter
	lastCancel roostoo.CancelFilter
	klines     any
	err        error
}

func (s *stubExchange) ServerTime(ctx context.Context) (any, error) {
	return map[string]any{"ServerTime": int64(1700000000000)}, s.err
}

func (s *stubExchange) ExchangeInfo(ctx context.Context) (any, error) {
	return map[string]any{"TradePairs": []string{"BTC/USD"}}, s.err
}

func (s *stubExchange) Ticker(ctx context.Context, pair string) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"pair": pair}, nil
}

func (s *stubExchange) Balance(ctx context.Context) (any, error) {
	return map[string]any{"USD": "50000"}, s.err
}

func (s *stubExchange) PendingCount(ctx context.Context) (any, error) {
	return map[string]any{"Count": 0}, s.err
}

func (s *stubExchange) PlaceOrder(ctx context.Context, intent roostoo.OrderIntent) (any, error) {
	s.lastIntent = intent
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"OrderID": "42"}, nil
}

func (s *stubExchange) QueryOrder(ctx context.Context, filter roostoo.QueryFilter) (any, error) {
	s.lastQuery = filter
	return map[string]any{}, s.err
}

func (s *stubExchange) CancelOrder(ctx context.Context, filter roostoo.CancelFilter) (any, error) {
	s.lastCancel = filter
	return map[string]any{}, s.err
}

func (s *stubExchange) Klines(ctx context.Context, pair, interval string, limit int) (any, error) {
	return s.klines, s.err
}

func newTestRegistry(exchange ExchangeClient) *Registry {
	registry := NewRegistry()
	RegisterExchangeTools(registry, exchange, signal.DefaultConfig())
	return registry
}

func TestDispatchUnknownTool(t *testing.T) {
	registry := newTestRegistry(&stubExchange{})

	outcome := registry.Dispatch(context.Background(), llm.Action{Tool: "teleport"})
	if outcome.Kind != OutcomeUnknownTool {
		t.Fatalf("expected unknown tool outcome, got %+v", outcome)
	}
	if !strings.Contains(outcome.Describe(), "teleport") {
		t.Fatalf("describe should name the tool: %s", outcome.Describe())
	}
}

func TestDispatchSuccessPayload(t *testing.T) {
	registry := newTestRegistry(&stubExchange{})

	outcome := registry.Dispatch(context.Background(), llm.Action{Tool: "getBalance"})
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.Payload == nil {
		t.Fatalf("success outcome must carry payload")
	}
	if outcome.Describe() != "" {
		t.Fatalf("success outcome should have empty description")
	}
}

func TestDispatchHTTPFailure(t *testing.T) {
	exchange := &stubExchange{err: &roostoo.HTTPError{Status: 503, Body: "upstream down"}}
	registry := newTestRegistry(exchange)

	outcome := registry.Dispatch(context.Background(), llm.Action{Tool: "getTicker", Args: map[string]any{"pair": "BTC/USD"}})
	if outcome.Kind != OutcomeHTTPFailure {
		t.Fatalf("expected http failure, got %+v", outcome)
	}
	if outcome.Status != 503 {
		t.Fatalf("expected status 503, got %d", outcome.Status)
	}
}

func TestDispatchExchangeReject(t *testing.T) {
	exchange := &stubExchange{err: &roostoo.RejectError{Message: "insufficient balance"}}
	registry := newTestRegistry(exchange)

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "placeOrder",
		Args: map[string]any{"pair": "BTC/USD", "side": "BUY", "quantity": 1},
	})
	if outcome.Kind != OutcomeExchangeReject {
		t.Fatalf("expected exchange reject, got %+v", outcome)
	}
	if outcome.Message != "insufficient balance" {
		t.Fatalf("unexpected message: %s", outcome.Message)
	}
}

func TestPlaceOrderNormalizesCase(t *testing.T) {
	exchange := &stubExchange{}
	registry := newTestRegistry(exchange)

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "placeOrder",
		Args: map[string]any{"pair": "BTC/USD", "side": "buy", "type": "limit", "quantity": "0.5", "price": 64000.5},
	})
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if exchange.lastIntent.Side != roostoo.SideBuy || exchange.lastIntent.Kind != roostoo.KindLimit {
		t.Fatalf("side/type not normalized: %+v", exchange.lastIntent)
	}
	if exchange.lastIntent.Price != "64000.5" {
		t.Fatalf("price not preserved: %q", exchange.lastIntent.Price)
	}
}

func TestPlaceOrderLimitRequiresPrice(t *testing.T) {
	registry := newTestRegistry(&stubExchange{})

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "placeOrder",
		Args: map[string]any{"pair": "BTC/USD", "side": "SELL", "type": "LIMIT", "quantity": "1"},
	})
	if outcome.Kind != OutcomeInvalid {
		t.Fatalf("expected invalid outcome, got %+v", outcome)
	}
}

func TestPlaceOrderMissingQuantity(t *testing.T) {
	registry := newTestRegistry(&stubExchange{})

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "placeOrder",
		Args: map[string]any{"pair": "BTC/USD", "side": "BUY"},
	})
	if outcome.Kind != OutcomeInvalid {
		t.Fatalf("expected invalid outcome, got %+v", outcome)
	}
	if !strings.Contains(outcome.Message, "quantity") {
		t.Fatalf("message should name missing field: %s", outcome.Message)
	}
}

func TestQueryOrderPassesOrderID(t *testing.T) {
	exchange := &stubExchange{}
	registry := newTestRegistry(exchange)

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "queryOrder",
		Args: map[string]any{"order_id": "7", "pending_only": true},
	})
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if exchange.lastQuery.OrderID != "7" {
		t.Fatalf("order_id not forwarded: %+v", exchange.lastQuery)
	}
	if exchange.lastQuery.PendingOnly == nil || !*exchange.lastQuery.PendingOnly {
		t.Fatalf("pending_only not forwarded: %+v", exchange.lastQuery.PendingOnly)
	}
}

func TestQueryOrderPassesFilter(t *testing.T) {
	exchange := &stubExchange{}
	registry := newTestRegistry(exchange)

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "queryOrder",
		Args: map[string]any{"pair": "ETH/USD", "limit": float64(20), "pending_only": "true"},
	})
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if exchange.lastQuery.Pair != "ETH/USD" || exchange.lastQuery.Limit != 20 {
		t.Fatalf("filter not forwarded: %+v", exchange.lastQuery)
	}
	if exchange.lastQuery.PendingOnly == nil || !*exchange.lastQuery.PendingOnly {
		t.Fatalf("pending_only not forwarded: %+v", exchange.lastQuery.PendingOnly)
	}
}

func TestCancelOrderAllowsEmptyFilter(t *testing.T) {
	exchange := &stubExchange{}
	registry := newTestRegistry(exchange)

	outcome := registry.Dispatch(context.Background(), llm.Action{Tool: "cancelOrder", Args: map[string]any{}})
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if exchange.lastCancel.OrderID != "" || exchange.lastCancel.Pair != "" {
		t.Fatalf("empty filter should stay empty: %+v", exchange.lastCancel)
	}
}

func TestAnalyzeMarketSummarizesKlines(t *testing.T) {
	rows := make([]any, 0, 60)
	price := 100.0
	for i := 0; i < 60; i++ {
		price += 0.8
		rows = append(rows, []any{float64(i), price - 1, price + 1, price - 2, price, 10.0})
	}
	registry := newTestRegistry(&stubExchange{klines: rows})

	outcome := registry.Dispatch(context.Background(), llm.Action{
		Tool: "analyzeMarket",
		Args: map[string]any{"pair": "BTC/USD"},
	})
	if !outcome.OK() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	summary, ok := outcome.Payload.(signal.Summary)
	if !ok {
		t.Fatalf("expected signal summary payload, got %T", outcome.Payload)
	}
	if summary.Price == 0 {
		t.Fatalf("summary should carry last close: %+v", summary)
	}
}
