package tool

import (
	"context"

	xerrors "R0-Agent/internal/errors"
	"R0-Agent/internal/roostoo"
	"R0-Agent/internal/signal"
)

// ExchangeClient 抽象调度器依赖的交易所能力，便于测试时替换。
// 生产实现是 *roostoo.Client。
type ExchangeClient interface {
	ServerTime(ctx context.Context) (any, error)
	ExchangeInfo(ctx context.Context) (any, error)
	Ticker(ctx context.Context, pair string) (any, error)
	Balance(ctx context.Context) (any, error)
	PendingCount(ctx context.Context) (any, error)
	PlaceOrder(ctx context.Context, intent roostoo.OrderIntent) (any, error)
	QueryOrder(ctx context.Context, filter roostoo.QueryFilter) (any, error)
	CancelOrder(ctx context.Context, filter roostoo.CancelFilter) (any, error)
	Klines(ctx context.Context, pair, interval string, limit int) (any, error)
}

// RegisterExchangeTools 把交易所工具集登记到注册表。
// 工具名与策略提示词中的动作词表保持一一对应。
func RegisterExchangeTools(registry *Registry, client ExchangeClient, signalCfg signal.Config) {
	registry.Register(capabilityFunc{
		name: "getServerTime",
		run: func(ctx context.Context, _ map[string]any) (any, error) {
			return client.ServerTime(ctx)
		},
	})

	registry.Register(capabilityFunc{
		name: "getExchangeInfo",
		run: func(ctx context.Context, _ map[string]any) (any, error) {
			return client.ExchangeInfo(ctx)
		},
	})

	registry.Register(capabilityFunc{
		name: "getTicker",
		run: func(ctx context.Context, args map[string]any) (any, error) {
			// pair 缺省时返回全市场行情，与交易所语义一致。
			return client.Ticker(ctx, stringArg(args, "pair", "symbol"))
		},
	})

	registry.Register(capabilityFunc{
		name: "getBalance",
		run: func(ctx context.Context, _ map[string]any) (any, error) {
			return client.Balance(ctx)
		},
	})

	registry.Register(capabilityFunc{
		name: "getPendingCount",
		run: func(ctx context.Context, _ map[string]any) (any, error) {
			return client.PendingCount(ctx)
		},
	})

	registry.Register(capabilityFunc{
		name: "placeOrder",
		run: func(ctx context.Context, args map[string]any) (any, error) {
			pair, err := requireStringArg(args, "pair", "symbol")
			if err != nil {
				return nil, err
			}
			side, err := requireStringArg(args, "side")
			if err != nil {
				return nil, err
			}
			kind := stringArg(args, "type", "otype", "order_type")
			if kind == "" {
				kind = string(roostoo.KindMarket)
			}
			quantity, ok, err := decimalArg(args, "quantity", "qty", "amount")
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, xerrors.New(xerrors.CodeValidationFailed, "缺少必填参数 \"quantity\"")
			}
			price := ""
			if parsed, hasPrice, perr := decimalArg(args, "price"); perr != nil {
				return nil, perr
			} else if hasPrice {
				price = parsed.String()
			}

			intent, err := roostoo.NewOrderIntent(pair, side, kind, quantity.String(), price)
			if err != nil {
				return nil, err
			}
			return client.PlaceOrder(ctx, intent)
		},
	})

	registry.Register(capabilityFunc{
		name: "queryOrder",
		run: func(ctx context.Context, args map[string]any) (any, error) {
			offset, err := intArg(args, 0, "offset")
			if err != nil {
				return nil, err
			}
			limit, err := intArg(args, 0, "limit")
			if err != nil {
				return nil, err
			}
			filter := roostoo.QueryFilter{
				OrderID: stringArg(args, "order_id", "orderId"),
				Pair:    stringArg(args, "pair", "symbol"),
				Offset:  offset,
				Limit:   limit,
			}
			if pending, ok := boolArg(args, "pending_only", "pendingOnly"); ok {
				filter.PendingOnly = &pending
			}
			return client.QueryOrder(ctx, filter)
		},
	})

	registry.Register(capabilityFunc{
		name: "cancelOrder",
		run: func(ctx context.Context, args map[string]any) (any, error) {
			return client.CancelOrder(ctx, roostoo.CancelFilter{
				OrderID: stringArg(args, "order_id", "orderId"),
				Pair:    stringArg(args, "pair", "symbol"),
			})
		},
	})

	registry.Register(capabilityFunc{
		name: "analyzeMarket",
		run: func(ctx context.Context, args map[string]any) (any, error) {
			pair, err := requireStringArg(args, "pair", "symbol")
			if err != nil {
				return nil, err
			}
			interval := stringArg(args, "interval")
			if interval == "" {
				interval = "15m"
			}
			limit, err := intArg(args, 120, "limit")
			if err != nil {
				return nil, err
			}

			raw, err := client.Klines(ctx, pair, interval, limit)
			if err != nil {
				return nil, err
			}
			closes, err := signal.Closes(raw)
			if err != nil {
				return nil, err
			}
			summary, err := signal.Analyze(closes, signalCfg)
			if err != nil {
				return nil, err
			}
			return summary, nil
		},
	})
}
