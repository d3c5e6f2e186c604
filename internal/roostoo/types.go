package roostoo

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "R0-Agent/internal/errors"
)

// Side 表示订单方向。
type Side string

// Kind 表示订单类型。
type Kind string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
)

// OrderIntent 是一笔经过校验、可直接签名下单的交易意图。
// 非法组合在构造阶段即失败，不会触发任何网络调用。
type OrderIntent struct {
	Pair     string
	Side     Side
	Kind     Kind
	Quantity string
	Price    string
}

// NewOrderIntent 归一化并校验下单参数。side 与 kind 大小写不敏感；
// LIMIT 订单必须携带 price，MARKET 订单不允许携带。
func NewOrderIntent(pair, side, kind, quantity, price string) (OrderIntent, error) {
	intent := OrderIntent{
		Pair:     strings.TrimSpace(pair),
		Side:     Side(strings.ToUpper(strings.TrimSpace(side))),
		Kind:     Kind(strings.ToUpper(strings.TrimSpace(kind))),
		Quantity: strings.TrimSpace(quantity),
		Price:    strings.TrimSpace(price),
	}

	if intent.Pair == "" {
		return OrderIntent{}, xerrors.New(xerrors.CodeValidationFailed, "pair 不能为空")
	}
	if intent.Side != SideBuy && intent.Side != SideSell {
		return OrderIntent{}, xerrors.New(xerrors.CodeValidationFailed,
			fmt.Sprintf("side 必须是 BUY 或 SELL，收到 %q", side))
	}
	if intent.Kind != KindMarket && intent.Kind != KindLimit {
		return OrderIntent{}, xerrors.New(xerrors.CodeValidationFailed,
			fmt.Sprintf("type 必须是 MARKET 或 LIMIT，收到 %q", kind))
	}
	if err := requirePositive("quantity", intent.Quantity); err != nil {
		return OrderIntent{}, err
	}
	if intent.Kind == KindLimit {
		if intent.Price == "" {
			return OrderIntent{}, xerrors.New(xerrors.CodeValidationFailed, "LIMIT 订单必须提供 price")
		}
		if err := requirePositive("price", intent.Price); err != nil {
			return OrderIntent{}, err
		}
	} else {
		intent.Price = ""
	}
	return intent, nil
}

func requirePositive(field, value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return xerrors.New(xerrors.CodeValidationFailed,
			fmt.Sprintf("%s 不是合法的数字: %q", field, value))
	}
	if d.Sign() <= 0 {
		return xerrors.New(xerrors.CodeValidationFailed,
			fmt.Sprintf("%s 必须大于 0", field))
	}
	return nil
}

// params 返回进入签名载荷的参数集合。
func (o OrderIntent) params() map[string]string {
	p := map[string]string{
		"pair":     o.Pair,
		"side":     string(o.Side),
		"type":     string(o.Kind),
		"quantity": o.Quantity,
	}
	if o.Kind == KindLimit {
		p["price"] = o.Price
	}
	return p
}

// QueryFilter 描述订单查询条件。order_id 与 pair 过滤互斥。
type QueryFilter struct {
	OrderID     string
	Pair        string
	Offset      int
	Limit       int
	PendingOnly *bool
}

func (f QueryFilter) validate() error {
	if f.OrderID != "" && f.Pair != "" {
		return xerrors.New(xerrors.CodeValidationFailed, "order_id 与 pair 过滤条件互斥，只能二选一")
	}
	return nil
}

func (f QueryFilter) params() map[string]string {
	p := map[string]string{}
	if f.OrderID != "" {
		p["order_id"] = f.OrderID
	}
	if f.Pair != "" {
		p["pair"] = f.Pair
	}
	if f.Offset > 0 {
		p["offset"] = fmt.Sprintf("%d", f.Offset)
	}
	if f.Limit > 0 {
		p["limit"] = fmt.Sprintf("%d", f.Limit)
	}
	if f.PendingOnly != nil {
		p["pending_only"] = fmt.Sprintf("%t", *f.PendingOnly)
	}
	return p
}

// CancelFilter 描述撤单条件。order_id 与 pair 互斥；两者皆空表示撤销全部挂单。
type CancelFilter struct {
	OrderID string
	Pair    string
}

func (f CancelFilter) validate() error {
	if f.OrderID != "" && f.Pair != "" {
		return xerrors.New(xerrors.CodeValidationFailed, "order_id 与 pair 互斥，两者皆空才表示全部撤单")
	}
	return nil
}

func (f CancelFilter) params() map[string]string {
	p := map[string]string{}
	if f.OrderID != "" {
		p["order_id"] = f.OrderID
	}
	if f.Pair != "" {
		p["pair"] = f.Pair
	}
	return p
}

// HTTPError 表示传输层或 HTTP 状态层面的失败（非 2xx）。
type HTTPError struct {
	Status int
	Body   any
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("exchange http %d: %v", e.Status, e.Body)
}

// RejectError 表示交易所业务层面的拒绝（HTTP 200 但 Success=false 或 ErrMsg 非空）。
// 这类失败不应盲目重试，应转述给最终用户。
type RejectError struct {
	Message string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("exchange reject: %s", e.Message)
}
