package tool

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"sync"

	xerrors "R0-Agent/internal/errors"
	"R0-Agent/internal/llm"
	"R0-Agent/internal/roostoo"
)

// OutcomeKind 标记一次调度结果的类别。
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeHTTPFailure    OutcomeKind = "http_failure"
	OutcomeExchangeReject OutcomeKind = "exchange_reject"
	OutcomeInvalid        OutcomeKind = "invalid"
	OutcomeUnknownTool    OutcomeKind = "unknown_tool"
)

// Outcome 是一次调度的带标签结果。任一时刻只有一个标签生效：
// 成功时携带载荷，失败时携带状态码与描述，二者不会同时出现。
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Payload any         `json:"payload,omitempty"`
	Status  int         `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
}

// OK 判断调度是否成功。
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Describe 返回失败结果的文字描述，供回灌给策略模型。
func (o Outcome) Describe() string {
	switch o.Kind {
	case OutcomeSuccess:
		return ""
	case OutcomeHTTPFailure:
		return fmt.Sprintf("交易所 HTTP 失败（状态 %d）: %s", o.Status, o.Message)
	case OutcomeExchangeReject:
		return fmt.Sprintf("交易所拒绝: %s", o.Message)
	case OutcomeUnknownTool:
		return fmt.Sprintf("未注册的工具: %s", o.Message)
	default:
		return fmt.Sprintf("参数校验失败: %s", o.Message)
	}
}

// Capability 是注册到调度器的一个工具：先校验并归一化参数，再执行。
// 新增工具只需实现该接口并注册，编排循环无需改动。
type Capability interface {
	Name() string
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// capabilityFunc 用函数实现 Capability，工具实现的常用形态。
type capabilityFunc struct {
	name string
	run  func(ctx context.Context, args map[string]any) (any, error)
}

func (c capabilityFunc) Name() string {
	return c.name
}

func (c capabilityFunc) Execute(ctx context.Context, args map[string]any) (any, error) {
	return c.run(ctx, args)
}

// Registry 维护工具名到能力的映射，并向编排循环暴露唯一的
// Dispatch 入口。注册阶段之后注册表是只读的，可被并发回合共享。
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Capability
}

// NewRegistry 创建空的工具注册表。
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Capability)}
}

// Register 登记一个工具，重名时后注册者覆盖先注册者。
func (r *Registry) Register(capability Capability) {
	if capability == nil || capability.Name() == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[capability.Name()] = capability
}

// Names 返回已注册工具名，按字典序排列。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch 执行一次动作并返回归类结果。任何工具层或客户端层的
// 错误都在这里被吸收为 Outcome，不会以原始 error 的形式穿透出去。
func (r *Registry) Dispatch(ctx context.Context, action llm.Action) Outcome {
	r.mu.RLock()
	capability, ok := r.tools[action.Tool]
	r.mu.RUnlock()
	if !ok {
		return Outcome{Kind: OutcomeUnknownTool, Message: action.Tool}
	}

	payload, err := capability.Execute(ctx, action.Args)
	if err != nil {
		return classify(err)
	}
	return Outcome{Kind: OutcomeSuccess, Payload: payload}
}

// classify 把客户端层错误翻译为带标签的调度结果。
func classify(err error) Outcome {
	var httpErr *roostoo.HTTPError
	if stdErrors.As(err, &httpErr) {
		return Outcome{
			Kind:    OutcomeHTTPFailure,
			Status:  httpErr.Status,
			Message: fmt.Sprintf("%v", httpErr.Body),
		}
	}

	var rejectErr *roostoo.RejectError
	if stdErrors.As(err, &rejectErr) {
		return Outcome{Kind: OutcomeExchangeReject, Message: rejectErr.Message}
	}

	if e, ok := xerrors.From(err); ok && e.Code() == xerrors.CodeUnknownTool {
		return Outcome{Kind: OutcomeUnknownTool, Message: e.Message()}
	}

	return Outcome{Kind: OutcomeInvalid, Message: err.Error()}
}
