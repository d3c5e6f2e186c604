package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "R0-Agent/internal/errors"
	"R0-Agent/internal/knowledge"
	"R0-Agent/internal/llm"
	"R0-Agent/internal/memory"
	"R0-Agent/internal/tool"
	"R0-Agent/pkg/logger"
)

// TurnRequest 描述一次用户回合。
type TurnRequest struct {
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Prompt    string         `json:"prompt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Step 记录回合内执行过的一个动作及其结果。
type Step struct {
	Tool    string         `json:"tool"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

// TurnResult 汇总一次回合的最终答复与执行轨迹。
type TurnResult struct {
	Prompt     string   `json:"prompt"`
	SessionID  string   `json:"session_id"`
	Thought    string   `json:"thought"`
	Reply      string   `json:"reply"`
	Recalled   []string `json:"recalled,omitempty"`
	Steps      []Step   `json:"steps,omitempty"`
	Iterations int      `json:"iterations"`
	CreatedAt  int64    `json:"created_at"`
}

// state 是编排状态机的节点。状态只在 Execute 的主循环中流转，
// 每次流转前检查取消信号，保证回合只在阶段边界停下。
type state string

const (
	stateAwaitingPolicy state = "awaiting_policy"
	stateDispatching    state = "dispatching"
	stateUpdatingMemory state = "updating_memory"
	stateTerminated     state = "terminated"
)

// turnContext 是随状态机流动的回合上下文。
type turnContext struct {
	prompt    string
	sessionID string

	pendingAction *llm.Action
	lastAction    *llm.Action
	lastResult    any
	lastError     string

	recalled  []string
	rules     []llm.RuleCard
	loopCount int

	thought string
	reply   string
	steps   []Step
}

// Agent 驱动 思考、执行、记笔记 的回合循环，是系统的业务核心。
type Agent struct {
	policy        llm.Client
	tools         *tool.Registry
	memory        memory.Store
	knowledge     knowledge.Provider
	maxIterations int
	recallDepth   int
	policyTimeout time.Duration
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

const (
	defaultMaxIterations = 6
	defaultRecallDepth   = 4
)

// WithMaxIterations 设置单个回合允许执行的动作数量上限。
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithRecallDepth 设置每次思考前回忆的记忆条数。
func WithRecallDepth(depth int) Option {
	return func(a *Agent) {
		a.recallDepth = depth
	}
}

// WithKnowledgeProvider 配置交易规则库，用于在推理前补充上下文。
func WithKnowledgeProvider(provider knowledge.Provider) Option {
	return func(a *Agent) {
		a.knowledge = provider
	}
}

// WithPolicyTimeout 设置单次策略调用的超时时间。
func WithPolicyTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.policyTimeout = 0
			return
		}
		a.policyTimeout = timeout
	}
}

// New 创建一个 Agent。
func New(policy llm.Client, tools *tool.Registry, store memory.Store, opts ...Option) *Agent {
	ag := &Agent{
		policy:        policy,
		tools:         tools,
		memory:        store,
		maxIterations: defaultMaxIterations,
		recallDepth:   defaultRecallDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxIterations <= 0 {
		ag.maxIterations = defaultMaxIterations
	}
	return ag
}

// Execute 运行一个完整回合直到产出最终答复。策略层不可用是致命
// 错误并立即终止回合；工具层的失败只会折叠进上下文供下一轮思考。
func (a *Agent) Execute(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if a.policy == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置策略模型客户端")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "回合请求不能为空")
	}

	tc := &turnContext{
		prompt:    strings.TrimSpace(req.Prompt),
		sessionID: req.SessionID,
	}
	if tc.sessionID == "" {
		tc.sessionID = "default"
	}
	tc.rules = a.collectRules(tc.prompt)

	current := stateAwaitingPolicy
	for current != stateTerminated {
		// 取消只在阶段边界生效，避免打断半途的交易动作。
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		switch current {
		case stateAwaitingPolicy:
			current, err = a.awaitPolicy(ctx, tc)
		case stateDispatching:
			current, err = a.dispatch(ctx, tc)
		case stateUpdatingMemory:
			current, err = a.updateMemory(ctx, tc)
		default:
			err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("未知的编排状态: %s", current))
		}
		if err != nil {
			return nil, err
		}
	}

	result := &TurnResult{
		Prompt:     tc.prompt,
		SessionID:  tc.sessionID,
		Thought:    tc.thought,
		Reply:      tc.reply,
		Recalled:   tc.recalled,
		Steps:      tc.steps,
		Iterations: tc.loopCount,
		CreatedAt:  time.Now().Unix(),
	}
	a.rememberFinal(ctx, tc)
	return result, nil
}

// awaitPolicy 回忆相关记忆并征询策略模型的下一步动作。
func (a *Agent) awaitPolicy(ctx context.Context, tc *turnContext) (state, error) {
	tc.recalled = a.recall(ctx, tc)

	policyCtx := ctx
	if a.policyTimeout > 0 {
		var cancel context.CancelFunc
		policyCtx, cancel = context.WithTimeout(ctx, a.policyTimeout)
		defer cancel()
	}

	decision, err := a.policy.Decide(policyCtx, llm.Request{
		Prompt:     tc.prompt,
		Recalled:   tc.recalled,
		Rules:      tc.rules,
		LastAction: tc.lastAction,
		LastResult: tc.lastResult,
		LastError:  tc.lastError,
		LoopCount:  tc.loopCount,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return stateTerminated, xerrors.Wrap(xerrors.CodeTimeout, err, "策略推理超时")
		}
		return stateTerminated, xerrors.Wrap(xerrors.CodePolicyUnavailable, err, "策略推理失败")
	}

	tc.thought = decision.Thought

	// 没有动作即最终答复。
	if decision.Action == nil {
		tc.reply = decision.Reply
		return stateTerminated, nil
	}

	// 连续两次给出同名同参数的动作视为模型在原地打转，
	// 把当前的思考当作最终答复收尾。
	if sameAction(decision.Action, tc.lastAction) {
		logger.L().Warn("策略重复上一动作，提前收尾",
			slog.String("tool", decision.Action.Tool),
			slog.Int("loop_count", tc.loopCount),
		)
		tc.reply = finalText(decision)
		return stateTerminated, nil
	}

	// 动作数量达到上限后不再执行新动作。
	if tc.loopCount >= a.maxIterations {
		logger.L().Warn("回合达到动作上限，强制收尾",
			slog.Int("max_iterations", a.maxIterations),
		)
		tc.reply = finalText(decision)
		if tc.reply == "" {
			tc.reply = fmt.Sprintf("已达单回合动作上限（%d 次），基于现有信息收尾。", a.maxIterations)
		}
		return stateTerminated, nil
	}

	tc.pendingAction = decision.Action
	return stateDispatching, nil
}

// dispatch 执行待定动作并把结果折叠进回合上下文。
func (a *Agent) dispatch(ctx context.Context, tc *turnContext) (state, error) {
	action := tc.pendingAction
	tc.pendingAction = nil
	tc.loopCount++

	outcome := a.tools.Dispatch(ctx, *action)
	step := Step{Tool: action.Tool, Args: action.Args, Outcome: string(outcome.Kind)}

	if outcome.OK() {
		tc.lastResult = outcome.Payload
		tc.lastError = ""
	} else {
		tc.lastResult = nil
		tc.lastError = outcome.Describe()
		step.Error = tc.lastError
	}
	tc.lastAction = action
	tc.steps = append(tc.steps, step)

	logger.Audit().Info("动作执行完成",
		slog.String("session_id", tc.sessionID),
		slog.String("tool", action.Tool),
		slog.String("outcome", string(outcome.Kind)),
		slog.Int("loop_count", tc.loopCount),
	)
	return stateUpdatingMemory, nil
}

// updateMemory 把本轮动作写入长期记忆后回到思考阶段。
// 记忆失败不终止回合，只降级为日志告警。
func (a *Agent) updateMemory(ctx context.Context, tc *turnContext) (state, error) {
	if a.memory != nil && tc.lastAction != nil {
		note := noteFor(tc)
		if err := a.memory.Remember(ctx, tc.sessionID, note); err != nil {
			logger.L().Warn("写入回合记忆失败", slog.Any("error", err))
		}
	}
	return stateAwaitingPolicy, nil
}

// recall 拉取与当前请求相关的历史记忆。
func (a *Agent) recall(ctx context.Context, tc *turnContext) []string {
	if a.memory == nil || a.recallDepth <= 0 {
		return nil
	}
	recalled, err := a.memory.Recall(ctx, tc.sessionID, tc.prompt, a.recallDepth)
	if err != nil {
		logger.L().Warn("回忆历史记忆失败", slog.Any("error", err))
		return nil
	}
	return recalled
}

// collectRules 从规则库中检索与请求相关的交易纪律。
func (a *Agent) collectRules(prompt string) []llm.RuleCard {
	if a.knowledge == nil {
		return nil
	}
	snippets := a.knowledge.Query(prompt)
	cards := make([]llm.RuleCard, 0, len(snippets))
	for _, snippet := range snippets {
		if strings.TrimSpace(snippet.Title) == "" && strings.TrimSpace(snippet.Content) == "" {
			continue
		}
		cards = append(cards, llm.RuleCard{Title: snippet.Title, Content: snippet.Content})
	}
	return cards
}

// rememberFinal 在回合收尾时写入一条总结性记忆。
func (a *Agent) rememberFinal(ctx context.Context, tc *turnContext) {
	if a.memory == nil || strings.TrimSpace(tc.reply) == "" {
		return
	}
	note := fmt.Sprintf("请求: %s\n答复: %s", tc.prompt, tc.reply)
	if err := a.memory.Remember(ctx, tc.sessionID, note); err != nil {
		logger.L().Warn("写入回合总结失败", slog.Any("error", err))
	}
}

// noteFor 把最近一次动作压成一条记忆文本。
func noteFor(tc *turnContext) string {
	args := normalizeArgs(tc.lastAction.Args)
	if tc.lastError != "" {
		return fmt.Sprintf("动作 %s(%s) 失败: %s", tc.lastAction.Tool, args, tc.lastError)
	}
	result, err := json.Marshal(tc.lastResult)
	if err != nil {
		result = []byte(fmt.Sprintf("%v", tc.lastResult))
	}
	return fmt.Sprintf("动作 %s(%s) 结果: %s", tc.lastAction.Tool, args, result)
}

// finalText 选取决策中最适合作为最终答复的文字。
func finalText(decision *llm.Decision) string {
	if strings.TrimSpace(decision.Reply) != "" {
		return decision.Reply
	}
	return decision.Thought
}

// sameAction 判断两个动作在名称与归一化参数上是否一致。
func sameAction(next, prev *llm.Action) bool {
	if next == nil || prev == nil {
		return false
	}
	if next.Tool != prev.Tool {
		return false
	}
	return normalizeArgs(next.Args) == normalizeArgs(prev.Args)
}

// normalizeArgs 输出键序稳定的参数文本，供等价比较与记忆记录。
func normalizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(encoded)
}
