package llm

import "context"

// Action 表示策略模型要求执行的一次工具调用。
// 一旦由策略步产出即视为不可变。
type Action struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Request 描述发送给策略模型的回合上下文。
type Request struct {
	Prompt     string
	Recalled   []string
	Rules      []RuleCard
	LastAction *Action
	LastResult any
	LastError  string
	LoopCount  int
}

// Decision 是策略模型推理得到的结构化输出。
// Action 与最终答复互斥：Action 非空表示还需执行工具，
// 否则 Reply 即为面向用户的最终回答。
type Decision struct {
	Thought string
	Reply   string
	Action  *Action
}

// RuleCard 表示注入提示词的一条交易规则。
type RuleCard struct {
	Title   string
	Content string
}

// Client 定义了调用策略模型的统一接口。
type Client interface {
	Decide(ctx context.Context, req Request) (*Decision, error)
}
