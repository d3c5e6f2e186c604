package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"R0-Agent/internal/llm"
)

const systemPrompt = "" +
	"You are R0, an autonomous trader on the Roostoo mock exchange. " +
	"Decide at most ONE action per turn. " +
	"To call a tool respond with a compact JSON object: " +
	"{\"thought\": string, \"tool\": string, \"args\": object}. " +
	"If no further action is needed respond with " +
	"{\"thought\": string, \"tool\": \"none\", \"reply\": string} " +
	"where reply is the final answer for the user. " +
	"Never repeat the action you just executed."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## 当前请求\n")
	builder.WriteString(strings.TrimSpace(req.Prompt))
	builder.WriteString("\n")

	if len(req.Rules) > 0 {
		builder.WriteString("\n## 交易规则\n")
		for idx, rule := range req.Rules {
			builder.WriteString(fmt.Sprintf("[%d] %s: %s\n",
				idx+1,
				strings.TrimSpace(rule.Title),
				truncate(rule.Content),
			))
			if idx >= 4 {
				break
			}
		}
	}

	if len(req.Recalled) > 0 {
		builder.WriteString("\n## 相关记忆（从旧到新）\n")
		for idx, snippet := range req.Recalled {
			builder.WriteString(fmt.Sprintf("[%d] %s\n", idx+1, truncate(snippet)))
		}
	}

	if req.LastAction != nil {
		builder.WriteString("\n## 上一步动作\n")
		builder.WriteString(fmt.Sprintf("工具: %s\n", req.LastAction.Tool))
		if len(req.LastAction.Args) > 0 {
			if encoded, err := json.Marshal(req.LastAction.Args); err == nil {
				builder.WriteString(fmt.Sprintf("参数: %s\n", encoded))
			}
		}
		if req.LastError != "" {
			builder.WriteString(fmt.Sprintf("执行失败: %s\n", truncate(req.LastError)))
		} else if req.LastResult != nil {
			if encoded, err := json.Marshal(req.LastResult); err == nil {
				builder.WriteString(fmt.Sprintf("执行结果: %s\n", truncate(string(encoded))))
			}
		}
	}

	builder.WriteString(fmt.Sprintf("\n已执行动作数: %d\n", req.LoopCount))
	builder.WriteString("请给出下一步：继续调用一个工具，或用 tool \"none\" 返回最终回答。")
	return builder.String()
}

func truncate(text string) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > 400 {
		return string([]rune(text)[:400]) + "..."
	}
	return text
}
