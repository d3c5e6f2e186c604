package openai

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"R0-Agent/internal/llm"
)

// parseDecision 从模型输出中解析结构化决策。模型偶尔会把 JSON 包在
// 围栏或说明文字里，这里尽力提取；完全不含合法 JSON 时整段内容
// 即为最终回答。
func parseDecision(content string) *llm.Decision {
	blob := extractJSON(content)
	if blob == "" {
		return &llm.Decision{Reply: content}
	}

	thought := gjson.Get(blob, "thought").String()
	reply := strings.TrimSpace(gjson.Get(blob, "reply").String())
	toolName := strings.TrimSpace(gjson.Get(blob, "tool").String())

	if toolName == "" || strings.EqualFold(toolName, "none") {
		if reply == "" {
			reply = content
		}
		return &llm.Decision{Thought: thought, Reply: reply}
	}

	return &llm.Decision{
		Thought: thought,
		Reply:   reply,
		Action: &llm.Action{
			Tool: toolName,
			Args: decodeArgs(gjson.Get(blob, "args")),
		},
	}
}

// extractJSON 去掉 Markdown 围栏后截取首个 '{' 到末尾 '}' 的片段，
// 校验合法性，失败则返回空串。
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	candidate := content[start : end+1]
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

// decodeArgs 解析工具参数。模型可能直接给出对象，也可能给出
// 预序列化的 JSON 文本，两种形式都要接受。
func decodeArgs(value gjson.Result) map[string]any {
	var raw string
	switch {
	case value.IsObject():
		raw = value.Raw
	case value.Type == gjson.String:
		raw = value.String()
	default:
		return nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	return args
}
