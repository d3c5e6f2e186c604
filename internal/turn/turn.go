package turn

import (
	stdErrors "errors"

	"R0-Agent/internal/agent"
	xerrors "R0-Agent/internal/errors"
)

// Status 表示回合在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ExecutionResult 保存一次回合执行的结果。
type ExecutionResult struct {
	Thought    string       `json:"thought"`
	Reply      string       `json:"reply"`
	Recalled   []string     `json:"recalled,omitempty"`
	Steps      []agent.Step `json:"steps,omitempty"`
	Iterations int          `json:"iterations"`
}

// Turn 描述了排队执行的智能体回合。
type Turn struct {
	ID         string           `json:"id"`
	Prompt     string           `json:"prompt"`
	SessionID  string           `json:"session_id"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

var (
	// ErrTurnNotFound 表示指定的回合不存在。
	ErrTurnNotFound = xerrors.New(CodeTurnNotFound, "turn not found")
	// ErrTurnConflict 表示回合在当前状态下无法进行所请求的操作。
	ErrTurnConflict = xerrors.New(CodeTurnConflict, "turn conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTurnCompleted 表示回合已经成功完成。
	ErrTurnCompleted = xerrors.New(CodeTurnCompleted, "turn already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTurnExhausted 表示回合的重试次数已经耗尽。
	ErrTurnExhausted = xerrors.New(CodeTurnExhausted, "turn retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeTurnNotFound   xerrors.Code = "TURN_NOT_FOUND"
	CodeTurnConflict   xerrors.Code = "TURN_CONFLICT"
	CodeTurnCompleted  xerrors.Code = "TURN_COMPLETED"
	CodeTurnExhausted  xerrors.Code = "TURN_RETRIES_EXHAUSTED"
	CodeTurnValidation xerrors.Code = "TURN_VALIDATION_FAILED"
	CodeTurnPublish    xerrors.Code = "TURN_PUBLISH_FAILED"
	CodeTurnProcessing xerrors.Code = "TURN_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTurnNotFound, xerrors.Attributes{
		Message:   "turn not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTurnConflict, xerrors.Attributes{
		Message:   "turn conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTurnCompleted, xerrors.Attributes{
		Message:   "turn already completed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTurnExhausted, xerrors.Attributes{
		Message:   "turn retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTurnValidation, xerrors.Attributes{
		Message:   "turn validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTurnPublish, xerrors.Attributes{
		Message:   "failed to publish turn",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTurnProcessing, xerrors.Attributes{
		Message:   "turn execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsTurnError 判断错误是否为统一回合错误。
func IsTurnError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrTurnNotFound) {
		return target == CodeTurnNotFound
	}
	if stdErrors.Is(err, ErrTurnConflict) {
		return target == CodeTurnConflict
	}
	if stdErrors.Is(err, ErrTurnCompleted) {
		return target == CodeTurnCompleted
	}
	if stdErrors.Is(err, ErrTurnExhausted) {
		return target == CodeTurnExhausted
	}
	return false
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}

// IsValidStatus 检查给定的回合状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func resultPresent(result *ExecutionResult) bool {
	if result == nil {
		return false
	}
	return result.Thought != "" || result.Reply != "" || len(result.Steps) > 0 || len(result.Recalled) > 0
}
