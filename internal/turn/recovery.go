package turn

import "context"

// RecoveryHandler 定义了在回合执行失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 尝试根据失败原因进行补偿或降级。
	// 返回的 ExecutionResult 将作为降级结果写入回合；若返回 nil 则继续按照失败流程处理。
	Recover(ctx context.Context, t *Turn, cause error) (*ExecutionResult, error)
}
