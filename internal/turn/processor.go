package turn

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"R0-Agent/internal/agent"
	xerrors "R0-Agent/internal/errors"
	"R0-Agent/internal/observability/alerting"
	"R0-Agent/internal/observability/metrics"
	"R0-Agent/pkg/logger"
)

// Executor 定义了处理器所需的 Agent 能力。
type Executor interface {
	Execute(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
}

// Processor 负责从队列消费回合并交给 Agent 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置失败补偿策略。
func WithRecoveryHandler(handler RecoveryHandler) ProcessorOption {
	return func(p *Processor) {
		p.recovery = handler
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动回合处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置回合消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, turnID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	t, err := p.store.Claim(ctx, turnID)
	if err != nil {
		if stdErrors.Is(err, ErrTurnNotFound) || stdErrors.Is(err, ErrTurnCompleted) || stdErrors.Is(err, ErrTurnExhausted) {
			p.logDebug("跳过回合", slog.String("turn_id", turnID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取回合失败", slog.Any("error", err), slog.String("turn_id", turnID))
		p.emitAlert(ctx, &Turn{ID: turnID}, CodeTurnProcessing, err, "claim")
		return err
	}

	result, execErr := p.executor.Execute(ctx, agent.TurnRequest{
		ID:        t.ID,
		SessionID: t.SessionID,
		Prompt:    t.Prompt,
		Metadata:  cloneMetadata(t.Metadata),
	})
	if execErr != nil {
		metrics.ObserveTurn("failed")
		return p.handleExecutionFailure(ctx, t, execErr)
	}

	var record ExecutionResult
	if result != nil {
		record = ExecutionResult{
			Thought:    result.Thought,
			Reply:      result.Reply,
			Recalled:   result.Recalled,
			Steps:      result.Steps,
			Iterations: result.Iterations,
		}
	}
	if err := p.store.MarkSucceeded(ctx, t.ID, record); err != nil {
		logger.L().Error("标记回合成功状态失败", slog.Any("error", err), slog.String("turn_id", t.ID))
		if storeErr := p.store.MarkFailed(ctx, t.ID, CodeTurnProcessing, err.Error(), false); storeErr != nil {
			logger.L().Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("turn_id", t.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, t.ID); pubErr != nil {
			return xerrors.Wrap(CodeTurnPublish, pubErr, fmt.Sprintf("回合 %s 在标记成功失败后重投失败", t.ID))
		}
		logger.Audit().Warn("回合标记成功失败后重试",
			slog.String("turn_id", t.ID),
			slog.String("prompt", t.Prompt),
			slog.String("error", err.Error()),
		)
		return nil
	}
	metrics.ObserveTurn("succeeded")
	logger.Audit().Info("回合执行成功",
		slog.String("turn_id", t.ID),
		slog.String("session_id", t.SessionID),
		slog.Int("iterations", record.Iterations),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, t *Turn, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTurnProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := t.Attempts >= t.MaxRetries || !retryable

	if !retryable && p.recovery != nil {
		if fallback, recErr := p.recovery.Recover(ctx, t, execErr); recErr != nil {
			logger.L().Error("执行补偿逻辑失败",
				slog.Any("error", recErr),
				slog.String("turn_id", t.ID))
			p.emitAlert(ctx, t, code, recErr, "compensate")
		} else if fallback != nil {
			if fallback.Reply == "" {
				fallback.Reply = fmt.Sprintf("降级处理: %v", execErr)
			}
			if err := p.store.MarkSucceeded(ctx, t.ID, *fallback); err != nil {
				logger.L().Error("记录降级结果失败", slog.Any("error", err), slog.String("turn_id", t.ID))
				if storeErr := p.store.MarkFailed(ctx, t.ID, code, err.Error(), false); storeErr != nil {
					logger.L().Error("降级失败后的回写失败状态出错", slog.Any("error", storeErr), slog.String("turn_id", t.ID))
					return storeErr
				}
				if pubErr := p.producer.Publish(ctx, t.ID); pubErr != nil {
					return xerrors.Wrap(CodeTurnPublish, pubErr, fmt.Sprintf("回合 %s 在降级失败后重投失败", t.ID))
				}
				return nil
			}
			logger.Audit().Warn("回合降级完成",
				slog.String("turn_id", t.ID),
				slog.String("prompt", t.Prompt),
				slog.String("reply", fallback.Reply),
			)
			p.emitAlert(ctx, t, code, execErr, "degraded")
			return nil
		}
	}

	if storeErr := p.store.MarkFailed(ctx, t.ID, code, execErr.Error(), terminal); storeErr != nil {
		logger.L().Error("标记回合失败状态出错", slog.Any("error", storeErr), slog.String("turn_id", t.ID))
		return storeErr
	}
	logger.Audit().Warn("回合执行失败",
		slog.String("turn_id", t.ID),
		slog.String("session_id", t.SessionID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", t.Attempts),
		slog.Int("max_retries", t.MaxRetries),
	)

	stage := "retry"
	if terminal {
		stage = "terminal"
	} else if !retryable {
		stage = "non_retryable"
	}
	p.emitAlert(ctx, t, code, execErr, stage)

	if retryable && !terminal {
		if pubErr := p.producer.Publish(ctx, t.ID); pubErr != nil {
			return xerrors.Wrap(CodeTurnPublish, pubErr, fmt.Sprintf("回合 %s 重投失败", t.ID))
		}
		p.logDebug("回合已重新排队", slog.String("turn_id", t.ID), slog.Int("attempts", t.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, t *Turn, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || t == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TurnID:     t.ID,
		Attempts:   t.Attempts,
		MaxRetries: t.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("turn_id", t.ID),
			slog.String("stage", stage),
		)
	}
}
