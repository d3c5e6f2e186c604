package turn

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"R0-Agent/internal/agent"
	xerrors "R0-Agent/internal/errors"
	"R0-Agent/pkg/logger"
)

// Service 负责回合的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造回合服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 创建一个新的回合并推送到队列。携带已知 ID 的重复提交
// 是幂等的，直接返回已有回合。
func (s *Service) Submit(ctx context.Context, req agent.TurnRequest) (*Turn, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(CodeTurnValidation, "回合请求不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "回合服务未初始化")
	}

	turnID := strings.TrimSpace(req.ID)
	if turnID != "" {
		existing, err := s.store.Get(ctx, turnID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTurnNotFound) {
			return nil, err
		}
	} else {
		turnID = uuid.NewString()
	}

	t := &Turn{
		ID:         turnID,
		Prompt:     req.Prompt,
		SessionID:  req.SessionID,
		Metadata:   cloneMetadata(req.Metadata),
		Status:     StatusPending,
		Attempts:   0,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, t); err != nil {
		if stdErrors.Is(err, ErrTurnConflict) {
			existing, getErr := s.store.Get(ctx, turnID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrTurnNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, turnID); err != nil {
		logger.L().Error("回合入队失败", slog.Any("error", err), slog.String("turn_id", turnID))
		wrapped := xerrors.Wrap(CodeTurnPublish, err, "发布回合到队列失败")
		_ = s.store.MarkFailed(ctx, turnID, CodeTurnPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("回合入队成功",
		slog.String("turn_id", turnID),
		slog.String("session_id", t.SessionID),
		slog.String("prompt", t.Prompt),
		slog.Int("max_retries", t.MaxRetries),
	)
	return t, nil
}

// Get 返回指定回合的状态。
func (s *Service) Get(ctx context.Context, id string) (*Turn, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "回合存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的回合列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Turn, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "回合存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.List(ctx, options)
}

// Stats 返回符合过滤条件的回合统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "回合存储未初始化")
	}
	options := buildListOptions(opts)
	return s.store.Stats(ctx, options)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 在指定超时时间内轮询回合状态。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Turn, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if t.Status == StatusSucceeded || t.Status == StatusFailed {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
