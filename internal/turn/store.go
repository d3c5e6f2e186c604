package turn

import (
	"context"

	xerrors "R0-Agent/internal/errors"
)

// Store 抽象了回合状态的持久化接口。
type Store interface {
	Create(ctx context.Context, t *Turn) error
	Get(ctx context.Context, id string) (*Turn, error)
	Claim(ctx context.Context, id string) (*Turn, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Turn, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}
