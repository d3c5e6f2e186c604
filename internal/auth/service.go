package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	loggerpkg "R0-Agent/pkg/logger"
)

// Service 负责从请求中解析并校验调用方身份。
type Service struct {
	mode  Mode
	store Store
	audit *slog.Logger
}

// ServiceOption 配置 Service 的可选依赖。
type ServiceOption func(*Service)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// NewService 创建认证服务。store 为空时服务退化为直通模式。
func NewService(mode Mode, store Store, opts ...ServiceOption) *Service {
	if store == nil {
		mode = ModeDisabled
	}
	s := &Service{mode: mode, store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Enabled 报告认证是否生效。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 从 HTTP 请求中提取 API key 并解析主体。
// 支持 X-API-Key 头与 Authorization: Bearer 两种携带方式。
func (s *Service) AuthenticateRequest(ctx context.Context, r *http.Request) (*Subject, error) {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if after, ok := strings.CutPrefix(authz, "Bearer "); ok {
			key = strings.TrimSpace(after)
		}
	}
	if key == "" {
		return nil, ErrMissingKey
	}

	subject, err := s.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject.normalise()
	return subject, nil
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}
