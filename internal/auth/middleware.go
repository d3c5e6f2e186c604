package auth

import (
	"errors"
	"net/http"
	"time"
)

// MiddlewareConfig 定义中间件的鉴权与审计行为。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法声明所需权限，空切片表示仅需认证。
	RequiredPermissions map[string][]string
	// AuditEvent 为本路由的审计事件名，空字符串则使用默认值。
	AuditEvent string
}

// auditWriter 捕获响应状态码供审计记录使用。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware 返回包装给定路由的认证中间件。
// 认证关闭时直接放行；认证失败返回 401，权限不足返回 403。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	event := cfg.AuditEvent
	if event == "" {
		event = "api_request"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			started := time.Now()
			audit := s.auditLogger()

			subject, err := s.AuthenticateRequest(r.Context(), r)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, ErrSubjectRevoked) {
					status = http.StatusForbidden
				}
				audit.Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"reason", err.Error(),
				)
				http.Error(w, err.Error(), status)
				return
			}

			if perms := cfg.RequiredPermissions[r.Method]; len(perms) > 0 {
				if err := subject.Authorize(perms...); err != nil {
					audit.Warn("permission_denied",
						"path", r.URL.Path,
						"method", r.Method,
						"subject", subject.Name,
						"required", perms,
					)
					http.Error(w, err.Error(), http.StatusForbidden)
					return
				}
			}

			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))

			audit.Info(event,
				"path", r.URL.Path,
				"method", r.Method,
				"subject", subject.Name,
				"status", aw.status,
				"duration_ms", time.Since(started).Milliseconds(),
			)
		})
	}
}
